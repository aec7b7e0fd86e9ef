package cfg

type (
	StmtFlags uint8

	Stmt struct {
		Root *Node

		// Pos is the IL offset the statement was imported from, used as debug info.
		Pos int

		Flags StmtFlags
	}
)

const (
	StmtHasCall StmtFlags = 1 << iota
	StmtSideEffects
)

func NewStmt(root *Node, pos int) *Stmt {
	s := &Stmt{Root: root, Pos: pos}
	s.UpdateFlags()

	return s
}

// UpdateFlags recomputes the cached side effect summary after the tree was edited.
func (s *Stmt) UpdateFlags() {
	s.Flags = 0

	if s.Root.HasCall() {
		s.Flags |= StmtHasCall
	}

	if s.Root.HasSideEffects() {
		s.Flags |= StmtSideEffects
	}
}

func (s *Stmt) HasCall() bool {
	return s.Flags&StmtHasCall != 0
}

func (s *Stmt) IsTerminator() bool {
	return s.Root.Op == OpJumpTrue || s.Root.Op == OpReturn
}

// Walk visits slots of the tree in evaluation order: operands left to right, then the node.
// Returning false stops the walk.
func (s *Stmt) Walk(f func(use **Node) bool) bool {
	return walk(&s.Root, f)
}

func walk(use **Node, f func(use **Node) bool) bool {
	n := *use

	for i := range n.Args {
		if !walk(&n.Args[i], f) {
			return false
		}
	}

	return f(use)
}

// Path returns the slots from the statement root down to target, inclusive.
func (s *Stmt) Path(target *Node) []**Node {
	var path []**Node

	var find func(use **Node) bool
	find = func(use **Node) bool {
		path = append(path, use)

		if *use == target {
			return true
		}

		for i := range (*use).Args {
			if find(&(*use).Args[i]) {
				return true
			}
		}

		path = path[:len(path)-1]

		return false
	}

	if !find(&s.Root) {
		return nil
	}

	return path
}
