package cfg

import "github.com/slowlang/slowjit/compiler/tp"

type (
	// Split is the outcome of SplitBeforeNode.
	Split struct {
		// Prev is the original block, now ending right before the split statement.
		Prev *Block
		// Next is the continuation holding the split statement and everything after it.
		Next *Block
		// Use is the slot in the split statement holding the target node.
		Use **Node
		// Spilled are statements added to Prev to keep operands evaluated before the target.
		Spilled []*Stmt
	}
)

// SplitAfter moves statements following s (all of b if s is nil) to a new block
// placed after b. The new block takes over b's terminator, successors, weight,
// loop and region; b falls through into it.
func (g *Graph) SplitAfter(b *Block, s *Stmt) *Block {
	i := 0
	if s != nil {
		i = b.StmtIndex(s) + 1
		if i == 0 {
			panic("statement is not in block")
		}
	}

	next := g.NewBlockAfter(b.Kind, b)
	next.Jump = b.Jump
	next.Flags = b.Flags &^ FlagInternal
	next.InheritWeight(b)

	next.Stmts = append(next.Stmts, b.Stmts[i:]...)
	b.Stmts = b.Stmts[:i:i]

	// successors were computed with next in the layout, so the fall through
	// of b is now next and the old one is next's
	for _, succ := range g.Succs(next) {
		g.ReplacePred(g.Blocks[succ], b, next)
	}

	b.Kind = KindNone
	b.Jump = NoBlock

	g.AddPred(next, b)

	return next
}

// SplitBeforeNode splits b right before target is evaluated.
// Operands of s evaluated before target that could observe or be affected by it
// are spilled into temps assigned at the end of the prefix, so every side effect
// still happens exactly once and in the original order.
func (g *Graph) SplitBeforeNode(b *Block, s *Stmt, target *Node) Split {
	path := s.Path(target)
	if path == nil {
		panic("target is not in statement")
	}

	r := Split{Prev: b}

	for lvl := 0; lvl+1 < len(path); lvl++ {
		parent := *path[lvl]
		child := path[lvl+1]

		for i := range parent.Args {
			if &parent.Args[i] == child {
				break
			}

			x := parent.Args[i]
			if x.IsInvariant() {
				continue
			}

			ss, read := g.spill(x, s.Pos, "split operand")
			b.InsertBefore(s, ss)
			parent.Args[i] = read

			r.Spilled = append(r.Spilled, ss)
		}
	}

	r.Use = path[len(path)-1]

	prev := (*Stmt)(nil)
	if i := b.StmtIndex(s); i > 0 {
		prev = b.Stmts[i-1]
	}

	r.Next = g.SplitAfter(b, prev)

	s.UpdateFlags()

	return r
}

// Spill assigns x to a new temp at the end of into and returns a read of the temp.
func (g *Graph) Spill(x *Node, into *Block, pos int) *Node {
	s, read := g.spill(x, pos, "spilling expr")
	into.Append(s)

	return read
}

func (g *Graph) spill(x *Node, pos int, reason string) (*Stmt, *Node) {
	t := x.Type
	if t == nil {
		t = tp.IntPtr
	}

	tmp := g.NewTemp(t, reason)

	return NewStmt(StoreLocal(tmp, x), pos), Local(tmp, t)
}

// MakeMultiUse returns a second use of *use. Invariant trees are cloned,
// others are replaced by a temp assigned at the end of into.
func (g *Graph) MakeMultiUse(use **Node, into *Block, pos int) *Node {
	if (*use).IsInvariant() {
		return (*use).Clone()
	}

	*use = g.Spill(*use, into, pos)

	return (*use).Clone()
}

// NormalizeBlockOps re-lowers block copies of s after the statement was moved
// and recomputes its side effect summary. Copies of a register sized constant
// length become a load and a store.
func NormalizeBlockOps(s *Stmt) (changed bool) {
	s.Walk(func(use **Node) bool {
		n := *use
		if n.Op != OpCopyBlock || n.Flags&FlagMorphed != 0 {
			return true
		}

		changed = true

		switch n.Aux {
		case 1, 2, 4, 8:
			t := tp.ForSize(int(n.Aux))
			*use = Store(n.Args[0], Load(t, n.Args[1], 0))
		default:
			n.Flags |= FlagMorphed
		}

		return true
	})

	s.UpdateFlags()

	return changed
}
