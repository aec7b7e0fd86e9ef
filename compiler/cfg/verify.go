package cfg

import (
	"fmt"
	"sort"
	"strings"

	"tlog.app/go/errors"
)

// Verify checks the structural integrity of the graph.
// It returns an error describing all violations found, or nil if valid.
func Verify(g *Graph) error {
	var errs []string

	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if len(g.Layout) == 0 {
		return errors.New("graph %s: no blocks", g.Name)
	}

	inLayout := make(map[BlockID]bool, len(g.Layout))

	for _, id := range g.Layout {
		b := g.Block(id)

		switch {
		case b == nil:
			add("%v: not allocated", id)
			continue
		case inLayout[id]:
			add("%v: placed twice", id)
		case b.Flags&FlagRemoved != 0:
			add("%v: removed block in layout", id)
		}

		inLayout[id] = true
	}

	if len(errs) != 0 {
		return combine(g, errs)
	}

	want := map[BlockID][]BlockID{}
	stmts := map[*Stmt]BlockID{}
	nodes := map[*Node]BlockID{}

	for i, id := range g.Layout {
		b := g.Blocks[id]

		verifyTerminator(g, b, i == len(g.Layout)-1, add)

		for _, s := range g.Succs(b) {
			if !inLayout[s] {
				add("%v: successor %v is not in layout", b, s)
				continue
			}

			want[s] = append(want[s], id)
		}

		for _, s := range b.Stmts {
			if other, ok := stmts[s]; ok {
				add("%v: statement shared with %v", b, other)
			}

			stmts[s] = id

			s.Walk(func(use **Node) bool {
				n := *use

				if other, ok := nodes[n]; ok {
					add("%v: node %v shared with %v", b, n, other)
				}

				nodes[n] = id

				verifyNode(g, b, n, add)

				return true
			})
		}
	}

	for i, id := range g.Layout {
		b := g.Blocks[id]

		got := sortedIDs(b.Preds)
		exp := sortedIDs(want[id])

		if fmt.Sprint(got) != fmt.Sprint(exp) {
			add("%v: preds %v, want %v", b, got, exp)
		}

		if i != 0 && len(exp) == 0 && b.Flags&FlagUnreachable == 0 {
			add("%v: no predecessors", b)
		}
	}

	if len(errs) != 0 {
		return combine(g, errs)
	}

	return nil
}

func verifyTerminator(g *Graph, b *Block, last bool, add func(string, ...any)) {
	term := b.LastStmt()

	for _, s := range b.Stmts {
		if s != term && s.IsTerminator() {
			add("%v: terminator %v in the middle of the block", b, s.Root.Op)
		}
	}

	isOp := func(op Op) bool {
		return term != nil && term.Root.Op == op
	}

	switch b.Kind {
	case KindNone:
		if last {
			add("%v: falls off the end of the method", b)
		}

		if term != nil && term.IsTerminator() {
			add("%v: fall through block ends with %v", b, term.Root.Op)
		}
	case KindAlways:
		if g.Block(b.Jump) == nil {
			add("%v: bad jump target %v", b, b.Jump)
		}

		if term != nil && term.IsTerminator() {
			add("%v: jump block ends with %v", b, term.Root.Op)
		}
	case KindCond:
		if last {
			add("%v: conditional block falls off the end of the method", b)
		}

		if g.Block(b.Jump) == nil {
			add("%v: bad jump target %v", b, b.Jump)
		}

		if !isOp(OpJumpTrue) {
			add("%v: conditional block does not end with jtrue", b)
		}
	case KindReturn:
		if !isOp(OpReturn) {
			add("%v: return block does not end with ret", b)
		}
	case KindThrow:
	default:
		add("%v: invalid kind %v", b, b.Kind)
	}
}

func verifyNode(g *Graph, b *Block, n *Node, add func(string, ...any)) {
	switch n.Op {
	case OpLocal, OpStoreLocal:
		if t := n.Temp(); t < 0 || int(t) >= len(g.Temps) {
			add("%v: %v references unknown temp %v", b, n.Op, t)
		}
	case OpCall:
		if n.Call == nil {
			add("%v: call without call info", b)
		}
	case OpInvalid:
		add("%v: invalid node", b)
	}

	var want int

	switch {
	case n.Op.IsBinary(), n.Op == OpStore, n.Op == OpCopyBlock:
		want = 2
	case n.Op == OpLoad, n.Op == OpStoreLocal, n.Op == OpJumpTrue, n.Op == OpNullCheck:
		want = 1
	case n.Op == OpConst, n.Op == OpConstVec, n.Op == OpLocal, n.Op == OpNop:
		want = 0
	default:
		return
	}

	if len(n.Args) != want {
		add("%v: %v has %d args, want %d", b, n.Op, len(n.Args), want)
	}
}

func sortedIDs(l []BlockID) []BlockID {
	r := append([]BlockID{}, l...)
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })

	return r
}

func combine(g *Graph, errs []string) error {
	return errors.New("graph %s:\n\t%s", g.Name, strings.Join(errs, "\n\t"))
}
