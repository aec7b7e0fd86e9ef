// Package format prints graphs and trees in the same s-expression syntax parse reads.
package format

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/tp"
)

func Graph(b []byte, g *cfg.Graph) []byte {
	b = app(b, 0, "graph %s\n", g.Name)

	for i, t := range g.Temps {
		b = app(b, 1, "t%d %s  // %s\n", i, tp.Name(t.Type), t.Reason)
	}

	g.Range(func(blk *cfg.Block) bool {
		b = Block(b, g, blk)
		return true
	})

	return b
}

func Block(b []byte, g *cfg.Graph, blk *cfg.Block) []byte {
	b = app(b, 0, "%v %v", blk.ID, blk.Kind)

	if blk.Kind == cfg.KindAlways || blk.Kind == cfg.KindCond {
		b = app(b, 0, " -> %v", blk.Jump)
	}

	b = app(b, 0, " weight=%v", float64(blk.Weight))

	if blk.IsRunRarely() {
		b = append(b, " rare"...)
	}

	if blk.Flags&cfg.FlagInternal != 0 {
		b = append(b, " internal"...)
	}

	if blk.Flags&cfg.FlagUnreachable != 0 {
		b = append(b, " unreachable"...)
	}

	if blk.Loop != cfg.NoLoop {
		b = app(b, 0, " loop=%d", blk.Loop)
	}

	if blk.Region != (cfg.Region{}) {
		b = app(b, 0, " region=%d/%d", blk.Region.Try, blk.Region.Handler)
	}

	if len(blk.Preds) != 0 {
		b = append(b, " preds="...)

		for i, p := range blk.Preds {
			if i != 0 {
				b = append(b, ',')
			}

			b = app(b, 0, "%v", p)
		}
	}

	b = append(b, '\n')

	for _, s := range blk.Stmts {
		b = append(b, '\t')
		b = Node(b, g, s.Root)
		b = append(b, '\n')
	}

	return b
}

// Node appends the tree. Temp reads print as tN, their types come from g.
func Node(b []byte, g *cfg.Graph, n *cfg.Node) []byte {
	switch n.Op {
	case cfg.OpConst:
		return constant(b, n)
	case cfg.OpLocal:
		return app(b, 0, "%v", n.Temp())
	case cfg.OpConstVec:
		b = append(b, "(vec"...)

		for _, c := range n.Bytes {
			b = app(b, 0, " 0x%02x", c)
		}

		return append(b, ')')
	case cfg.OpStoreLocal:
		b = app(b, 0, "(set %v ", n.Temp())
		b = Node(b, g, n.Args[0])

		return append(b, ')')
	case cfg.OpCopyBlock:
		b = app(b, 0, "(copy %d", n.Aux)
	case cfg.OpCall:
		b = app(b, 0, "(call:%s ", tp.Name(n.Type))
		b = call(b, n.Call)
	default:
		b = app(b, 0, "(%v", n.Op)

		if _, void := n.Type.(tp.Void); !void && n.Type != nil && !n.Op.IsCompare() {
			b = app(b, 0, ":%s", tp.Name(n.Type))
		}
	}

	for _, f := range (n.Flags &^ cfg.FlagJumpUsed).Names() {
		b = append(b, ' ')
		b = append(b, f...)
	}

	for _, a := range n.Args {
		b = append(b, ' ')
		b = Node(b, g, a)
	}

	return append(b, ')')
}

func constant(b []byte, n *cfg.Node) []byte {
	switch n.Flags &^ cfg.FlagJumpUsed {
	case cfg.FlagHandle | cfg.FlagTLSHandle:
		return app(b, 0, "tls:%#x", uint64(n.Aux))
	case cfg.FlagHandle:
		return app(b, 0, "h:%#x", uint64(n.Aux))
	case 0:
		if n.Type == tp.I32 {
			return app(b, 0, "%d", n.Aux)
		}

		return app(b, 0, "%d:%s", n.Aux, tp.Name(n.Type))
	}

	b = app(b, 0, "(const:%s", tp.Name(n.Type))

	for _, f := range (n.Flags &^ cfg.FlagJumpUsed).Names() {
		b = append(b, ' ')
		b = append(b, f...)
	}

	return app(b, 0, " %d)", n.Aux)
}

func call(b []byte, c *cfg.Call) []byte {
	switch {
	case c.Kind == cfg.CallHelper:
		b = app(b, 0, "helper:%v", c.Helper)
	case c.Intrinsic != cfg.IntrinsicNone:
		b = app(b, 0, "intrinsic:%v", c.Intrinsic)
	default:
		b = app(b, 0, "method:%#x", uint64(c.Method))
	}

	b = mark(b, "lookup", c.RuntimeLookup)
	b = mark(b, "tlsaccess", c.TLSAccess)
	b = mark(b, "special", c.Special)

	if c.InitClass != 0 {
		b = app(b, 0, " init=%#x", uint64(c.InitClass))
	}

	if c.Tail {
		b = append(b, " tail"...)
	}

	return b
}

func mark(b []byte, name string, m cfg.Mark) []byte {
	switch m {
	case cfg.MarkPending:
		return app(b, 0, " %s", name)
	case cfg.MarkDone:
		return app(b, 0, " %s=done", name)
	}

	return b
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
