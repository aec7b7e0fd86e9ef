package expand

import (
	"github.com/slowlang/slowjit/compiler/cfg"
)

// site is a call being expanded, after the block was split right before it.
type site struct {
	g *cfg.Graph

	// prev is the original block, now holding everything evaluated before the call.
	prev *cfg.Block
	// block is the continuation starting with the statement that consumed the call.
	block *cfg.Block

	stmt *cfg.Stmt
	call *cfg.Node
	// use is where the call's value is consumed in stmt.
	use **cfg.Node

	pos int
}

func (s *State) split(b *cfg.Block, st *cfg.Stmt, call *cfg.Node) *site {
	sp := s.Graph.SplitBeforeNode(b, st, call)

	// spilled operands were lowered for their old position
	for _, ss := range sp.Spilled {
		cfg.NormalizeBlockOps(ss)
	}

	return &site{
		g:     s.Graph,
		prev:  sp.Prev,
		block: sp.Next,
		stmt:  st,
		call:  call,
		use:   sp.Use,
		pos:   st.Pos,
	}
}

// replace puts x where the call's value was consumed.
func (x *site) replace(n *cfg.Node) {
	*x.use = n

	cfg.NormalizeBlockOps(x.stmt)
}

// newBlock creates an internal block after the given one holding the trees as statements.
func (x *site) newBlock(kind cfg.BlockKind, after *cfg.Block, roots ...*cfg.Node) *cfg.Block {
	b := x.g.NewBlockAfter(kind, after)
	b.Flags |= cfg.FlagInternal

	for _, r := range roots {
		x.append(b, r)
	}

	return b
}

func (x *site) append(b *cfg.Block, root *cfg.Node) {
	b.Append(cfg.NewStmt(root, x.pos))
}

// link replaces the prev -> block edge with the edges of the new blocks,
// copies loop membership, and checks all of them stay in one region.
// The continuation keeps the weight prev had before the split
// and is where the scan resumes.
func (s *State) link(x *site, blocks ...*cfg.Block) error {
	g := x.g

	if !x.prev.SameRegion(x.block) {
		return s.broken("%v and continuation %v are in different regions", x.prev.ID, x.block.ID)
	}

	for _, b := range blocks {
		if !b.SameRegion(x.prev) {
			return s.broken("%v is not in the region of %v", b.ID, x.prev.ID)
		}

		b.Loop = x.prev.Loop
	}

	g.RemovePred(x.block, x.prev)

	for _, b := range append([]*cfg.Block{x.prev}, blocks...) {
		for _, succ := range g.Succs(b) {
			g.AddPred(g.Blocks[succ], b)
		}
	}

	x.block.InheritWeight(x.prev)

	s.cont = x.block

	return nil
}

// compact folds the first new block into prev when nothing else reaches it.
func (x *site) compact(first *cfg.Block) bool {
	if !x.g.CanCompact(x.prev, first) {
		return false
	}

	x.g.Compact(x.prev, first)

	return true
}
