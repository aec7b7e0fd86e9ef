package cfg

import (
	"golang.org/x/exp/slices"

	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	Hints uint32

	Temp struct {
		Type   tp.Type
		Reason string
	}

	// Graph is the flow graph of one method.
	// Blocks is an arena indexed by BlockID; blocks are never freed,
	// removed ones are flagged and dropped from Layout.
	Graph struct {
		Name string

		Blocks []*Block
		Layout []BlockID

		Temps []Temp

		Hints Hints
	}
)

// Hints tell phases whether the method has anything for them.
const (
	HasRuntimeLookup Hints = 1 << iota
	HasStaticInit
	HasTLSAccess
	HasSpecialIntrinsic
)

func New(name string) *Graph {
	return &Graph{Name: name}
}

// NewBlock allocates a block outside of the layout.
func (g *Graph) NewBlock(kind BlockKind) *Block {
	b := &Block{
		ID:   BlockID(len(g.Blocks)),
		Kind: kind,
		Jump: NoBlock,
		Loop: NoLoop,
	}

	g.Blocks = append(g.Blocks, b)

	return b
}

// AddBlock allocates a block at the end of the layout.
func (g *Graph) AddBlock(kind BlockKind) *Block {
	b := g.NewBlock(kind)
	g.Layout = append(g.Layout, b.ID)

	return b
}

// NewBlockAfter allocates a block placed right after prev in the layout,
// in prev's loop and region.
func (g *Graph) NewBlockAfter(kind BlockKind, prev *Block) *Block {
	b := g.NewBlock(kind)
	b.Loop = prev.Loop
	b.Region = prev.Region

	g.InsertAfter(prev.ID, b.ID)

	return b
}

func (g *Graph) InsertAfter(prev, id BlockID) {
	i := g.LayoutIndex(prev)
	if i < 0 {
		panic("block is not in layout")
	}

	g.Layout = slices.Insert(g.Layout, i+1, id)
}

func (g *Graph) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(g.Blocks) {
		return nil
	}

	return g.Blocks[id]
}

func (g *Graph) Entry() *Block {
	if len(g.Layout) == 0 {
		return nil
	}

	return g.Blocks[g.Layout[0]]
}

func (g *Graph) LayoutIndex(id BlockID) int {
	return slices.Index(g.Layout, id)
}

// Next returns the layout successor of b or nil.
func (g *Graph) Next(b *Block) *Block {
	i := g.LayoutIndex(b.ID)
	if i < 0 || i+1 >= len(g.Layout) {
		return nil
	}

	return g.Blocks[g.Layout[i+1]]
}

// Prev returns the layout predecessor of b or nil.
func (g *Graph) Prev(b *Block) *Block {
	i := g.LayoutIndex(b.ID)
	if i <= 0 {
		return nil
	}

	return g.Blocks[g.Layout[i-1]]
}

// Succs lists successor edges implied by the block kind.
// For KindCond the fall through edge comes first.
func (g *Graph) Succs(b *Block) []BlockID {
	switch b.Kind {
	case KindNone:
		if n := g.Next(b); n != nil {
			return []BlockID{n.ID}
		}
	case KindAlways:
		return []BlockID{b.Jump}
	case KindCond:
		var r []BlockID

		if n := g.Next(b); n != nil {
			r = append(r, n.ID)
		}

		return append(r, b.Jump)
	}

	return nil
}

// FallsThrough reports whether b reaches its layout successor without a jump.
func (b *Block) FallsThrough() bool {
	return b.Kind == KindNone || b.Kind == KindCond
}

// AddPred records an edge from to.
func (g *Graph) AddPred(to, from *Block) {
	to.Preds = append(to.Preds, from.ID)
}

// RemovePred removes one edge from to.
func (g *Graph) RemovePred(to, from *Block) {
	i := slices.Index(to.Preds, from.ID)
	if i < 0 {
		panic("no such pred: " + from.String() + " -> " + to.String())
	}

	to.Preds = slices.Delete(to.Preds, i, i+1)
}

// ReplacePred redirects all edges into to coming from old so they come from by.
func (g *Graph) ReplacePred(to, old, by *Block) {
	for i, p := range to.Preds {
		if p == old.ID {
			to.Preds[i] = by.ID
		}
	}
}

func (g *Graph) NewTemp(t tp.Type, reason string) TempID {
	g.Temps = append(g.Temps, Temp{Type: t, Reason: reason})

	return TempID(len(g.Temps) - 1)
}

func (g *Graph) Temp(id TempID) Temp {
	return g.Temps[id]
}

// Range calls f for blocks in layout order.
func (g *Graph) Range(f func(b *Block) bool) {
	for _, id := range g.Layout {
		if !f(g.Blocks[id]) {
			return
		}
	}
}

// ComputeHints sets hints from the calls present in the graph.
func (g *Graph) ComputeHints() {
	g.Hints = 0

	g.Range(func(b *Block) bool {
		for _, s := range b.Stmts {
			s.Walk(func(use **Node) bool {
				n := *use
				if !n.IsCall() {
					return true
				}

				c := n.Call

				if c.RuntimeLookup.Pending() {
					g.Hints |= HasRuntimeLookup
				}
				if c.TLSAccess.Pending() {
					g.Hints |= HasTLSAccess
				}
				if c.Special.Pending() {
					g.Hints |= HasSpecialIntrinsic
				}
				if c.InitClass != 0 {
					g.Hints |= HasStaticInit
				}

				return true
			})
		}

		return true
	})
}

// Clone deeply copies the graph. Block ids and temp ids are preserved.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:   g.Name,
		Blocks: make([]*Block, len(g.Blocks)),
		Layout: append([]BlockID{}, g.Layout...),
		Temps:  append([]Temp{}, g.Temps...),
		Hints:  g.Hints,
	}

	for i, b := range g.Blocks {
		nb := *b
		nb.Preds = append([]BlockID{}, b.Preds...)
		nb.Stmts = make([]*Stmt, len(b.Stmts))

		for j, s := range b.Stmts {
			ns := *s
			ns.Root = s.Root.Clone()
			nb.Stmts[j] = &ns
		}

		c.Blocks[i] = &nb
	}

	return c
}
