package cfg

import (
	"github.com/oleiade/lane"
	"nikand.dev/go/heap"

	"github.com/slowlang/slowjit/compiler/set"
)

type (
	coldBlock struct {
		b   *Block
		pos int
	}
)

// Reorder sinks cold blocks to the end of their region so the hot path is laid out
// contiguously. Only blocks entered by jumps and not ending in a conditional
// branch are moved; a moved block falling through gets an explicit jump.
// Afterwards jumps to the layout successor become fall throughs.
// It reports whether the layout changed.
func (g *Graph) Reorder() (changed bool) {
	cold := heap.Heap[coldBlock]{Less: coldLess}

	for i, id := range g.Layout {
		if i == 0 {
			continue
		}

		b := g.Blocks[id]
		if !b.IsRunRarely() || b.Kind == KindCond {
			continue
		}

		if prev := g.Blocks[g.Layout[i-1]]; prev.FallsThrough() {
			continue
		}

		cold.Push(coldBlock{b: b, pos: i})
	}

	for cold.Len() != 0 {
		c := cold.Pop()
		b := c.b

		last := g.lastInRegion(b.Region)
		if last == b || last.Kind == KindCond {
			continue
		}

		if after := g.Next(last); after != nil && last.Kind == KindNone {
			last.Kind = KindAlways
			last.Jump = after.ID
		}

		if b.Kind == KindNone {
			next := g.Next(b)
			if next == nil {
				continue
			}

			b.Kind = KindAlways
			b.Jump = next.ID
		}

		g.removeFromLayout(b)
		g.InsertAfter(last.ID, b.ID)

		changed = true
	}

	for _, id := range g.Layout {
		b := g.Blocks[id]

		if b.Kind != KindAlways {
			continue
		}

		if next := g.Next(b); next != nil && next.ID == b.Jump {
			b.Kind = KindNone
			b.Jump = NoBlock
			changed = true
		}
	}

	return changed
}

func coldLess(d []coldBlock, i, j int) bool {
	if d[i].b.Weight != d[j].b.Weight {
		return d[i].b.Weight > d[j].b.Weight
	}

	return d[i].pos < d[j].pos
}

func (g *Graph) lastInRegion(r Region) (last *Block) {
	for _, id := range g.Layout {
		if b := g.Blocks[id]; b.Region == r {
			last = b
		}
	}

	return last
}

// ComputeBasics rebuilds predecessor lists from terminators and flags blocks
// unreachable from the entry. It returns the reachable set.
func (g *Graph) ComputeBasics() (reach set.Bits[BlockID]) {
	for _, b := range g.Blocks {
		b.Preds = b.Preds[:0]
	}

	for _, id := range g.Layout {
		b := g.Blocks[id]

		for _, s := range g.Succs(b) {
			g.AddPred(g.Blocks[s], b)
		}
	}

	entry := g.Entry()
	if entry == nil {
		return reach
	}

	stack := lane.NewStack()
	stack.Push(entry)
	reach.Set(entry.ID)

	for !stack.Empty() {
		b := stack.Pop().(*Block)

		for _, s := range g.Succs(b) {
			if reach.Add(s) {
				stack.Push(g.Blocks[s])
			}
		}
	}

	for _, id := range g.Layout {
		b := g.Blocks[id]

		if reach.IsSet(id) {
			b.Flags &^= FlagUnreachable
		} else {
			b.Flags |= FlagUnreachable
		}
	}

	return reach
}
