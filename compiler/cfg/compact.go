package cfg

// CanCompact reports whether next can be folded into b:
// b falls into next, next has no other predecessor, and they share loop and region.
func (g *Graph) CanCompact(b, next *Block) bool {
	switch {
	case b == nil, next == nil, b == next:
		return false
	case b.Kind != KindNone:
		return false
	case g.Next(b) != next:
		return false
	case next == g.Entry():
		return false
	case len(next.Preds) != 1 || next.Preds[0] != b.ID:
		return false
	case !b.SameRegion(next), b.Loop != next.Loop:
		return false
	}

	return true
}

// Compact folds next into b. The caller checks CanCompact first.
func (g *Graph) Compact(b, next *Block) {
	b.Stmts = append(b.Stmts, next.Stmts...)
	b.Kind = next.Kind
	b.Jump = next.Jump

	if b.IsRunRarely() && !next.IsRunRarely() {
		b.InheritWeight(next)
	} else if next.Weight > b.Weight {
		b.Weight = next.Weight
	}

	// succs of next are computed before it leaves the layout
	succs := g.Succs(next)

	g.removeFromLayout(next)

	for _, s := range succs {
		g.ReplacePred(g.Blocks[s], next, b)
	}

	next.Stmts = nil
	next.Preds = nil
	next.Flags |= FlagRemoved
}

func (g *Graph) removeFromLayout(b *Block) {
	i := g.LayoutIndex(b.ID)
	if i < 0 {
		return
	}

	g.Layout = append(g.Layout[:i], g.Layout[i+1:]...)
}
