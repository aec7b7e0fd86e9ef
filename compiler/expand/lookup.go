package expand

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/tp"
)

// expandRuntimeLookup turns
//
//	use(runtime_lookup(ctx, sig))
//
// into
//
//	prev:
//	    ...
//	sizeCheck (cond):          [weight: 100%]    only for growing dictionaries
//	    if load(base + sizeOffset) <= lastOffset goto fallback
//	nullcheck (cond):          [weight: 100% or 80%]
//	    if load(slotAddr) == 0 goto fallback
//	fastPath (always):         [weight: 80% of nullcheck]
//	    res = load(slotAddr)
//	    goto block
//	fallback (none):           [weight: 20% or 36%]
//	    res = runtime_lookup(ctx, sig)
//	block:
//	    use(res)
func (s *State) expandRuntimeLookup(ctx context.Context, b *cfg.Block, st *cfg.Stmt, call *cfg.Node) (bool, error) {
	const topic = "expand_lookup"

	c := call.Call

	if !c.RuntimeLookup.Consume() {
		return false, nil
	}

	if c.Tail {
		return skip(ctx, topic, call, "tail call")
	}

	if len(call.Args) != 2 {
		return false, s.violation("runtime lookup with %d args", len(call.Args))
	}

	sig, ok := s.Values.Constant(call.Args[1])
	if !ok {
		return skip(ctx, topic, call, "signature is not a constant")
	}

	l, ok := s.Lookups.Lookup(uint64(sig))
	if !ok {
		return false, s.violation("no runtime lookup registered for signature %#x", sig)
	}

	if err := l.Validate(); err != nil {
		return false, s.violation("runtime lookup %#x: %v", sig, err)
	}

	sizeCheck := l.NeedsSizeCheck()

	tr := tlog.SpanFromContext(ctx)
	tr.V(topic).Printw("expanding runtime lookup", "block", b.ID, "sig", tlog.FormatNext("%#x"), sig, "indirections", l.Indirections, "size_check", sizeCheck)

	g := s.Graph
	x := s.split(b, st, call)
	prev := x.prev

	var res cfg.TempID

	if r := st.Root; r.Op == cfg.OpStoreLocal && x.use == &r.Args[0] {
		// tmp = lookup(...): assign tmp directly, the statement is not needed
		res = r.Temp()
		x.block.RemoveStmt(st)
	} else {
		res = g.NewTemp(call.Type, "runtime lookup")
		x.replace(cfg.Local(res, call.Type))
	}

	ptr := tp.IntPtr

	// the context is read on every path, so it's evaluated once in prev
	slot := g.MakeMultiUse(&call.Args[0], prev, x.pos)

	var indOff, lastBase *cfg.Node

	for i := 0; i < l.Indirections; i++ {
		last := i == l.Indirections-1
		indirect := i == 1 && l.IndirectFirstOffset || i == 2 && l.IndirectSecondOffset

		if indirect {
			indOff = g.Spill(slot, prev, x.pos)
			slot = indOff.Clone()
		}

		if i != 0 {
			flags := cfg.FlagNonFaulting

			// a growing dictionary can be replaced, so its base is not invariant
			if !last || !sizeCheck {
				flags |= cfg.FlagInvariant
			}

			slot = cfg.Load(ptr, slot, flags)
		}

		if indirect {
			slot = cfg.Add(indOff, slot)
		}

		if l.Offsets[i] == 0 {
			continue
		}

		if last && sizeCheck {
			lastBase = g.Spill(slot, prev, x.pos)
			slot = lastBase.Clone()
		}

		slot = cfg.Add(slot, cfg.PtrConst(l.Offsets[i]))
	}

	after := prev

	var sizeCheckBb *cfg.Block

	if sizeCheck {
		size := cfg.Load(ptr, cfg.Add(lastBase, cfg.PtrConst(l.SizeOffset)), cfg.FlagNonFaulting)
		cond := cfg.Binary(cfg.OpLe, tp.I32, size, cfg.PtrConst(l.LastOffset()))

		sizeCheckBb = x.newBlock(cfg.KindCond, prev, cfg.JumpTrue(cond))
		after = sizeCheckBb
	}

	nullcheckBb := x.newBlock(cfg.KindCond, after)

	value := cfg.Load(call.Type, slot, cfg.FlagNonFaulting)

	var fastValue *cfg.Node
	if s.Config.Optimize {
		fastValue = g.MakeMultiUse(&value, nullcheckBb, x.pos)
	} else {
		fastValue = value.Clone()
	}

	x.append(nullcheckBb, cfg.JumpTrue(cfg.Binary(cfg.OpEq, tp.I32, value, cfg.PtrConst(0))))

	fastPathBb := x.newBlock(cfg.KindAlways, nullcheckBb, cfg.StoreLocal(res, fastValue))
	fallbackBb := x.newBlock(cfg.KindNone, fastPathBb, cfg.StoreLocal(res, call))

	nullcheckBb.Jump = fallbackBb.ID
	fastPathBb.Jump = x.block.ID

	blocks := []*cfg.Block{nullcheckBb, fastPathBb, fallbackBb}

	if sizeCheck {
		sizeCheckBb.Jump = fallbackBb.ID
		blocks = append(blocks, sizeCheckBb)
	}

	if err := s.link(x, blocks...); err != nil {
		return false, err
	}

	if sizeCheck {
		sizeCheckBb.InheritWeight(prev)
		nullcheckBb.InheritWeightPercent(sizeCheckBb, 80)
		fastPathBb.InheritWeightPercent(nullcheckBb, 80)
		fallbackBb.InheritWeightPercent(sizeCheckBb, 36)
	} else {
		nullcheckBb.InheritWeight(prev)
		fastPathBb.InheritWeightPercent(nullcheckBb, 80)
		fallbackBb.InheritWeightPercent(nullcheckBb, 20)
	}

	return true, nil
}
