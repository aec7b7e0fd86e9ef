package expand

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/rtinfo"
	"github.com/slowlang/slowjit/compiler/tp"
)

// expandStaticInit turns
//
//	base = static_base_helper(...)
//
// into
//
//	prev:
//	    ...
//	isInited (cond):          [weight: 100%]
//	    if class is initialized goto block
//	helperCall (none):        [rarely run]
//	    static_base_helper(...)
//	block:
//	    base = known static base
//
// The call's value is dropped when the helper returns nothing useful.
func (s *State) expandStaticInit(ctx context.Context, b *cfg.Block, st *cfg.Stmt, call *cfg.Node) (bool, error) {
	const topic = "expand_static"

	c := call.Call

	helper, ok := s.Info.StaticHelper(c.Helper)
	if !ok {
		return false, nil
	}

	if c.InitClass == 0 {
		// not created for a class or already expanded
		return false, nil
	}

	if c.Tail {
		return skip(ctx, topic, call, "tail call")
	}

	cls := c.InitClass

	flag, ok := s.Info.ClassInitFlag(cls)
	if !ok {
		return skip(ctx, topic, call, "no class init flag", "class", cls)
	}

	if flag.Addr.Access != rtinfo.AccessValue {
		return skip(ctx, topic, call, "class init flag behind indirection", "class", cls)
	}

	if !s.Config.NativeAOT && flag.Offset != 0 {
		return false, s.violation("class %#x: init flag offset %d on jit target", cls, flag.Offset)
	}

	var base rtinfo.ConstLookup

	if helper.Returns == rtinfo.ReturnsStaticBase {
		base, ok = s.Info.StaticBase(cls, helper.GC)
		if !ok {
			return skip(ctx, topic, call, "no static base address", "class", cls)
		}
	} else if st.Root != call {
		return skip(ctx, topic, call, "unused helper result is consumed", "class", cls)
	}

	tr := tlog.SpanFromContext(ctx)
	tr.V(topic).Printw("expanding static init", "block", b.ID, "class", tlog.FormatNext("%#x"), cls, "gc", helper.GC, "aot", s.Config.NativeAOT)

	g := s.Graph
	x := s.split(b, st, call)

	// operands are evaluated on every path, the call only on the cold one
	for i, a := range call.Args {
		if !a.IsInvariant() {
			call.Args[i] = g.Spill(a, x.prev, x.pos)
		}
	}

	isInitedBb := x.newBlock(cfg.KindCond, x.prev)

	var cached, actual, expected *cfg.Node

	if s.Config.NativeAOT {
		flagBase := cfg.Handle(flag.Addr.Addr)

		if helper.Returns == rtinfo.ReturnsStaticBase && base == flag.Addr {
			t := g.NewTemp(tp.IntPtr, "static base")
			x.append(isInitedBb, cfg.StoreLocal(t, flagBase))

			flagBase = cfg.Local(t, tp.IntPtr)
			cached = cfg.Local(t, tp.IntPtr)
		}

		// not folded: the handle must stay relocatable
		addr := cfg.Add(flagBase, cfg.PtrConst(flag.Offset))

		actual = cfg.Load(tp.IntPtr, addr, cfg.FlagNonFaulting)
		expected = cfg.PtrConst(0)
	} else {
		mask := flag.Mask
		if mask == 0 {
			mask = 1
		}

		actual = cfg.Load(tp.I32, cfg.Handle(flag.Addr.Addr), cfg.FlagNonFaulting)
		actual = cfg.Binary(cfg.OpAnd, tp.I32, actual, cfg.IntConst(mask))
		expected = cfg.IntConst(mask)
	}

	x.append(isInitedBb, cfg.JumpTrue(cfg.Binary(cfg.OpEq, tp.I32, actual, expected)))

	helperCallBb := x.newBlock(cfg.KindNone, isInitedBb, call)

	isInitedBb.Jump = x.block.ID

	var repl *cfg.Node

	switch {
	case helper.Returns != rtinfo.ReturnsStaticBase:
	case cached != nil:
		repl = cached
	case base.Access == rtinfo.AccessValue:
		repl = cfg.Handle(base.Addr)
	default:
		repl = cfg.Load(tp.IntPtr, cfg.Handle(base.Addr), cfg.FlagNonFaulting|cfg.FlagInvariant)
	}

	if repl == nil {
		repl = cfg.Nop()
	}

	x.replace(repl)

	if err := s.link(x, isInitedBb, helperCallBb); err != nil {
		return false, err
	}

	isInitedBb.InheritWeight(x.prev)
	helperCallBb.SetRunRarely()

	x.compact(isInitedBb)

	c.InitClass = 0

	return true, nil
}
