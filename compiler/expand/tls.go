package expand

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/rtinfo"
	"github.com/slowlang/slowjit/compiler/tp"
)

// expandThreadLocal inlines the thread static blocks cache lookup:
//
//	prev:
//	    ...
//	maxCond (cond):                          [weight: 100%]
//	    tls = load(load(tlsPointer) [+ tlsIndex*ptrSize])
//	    if load32(tls + offsetOfMaxBlocks) < typeIndex goto fallback
//	nullCond (cond):                         [weight: 100%]
//	    base = load(load(tls + offsetOfBlocks) + typeIndex*ptrSize)
//	    if base != 0 goto fastPath
//	fallback (always):                       [rarely run]
//	    res = thread_static_base(typeIndex)
//	    goto block
//	fastPath (always):                       [weight: 100%]
//	    res = base
//	    goto block
//	block:
//	    use(res)
//
// The helper fills the cache, so the fallback runs once per type per thread.
func (s *State) expandThreadLocal(ctx context.Context, b *cfg.Block, st *cfg.Stmt, call *cfg.Node) (bool, error) {
	const topic = "expand_tls"

	c := call.Call

	if !c.TLSAccess.Pending() {
		return false, nil
	}

	if s.Config.Target == TargetARM {
		c.TLSAccess.Consume()
		return skip(ctx, topic, call, "thread blocks are not reachable on arm")
	}

	if c.Tail {
		c.TLSAccess.Consume()
		return skip(ctx, topic, call, "tail call")
	}

	info, ok := s.Info.ThreadStaticBlocks()
	if !ok {
		c.TLSAccess.Consume()
		return skip(ctx, topic, call, "no thread static blocks info")
	}

	if info.TLSIndex.Access != rtinfo.AccessValue {
		return false, s.violation("tls index behind indirection")
	}

	if len(call.Args) != 1 {
		return false, s.violation("thread static base helper with %d args", len(call.Args))
	}

	c.TLSAccess.Consume()

	tr := tlog.SpanFromContext(ctx)
	tr.V(topic).Printw("expanding thread static access", "block", b.ID, "tls_index", info.TLSIndex.Addr,
		"offset_of_tls_pointer", info.OffsetOfThreadLocalStoragePointer,
		"offset_of_max_blocks", info.OffsetOfMaxThreadStaticBlocks,
		"offset_of_blocks", info.OffsetOfThreadStaticBlocks)

	g := s.Graph
	x := s.split(b, st, call)
	ptr := tp.IntPtr
	inv := cfg.FlagNonFaulting | cfg.FlagInvariant

	res := g.NewTemp(call.Type, "tls field access")
	x.replace(cfg.Local(res, call.Type))

	index := g.MakeMultiUse(&call.Args[0], x.prev, x.pos)

	tlsRef := cfg.Load(ptr, tlsHandle(info.OffsetOfThreadLocalStoragePointer), inv)

	if info.TLSIndex.Addr != 0 {
		tlsRef = cfg.Add(tlsRef, cfg.Handle(info.TLSIndex.Addr*uint64(s.pointerSize())))
	}

	tls := g.NewTemp(ptr, "tls access")
	tlsValue := cfg.Load(ptr, tlsRef, inv)

	maxBlocks := cfg.Load(tp.I32, cfg.Add(cfg.Local(tls, ptr), cfg.PtrConst(info.OffsetOfMaxThreadStaticBlocks)), inv)

	maxCondBb := x.newBlock(cfg.KindCond, x.prev,
		cfg.StoreLocal(tls, tlsValue),
		cfg.JumpTrue(cfg.Binary(cfg.OpLt, tp.I32, maxBlocks, index.Clone())),
	)

	blocks := cfg.Load(ptr, cfg.Add(cfg.Local(tls, ptr), cfg.PtrConst(info.OffsetOfThreadStaticBlocks)), inv)
	slot := cfg.Add(blocks, cfg.Binary(cfg.OpMul, ptr, index, cfg.PtrConst(s.pointerSize())))

	base := g.NewTemp(ptr, "thread static block base")

	nullCondBb := x.newBlock(cfg.KindCond, maxCondBb,
		cfg.StoreLocal(base, cfg.Load(ptr, slot, cfg.FlagNonFaulting)),
		cfg.JumpTrue(cfg.Binary(cfg.OpNe, tp.I32, cfg.Local(base, ptr), cfg.PtrConst(0))),
	)

	fallbackBb := x.newBlock(cfg.KindAlways, nullCondBb, cfg.StoreLocal(res, call))
	fastPathBb := x.newBlock(cfg.KindAlways, fallbackBb, cfg.StoreLocal(res, cfg.Local(base, ptr)))

	maxCondBb.Jump = fallbackBb.ID
	nullCondBb.Jump = fastPathBb.ID
	fallbackBb.Jump = x.block.ID
	fastPathBb.Jump = x.block.ID

	if err := s.link(x, maxCondBb, nullCondBb, fallbackBb, fastPathBb); err != nil {
		return false, err
	}

	maxCondBb.InheritWeight(x.prev)
	nullCondBb.InheritWeight(x.prev)
	fastPathBb.InheritWeight(x.prev)
	fallbackBb.SetRunRarely()

	return true, nil
}

// tlsHandle is an offset from the thread segment base.
func tlsHandle(off int64) *cfg.Node {
	n := cfg.Handle(uint64(off))
	n.Flags |= cfg.FlagTLSHandle

	return n
}
