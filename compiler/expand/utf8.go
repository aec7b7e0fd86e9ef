package expand

import (
	"context"
	"encoding/binary"

	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/rtinfo"
	"github.com/slowlang/slowjit/compiler/tp"
)

// expandGetUtf8Bytes unrolls GetUtf8Bytes(this, src, srcLen, dst, dstLen)
// called on an ascii string literal into constant stores:
//
//	prev:
//	    ...
//	lengthCheck (cond or none):        [weight: 100%]
//	    spill arguments
//	    res = -1
//	    nullcheck(this)
//	    if dstLen < srcLen goto block
//	fastPath (none):                   [weight: 80% or 100%]
//	    store(dst + off, chunk)...
//	    res = srcLen
//	block:
//	    use(res)
//
// When dstLen is known to fit, the check is left out and lengthCheck is folded into prev.
func (s *State) expandGetUtf8Bytes(ctx context.Context, b *cfg.Block, st *cfg.Stmt, call *cfg.Node) (bool, error) {
	const topic = "expand_utf8"

	if len(call.Args) != 5 {
		return false, s.violation("GetUtf8Bytes with %d args", len(call.Args))
	}

	thisArg, srcPtr, srcLen, dstLen := call.Args[0], call.Args[1], call.Args[2], call.Args[4]

	obj, off, ok := s.Values.ObjectAndOffset(srcPtr)
	if !ok || off != rtinfo.StringCharsOffset {
		return skip(ctx, topic, call, "source is not a string literal")
	}

	if s.Info.ObjectClass(obj) != s.Info.StringClass() {
		return skip(ctx, topic, call, "source is not a string object", "obj", obj)
	}

	n, ok := s.Values.Constant(srcLen)
	if !ok {
		return skip(ctx, topic, call, "source length is not a constant")
	}

	limit := s.Info.MaxUnrollBytes()
	if limit > rtinfo.MaxUnrollCeiling {
		limit = rtinfo.MaxUnrollCeiling
	}

	if n <= 0 || n > int64(limit) {
		return skip(ctx, topic, call, "source length out of unrollable range", "len", n, "limit", limit)
	}

	noSizeCheck := false

	if d, ok := s.Values.Constant(dstLen); ok {
		noSizeCheck = d >= n
	}

	data := make([]byte, n)

	for i := range data {
		ch, ok := s.Info.StringChar(obj, i)
		if !ok {
			return skip(ctx, topic, call, "can't read string char", "index", i)
		}

		if ch > 127 {
			return skip(ctx, topic, call, "non ascii char", "index", i, "char", ch)
		}

		data[i] = byte(ch)
	}

	thisNonNull := s.Values.KnownNonNull(thisArg)

	tr := tlog.SpanFromContext(ctx)
	tr.V(topic).Printw("expanding GetUtf8Bytes", "block", b.ID, "data", data, "no_size_check", noSizeCheck, "this_non_null", thisNonNull)

	g := s.Graph
	x := s.split(b, st, call)

	call.Call.Special.Consume()

	res := g.NewTemp(tp.I32, "utf8 bytes written")
	x.replace(cfg.Local(res, tp.I32))

	kind := cfg.KindCond
	if noSizeCheck {
		kind = cfg.KindNone
	}

	lengthCheckBb := x.newBlock(kind, x.prev)

	// every argument keeps its side effects, evaluated once in the original order
	var args [5]*cfg.Node
	for i, a := range call.Args {
		args[i] = g.Spill(a, lengthCheckBb, x.pos)
	}

	this, dst, dstLenRead := args[0], args[3], args[4]

	if !noSizeCheck {
		x.append(lengthCheckBb, cfg.StoreLocal(res, cfg.IntConst(-1)))
	}

	if !thisNonNull {
		x.append(lengthCheckBb, cfg.NullCheck(this))
	}

	if !noSizeCheck {
		srcLenCns := cfg.IntConst(n)
		s.Values.SetConstant(srcLenCns, n)

		x.append(lengthCheckBb, cfg.JumpTrue(cfg.Binary(cfg.OpLt, tp.I32, dstLenRead, srcLenCns)))
		lengthCheckBb.Jump = x.block.ID
	}

	fastPathBb := x.newBlock(cfg.KindNone, lengthCheckBb)

	w := tp.RoundDownRegSize(int(n), s.maxRegSize())
	size := int64(w.Size())

	iters := (n + size - 1) / size

	for i := int64(0); i < iters; i++ {
		off := i * size

		// the last store overlaps the previous one instead of going narrower
		if i == iters-1 {
			off = n - size
		}

		offNode := cfg.PtrConst(off)
		s.Values.SetConstant(offNode, off)

		chunk := chunkConst(w, data[off:off+size])

		x.append(fastPathBb, cfg.Store(cfg.Add(dst.Clone(), offNode), chunk))
	}

	written := cfg.IntConst(n)
	s.Values.SetConstant(written, n)

	x.append(fastPathBb, cfg.StoreLocal(res, written))

	if err := s.link(x, lengthCheckBb, fastPathBb); err != nil {
		return false, err
	}

	lengthCheckBb.InheritWeight(x.prev)

	if noSizeCheck {
		fastPathBb.InheritWeightPercent(lengthCheckBb, 100)
	} else {
		fastPathBb.InheritWeightPercent(lengthCheckBb, 80)
	}

	x.compact(lengthCheckBb)

	return true, nil
}

func chunkConst(t tp.Type, data []byte) *cfg.Node {
	switch len(data) {
	case 1:
		return cfg.Const(t, int64(data[0]))
	case 2:
		return cfg.Const(t, int64(binary.LittleEndian.Uint16(data)))
	case 4:
		return cfg.Const(t, int64(binary.LittleEndian.Uint32(data)))
	case 8:
		return cfg.Const(t, int64(binary.LittleEndian.Uint64(data)))
	}

	return cfg.ConstVec(data)
}
