package rtsim

import (
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/rtinfo"
)

// Call runs a helper, an intrinsic or a user method.
func (r *Runtime) Call(c *cfg.Call, args []int64) (int64, error) {
	switch {
	case c.Kind == cfg.CallHelper:
		r.HelperCalls[c.Helper]++

		return r.helper(c.Helper, args)
	case c.Intrinsic == cfg.IntrinsicGetUtf8Bytes:
		r.IntrinsicCalls[c.Intrinsic]++

		return r.GetUtf8Bytes(args)
	}

	r.event("call", append([]int64{int64(c.Method)}, args...)...)

	return r.Methods[uint64(c.Method)], nil
}

func (r *Runtime) helper(h cfg.Helper, args []int64) (int64, error) {
	switch h {
	case cfg.HelperRuntimeLookup:
		if len(args) != 2 {
			return 0, errors.New("%v: %d args", h, len(args))
		}

		return r.RuntimeLookup(uint64(args[0]), uint64(args[1]))
	case cfg.HelperNonGCStaticBase, cfg.HelperGCStaticBase, cfg.HelperInitClass:
		if len(args) != 1 {
			return 0, errors.New("%v: %d args", h, len(args))
		}

		return r.StaticBaseHelper(h, cfg.ClassHandle(args[0]))
	case cfg.HelperThreadStaticBase:
		if len(args) != 1 {
			return 0, errors.New("%v: %d args", h, len(args))
		}

		return r.ThreadStaticBase(args[0])
	}

	return 0, errors.New("unsupported helper %v", h)
}

// RuntimeLookup resolves a generic dictionary slot, filling it when the dictionary has room.
func (r *Runtime) RuntimeLookup(ctx, sig uint64) (int64, error) {
	l, ok := r.lookups.Lookup(sig)
	if !ok {
		return 0, errors.New("no lookup for signature %#x", sig)
	}

	err := l.Validate()
	if err != nil {
		return 0, errors.Wrap(err, "signature %#x", sig)
	}

	slot, lastBase, err := r.dictSlot(ctx, l)
	if err != nil {
		return 0, err
	}

	inRange := true

	if l.NeedsSizeCheck() {
		size, err := r.Mem.Load(lastBase+uint64(l.SizeOffset), 8)
		if err != nil {
			return 0, err
		}

		inRange = int64(size) > l.LastOffset()
	}

	if inRange {
		v, err := r.Mem.Load(slot, 8)
		if err != nil {
			return 0, err
		}

		if v != 0 {
			return int64(v), nil
		}
	}

	v, ok := r.Resolve[sig]
	if !ok {
		return 0, errors.New("signature %#x does not resolve", sig)
	}

	if inRange {
		err = r.Mem.Store(slot, 8, v)
		if err != nil {
			return 0, err
		}
	}

	return int64(v), nil
}

// dictSlot walks the indirection chain from the generic context.
func (r *Runtime) dictSlot(ctx uint64, l rtinfo.RuntimeLookup) (slot, lastBase uint64, err error) {
	slot = ctx

	for i := 0; i < l.Indirections; i++ {
		indirect := i == 1 && l.IndirectFirstOffset || i == 2 && l.IndirectSecondOffset
		base := slot

		if i != 0 {
			slot, err = r.Mem.Load(slot, 8)
			if err != nil {
				return 0, 0, err
			}
		}

		if indirect {
			slot += base
		}

		lastBase = slot
		slot += uint64(l.Offsets[i])
	}

	return slot, lastBase, nil
}

// StaticBaseHelper runs the class constructor once and returns the statics base.
func (r *Runtime) StaticBaseHelper(h cfg.Helper, cls cfg.ClassHandle) (int64, error) {
	c, ok := r.classes[cls]
	if !ok {
		return 0, errors.New("unknown class %#x", cls)
	}

	inited, err := r.isInited(c)
	if err != nil {
		return 0, err
	}

	if !inited {
		r.event("cctor", int64(cls))

		err = r.markInited(c)
		if err != nil {
			return 0, err
		}
	}

	info, ok := r.StaticHelper(h)
	if !ok || info.Returns != rtinfo.ReturnsStaticBase {
		return 0, nil
	}

	base, err := r.staticBase(c, info.GC)

	return int64(base), err
}

// ThreadStaticBase returns the thread static block of the type,
// allocating and caching it on first access from the thread.
func (r *Runtime) ThreadStaticBase(idx int64) (int64, error) {
	if r.TLS == nil {
		return 0, errors.New("no thread static blocks")
	}

	max, blocks, err := r.threadCache()
	if err != nil {
		return 0, err
	}

	if idx >= 0 && idx <= max {
		v, err := r.Mem.Load(blocks+uint64(idx*8), 8)
		if err != nil {
			return 0, err
		}

		if v != 0 {
			return int64(v), nil
		}
	}

	base, ok := r.ThreadStatics[idx]
	if !ok {
		base = r.Alloc(64)
	}

	r.event("thread static init", idx)

	err = r.cacheThreadStatic(idx, base)
	if err != nil {
		return 0, err
	}

	return int64(base), nil
}

// GetUtf8Bytes encodes srcLen UTF-16 chars at src into dst.
// It returns -1 when dst is too small and writes nothing then.
func (r *Runtime) GetUtf8Bytes(args []int64) (int64, error) {
	if len(args) != 5 {
		return 0, errors.New("GetUtf8Bytes: %d args", len(args))
	}

	this, src, srcLen, dst, dstLen := args[0], uint64(args[1]), args[2], uint64(args[3]), args[4]

	if this == 0 {
		return 0, &Fault{Kind: "null reference", Addr: 0}
	}

	if srcLen < 0 {
		return 0, errors.New("negative length %d", srcLen)
	}

	chars := make([]byte, 2*srcLen)

	err := r.Mem.Read(src, chars)
	if err != nil {
		return 0, err
	}

	data, err := utf16le.NewDecoder().Bytes(chars)
	if err != nil {
		return 0, errors.Wrap(err, "decode")
	}

	if int64(len(data)) > dstLen {
		return -1, nil
	}

	if len(data) != 0 {
		err = r.Mem.Write(dst, data)
		if err != nil {
			return 0, err
		}
	}

	return int64(len(data)), nil
}
