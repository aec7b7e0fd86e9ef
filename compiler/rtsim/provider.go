package rtsim

import (
	"golang.org/x/text/encoding/unicode"
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/rtinfo"
)

// String object layout.
const (
	stringClassOffset  = 0
	stringLengthOffset = 8
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func (r *Runtime) StaticHelper(h cfg.Helper) (rtinfo.StaticHelper, bool) {
	x, ok := r.Helpers[h.String()]
	if !ok {
		return rtinfo.StaticHelper{}, false
	}

	res := rtinfo.StaticHelper{GC: x.GC}

	switch x.Returns {
	case "", "base":
		res.Returns = rtinfo.ReturnsStaticBase
	case "unused":
		res.Returns = rtinfo.ReturnsUnused
	default:
		return rtinfo.StaticHelper{}, false
	}

	return res, true
}

func (r *Runtime) ClassInitFlag(h cfg.ClassHandle) (rtinfo.ClassInitFlag, bool) {
	cls, ok := r.classes[h]
	if !ok || cls.Flag.Addr.Addr == 0 {
		return rtinfo.ClassInitFlag{}, false
	}

	return cls.Flag, true
}

func (r *Runtime) StaticBase(h cfg.ClassHandle, gc bool) (rtinfo.ConstLookup, bool) {
	cls, ok := r.classes[h]
	if !ok {
		return rtinfo.ConstLookup{}, false
	}

	base := cls.Base
	if gc {
		base = cls.GCBase
	}

	return base, base.Addr != 0
}

func (r *Runtime) ThreadStaticBlocks() (rtinfo.ThreadStaticBlocks, bool) {
	if r.TLS == nil {
		return rtinfo.ThreadStaticBlocks{}, false
	}

	return *r.TLS, true
}

func (r *Runtime) ObjectClass(obj cfg.ObjectHandle) cfg.ClassHandle {
	v, err := r.Mem.Load(uint64(obj)+stringClassOffset, 8)
	if err != nil {
		return 0
	}

	return cfg.ClassHandle(v)
}

func (r *Runtime) StringClass() cfg.ClassHandle { return r.Config.StringClass }

func (r *Runtime) StringChar(obj cfg.ObjectHandle, i int) (uint16, bool) {
	if !r.strings[obj] {
		return 0, false
	}

	n, err := r.Mem.Load(uint64(obj)+stringLengthOffset, 4)
	if err != nil || i < 0 || i >= int(n) {
		return 0, false
	}

	ch, err := r.Mem.Load(uint64(obj)+rtinfo.StringCharsOffset+uint64(2*i), 2)
	if err != nil {
		return 0, false
	}

	return uint16(ch), true
}

func (r *Runtime) MaxUnrollBytes() int {
	if r.Config.MaxUnrollBytes == 0 {
		return defaultMaxUnrollBytes
	}

	return r.Config.MaxUnrollBytes
}

func (r *Runtime) putString(obj cfg.ObjectHandle, s string) error {
	if r.StringClass() == 0 {
		return errors.New("no string class")
	}

	chars, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return errors.Wrap(err, "encode")
	}

	a := uint64(obj)

	err = r.Mem.Store(a+stringClassOffset, 8, uint64(r.StringClass()))
	if err != nil {
		return err
	}

	err = r.Mem.Store(a+stringLengthOffset, 4, uint64(len(chars)/2))
	if err != nil {
		return err
	}

	err = r.Mem.Write(a+rtinfo.StringCharsOffset, chars)
	if err != nil {
		return err
	}

	r.strings[obj] = true

	return nil
}

// initClassState puts the flag into the "not initialized" state
// and allocates the statics reached through indirection cells.
func (r *Runtime) initClassState(cls *Class) (err error) {
	if r.NativeAOT && cls.Flag.Addr.Addr != 0 {
		err = r.Mem.Store(cls.Flag.Addr.Addr+uint64(cls.Flag.Offset), 8, 1)
		if err != nil {
			return errors.Wrap(err, "init flag")
		}
	}

	for _, base := range []rtinfo.ConstLookup{cls.Base, cls.GCBase} {
		if base.Addr == 0 || base.Access != rtinfo.AccessIndirect {
			continue
		}

		err = r.Mem.Store(base.Addr, 8, r.Alloc(64))
		if err != nil {
			return errors.Wrap(err, "static base cell")
		}
	}

	return nil
}

func (r *Runtime) isInited(cls *Class) (bool, error) {
	f := cls.Flag

	if f.Addr.Addr == 0 {
		return false, nil
	}

	if r.NativeAOT {
		v, err := r.Mem.Load(f.Addr.Addr+uint64(f.Offset), 8)
		return v == 0, err
	}

	mask := uint64(f.Mask)
	if mask == 0 {
		mask = 1
	}

	v, err := r.Mem.Load(f.Addr.Addr, 4)

	return v&mask == mask, err
}

func (r *Runtime) markInited(cls *Class) error {
	f := cls.Flag

	if f.Addr.Addr == 0 {
		return nil
	}

	if r.NativeAOT {
		return r.Mem.Store(f.Addr.Addr+uint64(f.Offset), 8, 0)
	}

	mask := uint64(f.Mask)
	if mask == 0 {
		mask = 1
	}

	v, err := r.Mem.Load(f.Addr.Addr, 4)
	if err != nil {
		return err
	}

	return r.Mem.Store(f.Addr.Addr, 4, v|mask)
}

func (r *Runtime) staticBase(cls *Class, gc bool) (uint64, error) {
	base := cls.Base
	if gc {
		base = cls.GCBase
	}

	if base.Access == rtinfo.AccessIndirect {
		return r.Mem.Load(base.Addr, 8)
	}

	return base.Addr, nil
}

// initTLS builds the thread local storage chain down to an empty
// thread static blocks cache.
func (r *Runtime) initTLS() error {
	t := r.TLS
	idx := t.TLSIndex.Addr

	slots := r.Alloc(int(idx+1) * 8)

	err := r.Mem.Store(r.ThreadBase+uint64(t.OffsetOfThreadLocalStoragePointer), 8, slots)
	if err != nil {
		return err
	}

	size := t.OffsetOfMaxThreadStaticBlocks
	if t.OffsetOfThreadStaticBlocks > size {
		size = t.OffsetOfThreadStaticBlocks
	}

	r.tlsBlock = r.Alloc(int(size) + 8)

	err = r.Mem.Store(slots+idx*8, 8, r.tlsBlock)
	if err != nil {
		return err
	}

	return r.Mem.Store(r.tlsBlock+uint64(t.OffsetOfMaxThreadStaticBlocks), 4, uint64(0xffff_ffff))
}

func (r *Runtime) threadCache() (max int64, blocks uint64, err error) {
	t := r.TLS

	m, err := r.Mem.Load(r.tlsBlock+uint64(t.OffsetOfMaxThreadStaticBlocks), 4)
	if err != nil {
		return 0, 0, err
	}

	blocks, err = r.Mem.Load(r.tlsBlock+uint64(t.OffsetOfThreadStaticBlocks), 8)
	if err != nil {
		return 0, 0, err
	}

	return int64(int32(m)), blocks, nil
}

// cacheThreadStatic stores base for the type index, growing the cache as needed.
func (r *Runtime) cacheThreadStatic(idx int64, base uint64) error {
	if r.TLS == nil {
		return errors.New("no thread static blocks")
	}

	t := r.TLS

	max, blocks, err := r.threadCache()
	if err != nil {
		return err
	}

	if idx > max {
		grown := r.Alloc(int(idx+1) * 8)

		for i := int64(0); i <= max; i++ {
			v, err := r.Mem.Load(blocks+uint64(i*8), 8)
			if err != nil {
				return err
			}

			err = r.Mem.Store(grown+uint64(i*8), 8, v)
			if err != nil {
				return err
			}
		}

		blocks = grown

		err = r.Mem.Store(r.tlsBlock+uint64(t.OffsetOfThreadStaticBlocks), 8, blocks)
		if err != nil {
			return err
		}

		err = r.Mem.Store(r.tlsBlock+uint64(t.OffsetOfMaxThreadStaticBlocks), 4, uint64(idx))
		if err != nil {
			return err
		}
	}

	return r.Mem.Store(blocks+uint64(idx*8), 8, base)
}
