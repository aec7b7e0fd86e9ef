// Package rtinfo describes what the runtime tells the compiler about helper calls:
// the fixed-shape data each expansion needs and the interface answering for it.
package rtinfo

import (
	"strconv"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/slowjit/compiler/cfg"
)

type (
	AccessType int

	// ConstLookup is an address embedded in code, either directly or through a cell.
	ConstLookup struct {
		Addr   uint64     `yaml:"addr"`
		Access AccessType `yaml:"access"`
	}

	// Descriptor is one of RuntimeLookup, StaticInit, ThreadStaticBlocks or LiteralBytes.
	Descriptor interface {
		descriptor()
	}

	// RuntimeLookup is a generic dictionary lookup: a chain of indirections starting
	// at the generic context, with an optional check of the dictionary size.
	RuntimeLookup struct {
		Signature    uint64     `yaml:"signature"`
		Helper       cfg.Helper `yaml:"-"`
		Indirections int        `yaml:"indirections"`
		Offsets      []int64    `yaml:"offsets"`

		// IndirectFirstOffset adds the value loaded at step 1 to its own address.
		IndirectFirstOffset bool `yaml:"indirect_first"`
		// IndirectSecondOffset does the same for step 2.
		IndirectSecondOffset bool `yaml:"indirect_second"`

		// SizeOffset locates the dictionary size relative to the last dictionary
		// base, NoSizeCheck if the dictionary never grows.
		SizeOffset int64 `yaml:"size_offset"`

		TestForNull bool `yaml:"test_for_null"`
	}

	StaticHelper struct {
		GC      bool
		Returns ReturnKind
	}

	ReturnKind int

	// ClassInitFlag locates the "class initialized" state of a class.
	// JIT targets test load32(Addr) & Mask == Mask.
	// NativeAOT targets test load(Addr + Offset) == 0.
	ClassInitFlag struct {
		Addr   ConstLookup `yaml:"addr"`
		Offset int64       `yaml:"offset"`
		Mask   int64       `yaml:"mask"`
	}

	StaticInit struct {
		Class   cfg.ClassHandle
		Flag    ClassInitFlag
		Base    ConstLookup
		HasBase bool
	}

	// ThreadStaticBlocks describes the per thread cache of static blocks.
	// The thread local storage pointer lives at OffsetOfThreadLocalStoragePointer
	// from the thread segment; TLSIndex selects the module slot in it.
	// MaxThreadStaticBlocks is the highest cached type index.
	ThreadStaticBlocks struct {
		TLSIndex                          ConstLookup `yaml:"tls_index"`
		OffsetOfThreadLocalStoragePointer int64       `yaml:"offset_of_tls_pointer"`
		OffsetOfMaxThreadStaticBlocks     int64       `yaml:"offset_of_max_blocks"`
		OffsetOfThreadStaticBlocks        int64       `yaml:"offset_of_blocks"`
	}

	// LiteralBytes is a string literal narrowed to 8-bit code units.
	LiteralBytes struct {
		Obj  cfg.ObjectHandle
		Data []byte
	}

	// Provider is the runtime side of the compiler interface.
	// Failures mean "do not expand", never an error by themselves.
	Provider interface {
		StaticHelper(h cfg.Helper) (StaticHelper, bool)
		ClassInitFlag(cls cfg.ClassHandle) (ClassInitFlag, bool)
		StaticBase(cls cfg.ClassHandle, gc bool) (ConstLookup, bool)
		ThreadStaticBlocks() (ThreadStaticBlocks, bool)

		ObjectClass(obj cfg.ObjectHandle) cfg.ClassHandle
		StringClass() cfg.ClassHandle
		StringChar(obj cfg.ObjectHandle, i int) (uint16, bool)

		// MaxUnrollBytes is the memcpy unrolling limit shared by all copy unrolling.
		MaxUnrollBytes() int
	}
)

const (
	AccessValue AccessType = iota
	AccessIndirect
)

const (
	ReturnsStaticBase ReturnKind = iota
	ReturnsUnused
)

const (
	NoSizeCheck     = -1
	MaxIndirections = 4

	// StringCharsOffset is where the first char of a string object lives.
	StringCharsOffset = 12

	// MaxUnrollCeiling caps MaxUnrollBytes for literal narrowing.
	MaxUnrollCeiling = 256
)

var accessNames = [...]string{
	AccessValue:    "value",
	AccessIndirect: "indirect",
}

func (RuntimeLookup) descriptor()      {}
func (StaticInit) descriptor()         {}
func (ThreadStaticBlocks) descriptor() {}
func (LiteralBytes) descriptor()       {}

func (l RuntimeLookup) NeedsSizeCheck() bool {
	return l.SizeOffset != NoSizeCheck
}

// LastOffset is the offset of the dictionary slot itself.
func (l RuntimeLookup) LastOffset() int64 {
	return l.Offsets[l.Indirections-1]
}

// Validate checks the descriptor can be expanded as a null checked slot load.
func (l RuntimeLookup) Validate() error {
	switch {
	case l.Indirections <= 0 || l.Indirections > MaxIndirections:
		return errors.New("bad indirection count %d", l.Indirections)
	case len(l.Offsets) < l.Indirections:
		return errors.New("%d offsets for %d indirections", len(l.Offsets), l.Indirections)
	case !l.TestForNull:
		return errors.New("lookup is not null tested")
	case l.IndirectFirstOffset && l.Indirections < 2, l.IndirectSecondOffset && l.Indirections < 3:
		return errors.New("indirect offset beyond the indirection chain")
	case l.NeedsSizeCheck() && l.LastOffset() == 0:
		return errors.New("size check without a slot offset")
	}

	return nil
}

func (l RuntimeLookup) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)
	b = e.AppendKeyInt64(b, "sig", int64(l.Signature))
	b = e.AppendKeyInt64(b, "ind", int64(l.Indirections))
	b = e.AppendKeyInt64(b, "size_off", l.SizeOffset)

	return b
}

// UnmarshalYAML decodes a lookup that is null tested and has no size check
// unless said otherwise.
func (l *RuntimeLookup) UnmarshalYAML(n *yaml.Node) error {
	type plain RuntimeLookup

	p := plain{
		Helper:      cfg.HelperRuntimeLookup,
		SizeOffset:  NoSizeCheck,
		TestForNull: true,
	}

	err := n.Decode(&p)
	if err != nil {
		return err
	}

	*l = RuntimeLookup(p)

	return nil
}

func (a AccessType) String() string {
	if a >= 0 && int(a) < len(accessNames) {
		return accessNames[a]
	}

	return "access(" + strconv.Itoa(int(a)) + ")"
}

func (a AccessType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AccessType) UnmarshalText(b []byte) error {
	for x, n := range accessNames {
		if n == string(b) {
			*a = AccessType(x)
			return nil
		}
	}

	return errors.New("unknown access type %q", b)
}
