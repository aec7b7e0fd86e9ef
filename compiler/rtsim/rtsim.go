// Package rtsim is a simulated runtime: the metadata the compiler asks for
// and the behavior of the helpers it calls, backed by a sparse memory.
// A graph executed against it before and after expansion must observe the same effects.
package rtsim

import (
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/rtinfo"
)

type (
	Config struct {
		NativeAOT bool `yaml:"native_aot"`

		StringClass    cfg.ClassHandle `yaml:"string_class"`
		MaxUnrollBytes int             `yaml:"max_unroll_bytes"`

		// ThreadBase is the address of the current thread segment.
		ThreadBase uint64 `yaml:"thread_base"`

		Helpers map[string]Helper `yaml:"helpers"`
		Classes []Class           `yaml:"classes"`
		Strings []String          `yaml:"strings"`

		TLS *rtinfo.ThreadStaticBlocks `yaml:"tls"`
		// ThreadStatics is the block the runtime allocates for a type index.
		ThreadStatics map[int64]uint64 `yaml:"thread_statics"`

		// Resolve is what the lookup helper computes for a signature.
		Resolve map[uint64]uint64 `yaml:"resolve"`
		// Methods are the values user methods return.
		Methods map[uint64]int64 `yaml:"methods"`
	}

	Helper struct {
		GC      bool   `yaml:"gc"`
		Returns string `yaml:"returns"`
	}

	Class struct {
		Handle cfg.ClassHandle      `yaml:"handle"`
		Flag   rtinfo.ClassInitFlag `yaml:"flag"`
		Base   rtinfo.ConstLookup   `yaml:"base"`
		GCBase rtinfo.ConstLookup   `yaml:"gc_base"`
	}

	String struct {
		Obj   cfg.ObjectHandle `yaml:"obj"`
		Value string           `yaml:"value"`
	}

	// Scenario is the runtime state a run starts from.
	Scenario struct {
		Name string `yaml:"name"`

		// Temps are initial temp values, keyed by temp number.
		Temps map[int]int64 `yaml:"temps"`

		Memory []Word            `yaml:"memory"`
		Inited []cfg.ClassHandle `yaml:"inited"`

		// ThreadCache prefills the thread static blocks cache.
		ThreadCache map[int64]uint64 `yaml:"thread_cache"`
	}

	Word struct {
		Addr  uint64 `yaml:"addr"`
		Size  int    `yaml:"size"`
		Value uint64 `yaml:"value"`
	}

	Event struct {
		Kind string
		Args []int64
	}

	Runtime struct {
		Config

		Mem *Memory

		// Trace holds effects a program can observe: user calls and class constructors.
		Trace []Event
		// HelperCalls counts helper invocations, a fast path leaves them out.
		HelperCalls map[cfg.Helper]int
		// IntrinsicCalls counts intrinsics that reached the runtime.
		IntrinsicCalls map[cfg.Intrinsic]int

		lookups *rtinfo.LookupTable
		classes map[cfg.ClassHandle]*Class
		strings map[cfg.ObjectHandle]bool

		// tlsBlock is the thread static blocks descriptor of the current thread.
		tlsBlock uint64

		heap uint64
	}
)

const (
	heapStart = 0x10_0000

	defaultMaxUnrollBytes = 64
)

var defaultHelpers = map[string]Helper{
	cfg.HelperNonGCStaticBase.String(): {Returns: "base"},
	cfg.HelperGCStaticBase.String():    {GC: true, Returns: "base"},
	cfg.HelperInitClass.String():       {Returns: "unused"},
}

var _ rtinfo.Provider = &Runtime{}

// New lays out the runtime state described by c and sc.
// Lookup descriptors tell the lookup helper where dictionary slots live.
func New(c Config, lookups *rtinfo.LookupTable, sc Scenario) (*Runtime, error) {
	r := &Runtime{
		Config:         c,
		Mem:            NewMemory(),
		HelperCalls:    map[cfg.Helper]int{},
		IntrinsicCalls: map[cfg.Intrinsic]int{},
		lookups:        lookups,
		classes:        map[cfg.ClassHandle]*Class{},
		strings:        map[cfg.ObjectHandle]bool{},
		heap:           heapStart,
	}

	if r.Helpers == nil {
		r.Helpers = defaultHelpers
	}

	for i := range r.Classes {
		cls := &r.Classes[i]
		r.classes[cls.Handle] = cls

		err := r.initClassState(cls)
		if err != nil {
			return nil, errors.Wrap(err, "class %#x", cls.Handle)
		}
	}

	for _, s := range r.Strings {
		err := r.putString(s.Obj, s.Value)
		if err != nil {
			return nil, errors.Wrap(err, "string %#x", s.Obj)
		}
	}

	if r.TLS != nil {
		err := r.initTLS()
		if err != nil {
			return nil, errors.Wrap(err, "thread static blocks")
		}
	}

	err := r.apply(sc)
	if err != nil {
		return nil, errors.Wrap(err, "scenario %v", sc.Name)
	}

	return r, nil
}

func (r *Runtime) apply(sc Scenario) error {
	for _, w := range sc.Memory {
		size := w.Size
		if size == 0 {
			size = 8
		}

		err := r.Mem.Store(w.Addr, size, w.Value)
		if err != nil {
			return errors.Wrap(err, "memory %#x", w.Addr)
		}
	}

	for _, h := range sc.Inited {
		cls, ok := r.classes[h]
		if !ok {
			return errors.New("unknown class %#x", h)
		}

		err := r.markInited(cls)
		if err != nil {
			return err
		}
	}

	for idx, base := range sc.ThreadCache {
		err := r.cacheThreadStatic(idx, base)
		if err != nil {
			return errors.Wrap(err, "thread cache %d", idx)
		}
	}

	return nil
}

// Alloc returns size zeroed bytes of fresh memory.
func (r *Runtime) Alloc(size int) uint64 {
	p := r.heap
	r.heap += uint64(size+15) &^ 15

	return p
}

// ThreadSegment is the address thread segment relative handles are based at.
func (r *Runtime) ThreadSegment() uint64 { return r.ThreadBase }

func (r *Runtime) event(kind string, args ...int64) {
	r.Trace = append(r.Trace, Event{Kind: kind, Args: args})
}

func (r *Runtime) Load(addr uint64, size int) (uint64, error) { return r.Mem.Load(addr, size) }

func (r *Runtime) Store(addr uint64, size int, v uint64) error { return r.Mem.Store(addr, size, v) }

func (r *Runtime) Read(addr uint64, p []byte) error { return r.Mem.Read(addr, p) }

func (r *Runtime) Write(addr uint64, p []byte) error { return r.Mem.Write(addr, p) }
