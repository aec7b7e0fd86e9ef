// Package expand rewrites slow runtime helper calls into a fast path guarded by cheap checks,
// keeping the original call as the fallback.
//
// Every expansion splits the block right before the call, builds the check, fast path
// and fallback blocks between the prefix and the continuation, and hands the call's
// value to the continuation through a temp.
package expand

import (
	"context"
	"fmt"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/phase"
	"github.com/slowlang/slowjit/compiler/rtinfo"
	"github.com/slowlang/slowjit/compiler/tp"
	"github.com/slowlang/slowjit/compiler/vn"
)

type (
	Target string

	Config struct {
		Optimize   bool   `yaml:"optimize"`
		PreferSize bool   `yaml:"prefer_size"`
		NativeAOT  bool   `yaml:"native_aot"`
		Target     Target `yaml:"target"`

		PointerSize int `yaml:"pointer_size"`
		// MaxRegSize is the widest store the target can do with a single instruction.
		MaxRegSize int `yaml:"max_reg_size"`

		SkipRarelyRun bool `yaml:"skip_rarely_run"`

		// Strict makes broken invariants fatal to the compilation.
		// Otherwise the phase stops and keeps what it has already expanded.
		Strict bool `yaml:"strict"`
	}

	// State is shared by all expansions of one method.
	State struct {
		Graph   *cfg.Graph
		Info    rtinfo.Provider
		Values  *vn.Store
		Lookups *rtinfo.LookupTable
		Config  Config

		// cont is the continuation of the last linked expansion.
		cont *cfg.Block
	}

	// InvariantError means an earlier phase left inconsistent state behind.
	InvariantError struct {
		Reason string
		PC     loc.PC

		// Fatal errors were found after the graph was edited and ignore Strict.
		Fatal bool
	}
)

const (
	TargetAMD64 Target = "amd64"
	TargetARM64 Target = "arm64"
	TargetARM   Target = "arm"
)

func DefaultConfig() Config {
	return Config{
		Optimize:      true,
		Target:        TargetAMD64,
		PointerSize:   8,
		MaxRegSize:    16,
		SkipRarelyRun: true,
		Strict:        true,
	}
}

func New(g *cfg.Graph, info rtinfo.Provider, values *vn.Store, lookups *rtinfo.LookupTable, c Config) *State {
	if values == nil {
		values = vn.New()
	}

	if lookups == nil {
		lookups = rtinfo.NewLookupTable()
	}

	return &State{
		Graph:   g,
		Info:    info,
		Values:  values,
		Lookups: lookups,
		Config:  c,
	}
}

// Phases returns the expansion phases in pipeline order.
func (s *State) Phases() []phase.Phase {
	return []phase.Phase{
		{Name: "expand_runtime_lookups", Run: s.ExpandRuntimeLookups},
		{Name: "expand_static_init", Run: s.ExpandStaticInit},
		{Name: "expand_tls", Run: s.ExpandThreadLocalAccess},
		{Name: "expand_intrinsics", Run: s.ExpandIntrinsics},
	}
}

func (s *State) ExpandRuntimeLookups(ctx context.Context) (phase.Status, error) {
	return s.Run(ctx, RuntimeLookup)
}

func (s *State) ExpandStaticInit(ctx context.Context) (phase.Status, error) {
	return s.Run(ctx, StaticInit)
}

func (s *State) ExpandThreadLocalAccess(ctx context.Context) (phase.Status, error) {
	return s.Run(ctx, ThreadLocal)
}

func (s *State) ExpandIntrinsics(ctx context.Context) (phase.Status, error) {
	return s.Run(ctx, Intrinsics)
}

// NewRuntimeLookupCall creates a runtime lookup helper call eligible for expansion
// and registers its descriptor for the expansion to find it later.
func NewRuntimeLookupCall(g *cfg.Graph, tab *rtinfo.LookupTable, l rtinfo.RuntimeLookup, ctxTree *cfg.Node) *cfg.Node {
	sig := cfg.Handle(l.Signature)
	sig.Flags |= cfg.FlagDontCSE // ends up in the fallback block

	h := l.Helper
	if h == cfg.HelperNone {
		h = cfg.HelperRuntimeLookup
	}

	call := cfg.NewHelperCall(h, tp.IntPtr, ctxTree, sig)
	call.Call.RuntimeLookup = cfg.MarkPending

	g.Hints |= cfg.HasRuntimeLookup

	if tab.Register(l) {
		tlog.V("expand_lookup").Printw("lookup registered", "sig", tlog.FormatNext("%#x"), l.Signature)
	}

	return call
}

func (s *State) violation(format string, args ...any) error {
	return &InvariantError{
		Reason: fmt.Sprintf(format, args...),
		PC:     loc.Caller(1),
	}
}

// broken reports an inconsistency found after the graph was edited.
func (s *State) broken(format string, args ...any) error {
	return &InvariantError{
		Reason: fmt.Sprintf(format, args...),
		PC:     loc.Caller(1),
		Fatal:  true,
	}
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Reason
}

func (s *State) pointerSize() int64 {
	if s.Config.PointerSize == 0 {
		return 8
	}

	return int64(s.Config.PointerSize)
}

func (s *State) maxRegSize() int {
	if s.Config.MaxRegSize == 0 {
		return 8
	}

	return s.Config.MaxRegSize
}
