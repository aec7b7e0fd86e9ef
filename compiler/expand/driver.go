package expand

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/phase"
)

type (
	Strategy int

	// Mode selects the calls a scan offers to the strategy.
	Mode int

	expandFunc func(s *State, ctx context.Context, b *cfg.Block, st *cfg.Stmt, call *cfg.Node) (bool, error)

	strategy struct {
		name string
		hint cfg.Hints
		mode Mode

		// optimizing phases don't run in minopts or when optimizing for size
		optimizing bool
		skipRare   bool

		expand expandFunc
	}
)

const (
	RuntimeLookup Strategy = iota
	StaticInit
	ThreadLocal
	Intrinsics
)

const (
	ScanHelpers Mode = iota
	ScanIntrinsics
)

var strategies = [...]strategy{
	RuntimeLookup: {
		name:   "expand: runtime lookups",
		hint:   cfg.HasRuntimeLookup,
		mode:   ScanHelpers,
		expand: (*State).expandRuntimeLookup,
	},
	StaticInit: {
		name:       "expand: static init",
		hint:       cfg.HasStaticInit,
		mode:       ScanHelpers,
		optimizing: true,
		skipRare:   true,
		expand:     (*State).expandStaticInit,
	},
	ThreadLocal: {
		name:       "expand: thread local access",
		hint:       cfg.HasTLSAccess,
		mode:       ScanHelpers,
		optimizing: true,
		skipRare:   true,
		expand:     (*State).expandThreadLocal,
	},
	Intrinsics: {
		name:       "expand: intrinsics",
		hint:       cfg.HasSpecialIntrinsic,
		mode:       ScanIntrinsics,
		optimizing: true,
		skipRare:   true,
		expand:     (*State).expandIntrinsic,
	},
}

var intrinsics = [...]expandFunc{
	cfg.IntrinsicGetUtf8Bytes: (*State).expandGetUtf8Bytes,
}

func (k Strategy) String() string {
	if k >= 0 && int(k) < len(strategies) {
		return strategies[k].name
	}

	return "unknown strategy"
}

// Run expands every eligible call of one kind in the graph.
// Blocks are visited in layout order. After an expansion the scan resumes
// at the continuation, skipping the prefix and the blocks the expansion built:
// calls left there were already offered or are fallbacks with the mark consumed.
// Each expansion consumes the call's eligibility, which bounds the number of rescans.
func (s *State) Run(ctx context.Context, k Strategy) (st phase.Status, err error) {
	x := strategies[k]
	g := s.Graph

	if g.Hints&x.hint == 0 {
		return phase.NothingChanged, nil
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, x.name, "graph", g.Name)
	defer tr.Finish("err", &err, "status", &st)

	if x.optimizing && !s.Config.Optimize {
		tr.Printw("optimizations disabled")
		return phase.NothingChanged, nil
	}

	if x.optimizing && s.Config.PreferSize {
		tr.Printw("optimizing for size")
		return phase.NothingChanged, nil
	}

	skipRare := x.skipRare && s.Config.SkipRarelyRun

	var expanded int

blocks:
	for i := 0; i < len(g.Layout); i++ {
		b := g.Blocks[g.Layout[i]]

		if skipRare && b.IsRunRarely() {
			continue
		}

		for {
			s.cont = nil

			ok, err := s.expandBlock(ctx, b, x)
			if inv, isInv := err.(*InvariantError); isInv && !inv.Fatal && !s.Config.Strict {
				tr.Printw("invariant violated, stop phase", "block", b.ID, "reason", inv.Reason, "at", inv.PC)
				break blocks
			}
			if err != nil {
				return st, err
			}

			if !ok {
				break
			}

			expanded++
			st = phase.Modified

			if s.cont != nil {
				b = s.cont
				i = g.LayoutIndex(b.ID)
			}
		}
	}

	tr.Printw("expanded", "calls", expanded)

	if st == phase.Modified && s.Config.Optimize {
		reordered := g.Reorder()
		reach := g.ComputeBasics()

		tr.V("cleanup").Printw("layout cleanup", "reordered", reordered, "reachable", reach)
	}

	return st, nil
}

// expandBlock offers calls of b to the strategy in execution order
// and stops after the first successful expansion.
func (s *State) expandBlock(ctx context.Context, b *cfg.Block, x strategy) (ok bool, err error) {
	for _, st := range b.Stmts {
		if !st.HasCall() {
			continue
		}

		st.Walk(func(use **cfg.Node) bool {
			n := *use

			switch x.mode {
			case ScanHelpers:
				if !n.IsHelperCall() {
					return true
				}
			case ScanIntrinsics:
				if !n.IsCall() || !n.Call.Special.Pending() {
					return true
				}
			}

			ok, err = x.expand(s, ctx, b, st, n)

			return !ok && err == nil
		})

		if ok || err != nil {
			return ok, err
		}
	}

	return false, nil
}

func (s *State) expandIntrinsic(ctx context.Context, b *cfg.Block, st *cfg.Stmt, call *cfg.Node) (bool, error) {
	ni := call.Call.Intrinsic

	if ni < 0 || int(ni) >= len(intrinsics) || intrinsics[ni] == nil {
		return false, nil
	}

	return intrinsics[ni](s, ctx, b, st, call)
}

// skip reports an expected reason not to expand the call.
func skip(ctx context.Context, topic string, call *cfg.Node, reason string, kvs ...any) (bool, error) {
	tr := tlog.SpanFromContext(ctx)

	if tr.If(topic) {
		tr.Printw(reason, append([]any{"call", call.Call.Helper, "intrinsic", call.Call.Intrinsic}, kvs...)...)
	}

	return false, nil
}
