package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/fixture"
	"github.com/slowlang/slowjit/compiler/format"
	"github.com/slowlang/slowjit/compiler/interp"
	"github.com/slowlang/slowjit/compiler/phase"
	"github.com/slowlang/slowjit/compiler/rtinfo"
	"github.com/slowlang/slowjit/compiler/rtsim"
	"github.com/slowlang/slowjit/compiler/tp"
)

type testCase struct {
	*fixture.Case

	s      *State
	before *cfg.Graph
}

func loadFile(t *testing.T, name string) *testCase {
	t.Helper()

	c, err := fixture.Load(context.Background(), "../../testdata/"+name)
	require.NoError(t, err)

	return newTestCase(t, c)
}

func loadText(t *testing.T, text string) *testCase {
	t.Helper()

	c, err := fixture.Parse(context.Background(), []byte(text))
	require.NoError(t, err)

	return newTestCase(t, c)
}

func newTestCase(t *testing.T, c *fixture.Case) *testCase {
	t.Helper()

	conf := DefaultConfig()

	if c.File.Config.Kind != 0 {
		require.NoError(t, c.File.Config.Decode(&conf))
	}

	rt, err := c.NewRuntime(rtsim.Scenario{}, conf.NativeAOT)
	require.NoError(t, err)

	return &testCase{
		Case:   c,
		s:      New(c.Graph, rt, c.Values, c.Lookups, conf),
		before: c.Graph.Clone(),
	}
}

func (tc *testCase) expand(t *testing.T) phase.Status {
	t.Helper()

	st, err := phase.Run(context.Background(), tc.Graph, tc.s.Phases(), phase.Config{Verify: true})
	require.NoError(t, err)

	return st
}

// run executes the graph in the named scenario.
func (tc *testCase) run(t *testing.T, g *cfg.Graph, name string) (interp.Result, *rtsim.Runtime) {
	t.Helper()

	var sc rtsim.Scenario

	for _, x := range tc.Scenarios {
		if x.Name == name {
			sc = x
		}
	}

	require.Equal(t, name, sc.Name, "no such scenario")

	rt, err := tc.NewRuntime(sc, tc.s.Config.NativeAOT)
	require.NoError(t, err)

	res, err := interp.Run(context.Background(), g, rt, sc.Temps)
	require.NoError(t, err)

	return res, rt
}

func (tc *testCase) block(i int) *cfg.Block {
	return tc.Graph.Blocks[tc.Graph.Layout[i]]
}

func stmts(g *cfg.Graph, b *cfg.Block) (r []string) {
	for _, s := range b.Stmts {
		r = append(r, string(format.Node(nil, g, s.Root)))
	}

	return r
}

func weights(g *cfg.Graph) (r []cfg.Weight) {
	g.Range(func(b *cfg.Block) bool {
		r = append(r, b.Weight)
		return true
	})

	return r
}

func TestRuntimeLookup(t *testing.T) {
	tc := loadFile(t, "lookup.yaml")
	g := tc.Graph

	assert.Equal(t, phase.Modified, tc.expand(t))

	require.Len(t, g.Layout, 6)

	prev, nullcheck, fast, fallback, cont, ret := tc.block(0), tc.block(1), tc.block(2), tc.block(3), tc.block(4), tc.block(5)

	assert.Empty(t, prev.Stmts)

	assert.Equal(t, cfg.KindCond, nullcheck.Kind)
	assert.Equal(t, fallback.ID, nullcheck.Jump)
	assert.Equal(t, []string{
		"(set t2 (load:ptr nf (add:ptr (load:ptr nf inv (add:ptr t0 48:ptr)) 8:ptr)))",
		"(jtrue (eq t2 0:ptr))",
	}, stmts(g, nullcheck))

	assert.Equal(t, cfg.KindAlways, fast.Kind)
	assert.Equal(t, cont.ID, fast.Jump)
	assert.Equal(t, []string{"(set t1 t2)"}, stmts(g, fast))

	assert.Equal(t, cfg.KindNone, fallback.Kind)
	assert.Equal(t, []string{"(set t1 (call:ptr helper:runtime_lookup lookup=done t0 h:0x100))"}, stmts(g, fallback))

	assert.Empty(t, cont.Stmts, "tmp = lookup() statement is replaced by the expansion")
	assert.Equal(t, cfg.KindReturn, ret.Kind)

	assert.Equal(t, []cfg.Weight{100, 100, 80, 20, 100, 100}, weights(g))
	assert.Equal(t, nullcheck.Weight, fast.Weight+fallback.Weight)

	for _, b := range []*cfg.Block{nullcheck, fast, fallback} {
		assert.True(t, b.Flags&cfg.FlagInternal != 0, "%v", b)
		assert.Equal(t, prev.Loop, b.Loop)
	}
}

func TestRuntimeLookupFastPathSkipsHelper(t *testing.T) {
	tc := loadFile(t, "lookup.yaml")

	tc.expand(t)

	res, rt := tc.run(t, tc.Graph, "slot filled")
	assert.Equal(t, int64(0x5555), res.Value)
	assert.Zero(t, rt.HelperCalls[cfg.HelperRuntimeLookup])

	res, rt = tc.run(t, tc.Graph, "slot empty")
	assert.Equal(t, int64(0x7777), res.Value)
	assert.Equal(t, 1, rt.HelperCalls[cfg.HelperRuntimeLookup])

	v, err := rt.Mem.Load(0x30008, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7777), v, "helper fills the slot")

	res, rt = tc.run(t, tc.before, "slot filled")
	assert.Equal(t, int64(0x5555), res.Value)
	assert.Equal(t, 1, rt.HelperCalls[cfg.HelperRuntimeLookup])
}

func TestRuntimeLookupSizeCheck(t *testing.T) {
	tc := loadFile(t, "lookup_size_check.yaml")
	g := tc.Graph

	assert.Equal(t, phase.Modified, tc.expand(t))

	require.Len(t, g.Layout, 6)

	prev, sizeCheck, nullcheck, fast, fallback, cont := tc.block(0), tc.block(1), tc.block(2), tc.block(3), tc.block(4), tc.block(5)

	// the dictionary may be replaced when it grows: its base is not invariant
	assert.Equal(t, []string{
		"(set t2 (load:ptr nf (add:ptr (load:ptr nf inv (add:ptr t0 16:ptr)) 24:ptr)))",
	}, stmts(g, prev))

	assert.Equal(t, []string{"(jtrue (le (load:ptr nf (add:ptr t2 8:ptr)) 64:ptr))"}, stmts(g, sizeCheck))
	assert.Equal(t, fallback.ID, sizeCheck.Jump)

	assert.Equal(t, []string{
		"(set t3 (load:ptr nf (add:ptr t2 64:ptr)))",
		"(jtrue (eq t3 0:ptr))",
	}, stmts(g, nullcheck))
	assert.Equal(t, fallback.ID, nullcheck.Jump)

	assert.Equal(t, []string{"(set t1 t3)"}, stmts(g, fast))
	assert.Equal(t, []string{"(set t1 (call:ptr helper:runtime_lookup lookup=done t0 h:0x200))"}, stmts(g, fallback))
	assert.Equal(t, []string{"(ret (add:ptr t1 1:ptr))"}, stmts(g, cont))

	assert.Equal(t, []cfg.Weight{100, 100, 80, 64, 36, 100}, weights(g))
	assert.Equal(t, sizeCheck.Weight, fast.Weight+fallback.Weight)

	res, rt := tc.run(t, g, "dictionary too small")
	assert.Equal(t, int64(0x8001), res.Value)
	assert.Equal(t, 1, rt.HelperCalls[cfg.HelperRuntimeLookup])

	res, _ = tc.run(t, g, "slot filled")
	assert.Equal(t, int64(0x9001), res.Value)
}

func TestRuntimeLookupInLoopAndTry(t *testing.T) {
	tc := loadText(t, `
name: loop_try
temps:
  - {type: ptr, reason: generic context}
blocks:
  - kind: return
    loop: 3
    region: {try: 1}
    stmts:
      - (ret (add:ptr (call:ptr helper:runtime_lookup lookup t0 h:0x200) 1:ptr))
lookups:
  - signature: 0x200
    indirections: 3
    offsets: [0x10, 0x18, 0x40]
    size_offset: 0x8
runtime:
  resolve: {0x200: 0x8000}
scenarios:
  - name: slot filled
    temps: {0: 0x20000}
    memory:
      - {addr: 0x20010, value: 0x21000}
      - {addr: 0x21018, value: 0x30000}
      - {addr: 0x30008, value: 0x100}
      - {addr: 0x30040, value: 0x9000}
`)
	g := tc.Graph

	assert.Equal(t, phase.Modified, tc.expand(t))

	require.Len(t, g.Layout, 6)

	g.Range(func(b *cfg.Block) bool {
		assert.Equal(t, cfg.LoopID(3), b.Loop, "%v", b)
		assert.Equal(t, cfg.Region{Try: 1}, b.Region, "%v", b)
		return true
	})

	assert.Equal(t, []cfg.Weight{100, 100, 80, 64, 36, 100}, weights(g))
	assert.Contains(t, string(format.Graph(nil, g)), "region=1/0")

	res, rt := tc.run(t, g, "slot filled")
	assert.Equal(t, int64(0x9001), res.Value)
	assert.Zero(t, rt.HelperCalls[cfg.HelperRuntimeLookup])
}

func TestRuntimeLookupContinuationInOtherRegion(t *testing.T) {
	tc := loadText(t, `
name: other_region
temps:
  - {type: ptr, reason: ctx}
blocks:
  - kind: return
    stmts:
      - (ret (call:ptr helper:runtime_lookup lookup t0 h:0x100))
lookups:
  - {signature: 0x100, indirections: 1, offsets: [0x18]}
`)
	tc.s.Config.Strict = false

	saved := strategies[RuntimeLookup].expand
	defer func() { strategies[RuntimeLookup].expand = saved }()

	strategies[RuntimeLookup].expand = func(s *State, ctx context.Context, b *cfg.Block, st *cfg.Stmt, call *cfg.Node) (bool, error) {
		x := s.split(b, st, call)
		x.block.Region = cfg.Region{Try: 2}

		return false, s.link(x)
	}

	_, err := tc.s.ExpandRuntimeLookups(context.Background())

	var inv *InvariantError
	require.ErrorAs(t, err, &inv)
	assert.True(t, inv.Fatal)
	assert.Contains(t, inv.Reason, "different regions")
}

func TestRuntimeLookupTwoInOneBlock(t *testing.T) {
	tc := loadText(t, `
name: two_lookups
temps:
  - {type: ptr, reason: ctx}
  - {type: ptr, reason: first}
blocks:
  - kind: return
    stmts:
      - (set t1 (call:ptr helper:runtime_lookup lookup t0 h:0x100))
      - (ret (add:ptr t1 (call:ptr helper:runtime_lookup lookup t0 h:0x200)))
lookups:
  - {signature: 0x100, indirections: 1, offsets: [0x18]}
  - {signature: 0x200, indirections: 1, offsets: [0x20]}
runtime:
  resolve: {0x100: 0x1000, 0x200: 0x2000}
scenarios:
  - name: filled
    temps: {0: 0x20000}
    memory:
      - {addr: 0x20018, value: 0x5000}
      - {addr: 0x20020, value: 0x6000}
  - name: empty
    temps: {0: 0x20000}
`)
	g := tc.Graph

	st, err := tc.s.ExpandRuntimeLookups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, phase.Modified, st)

	require.Len(t, g.Layout, 9)

	var fallbacks int

	g.Range(func(b *cfg.Block) bool {
		for _, s := range b.Stmts {
			s.Walk(func(use **cfg.Node) bool {
				if n := *use; n.IsHelperCall() {
					fallbacks++
					assert.False(t, n.Call.RuntimeLookup.Pending(), "%v", b)
				}

				return true
			})
		}

		return true
	})

	assert.Equal(t, 2, fallbacks)

	res, rt := tc.run(t, g, "filled")
	assert.Equal(t, int64(0xb000), res.Value)
	assert.Empty(t, rt.HelperCalls)

	res, rt = tc.run(t, g, "empty")
	assert.Equal(t, int64(0x3000), res.Value)
	assert.Equal(t, 2, rt.HelperCalls[cfg.HelperRuntimeLookup])
}

func TestRuntimeLookupWithoutOptimizations(t *testing.T) {
	tc := loadFile(t, "lookup.yaml")
	tc.s.Config.Optimize = false

	assert.Equal(t, phase.Modified, tc.expand(t))

	g := tc.Graph
	nullcheck, fast := tc.block(1), tc.block(2)

	assert.Equal(t, []string{"(jtrue (eq (load:ptr nf (add:ptr (load:ptr nf inv (add:ptr t0 48:ptr)) 8:ptr)) 0:ptr))"}, stmts(g, nullcheck))
	assert.Equal(t, []string{"(set t1 (load:ptr nf (add:ptr (load:ptr nf inv (add:ptr t0 48:ptr)) 8:ptr)))"}, stmts(g, fast))
}

func TestRuntimeLookupSpillsContext(t *testing.T) {
	tc := loadText(t, `
name: spill_ctx
temps:
  - {type: ptr, reason: this}
blocks:
  - kind: return
    stmts:
      - (ret (call:ptr helper:runtime_lookup lookup (load:ptr t0) h:0x100))
lookups:
  - {signature: 0x100, indirections: 1, offsets: [0x18]}
`)
	g := tc.Graph

	tc.expand(t)

	// the context is read once, before the checks
	assert.Equal(t, []string{"(set t2 (load:ptr t0))"}, stmts(g, tc.block(0)))
	assert.Equal(t, []string{
		"(set t3 (load:ptr nf (add:ptr t2 24:ptr)))",
		"(jtrue (eq t3 0:ptr))",
	}, stmts(g, tc.block(1)))
	assert.Equal(t, []string{"(set t1 (call:ptr helper:runtime_lookup lookup=done t2 h:0x100))"}, stmts(g, tc.block(3)))
	assert.Equal(t, []string{"(ret t1)"}, stmts(g, tc.block(4)))
}

func TestRuntimeLookupSkips(t *testing.T) {
	tc := loadText(t, `
name: skips
temps:
  - {type: ptr, reason: ctx}
  - {type: ptr, reason: sig}
  - {type: ptr, reason: res}
blocks:
  - kind: none
    stmts:
      - (set t2 (call:ptr helper:runtime_lookup lookup tail t0 h:0x100))
      - (set t2 (call:ptr helper:runtime_lookup lookup t0 t1))
      - (set t2 (call:ptr helper:runtime_lookup t0 h:0x100))
  - kind: return
    stmts:
      - (ret t2)
lookups:
  - {signature: 0x100, indirections: 1, offsets: [0x18]}
`)
	g := tc.Graph

	text := string(format.Graph(nil, g))

	st, err := tc.s.ExpandRuntimeLookups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, phase.NothingChanged, st)

	for _, s := range tc.block(0).Stmts {
		assert.False(t, s.Root.Args[0].Call.RuntimeLookup.Pending(), "mark is consumed even when skipped")
	}

	assert.Len(t, g.Layout, 2)
	assert.NotEqual(t, text, string(format.Graph(nil, g)), "only the marks changed")
}

func TestRuntimeLookupInRareBlock(t *testing.T) {
	tc := loadText(t, `
name: rare
temps:
  - {type: ptr, reason: ctx}
blocks:
  - kind: return
    rare: true
    stmts:
      - (ret (call:ptr helper:runtime_lookup lookup t0 h:0x100))
lookups:
  - {signature: 0x100, indirections: 1, offsets: [0x18]}
`)

	assert.Equal(t, phase.Modified, tc.expand(t))
	assert.Len(t, tc.Graph.Layout, 5)

	tc.Graph.Range(func(b *cfg.Block) bool {
		assert.True(t, b.IsRunRarely(), "%v", b)
		return true
	})
}

func TestRuntimeLookupViolations(t *testing.T) {
	const text = `
name: violations
temps:
  - {type: ptr, reason: ctx}
  - {type: ptr, reason: res}
blocks:
  - kind: none
    stmts:
      - (set t1 (call:ptr helper:runtime_lookup lookup t0 h:0x100))
      - (set t1 (call:ptr helper:runtime_lookup lookup t0 h:0x200))
  - kind: return
    stmts:
      - (ret t1)
lookups:
  - {signature: 0x100, indirections: 1, offsets: [0x18]}
`

	t.Run("strict", func(t *testing.T) {
		tc := loadText(t, text)

		_, err := tc.s.ExpandRuntimeLookups(context.Background())
		require.Error(t, err)

		var inv *InvariantError
		require.ErrorAs(t, err, &inv)
		assert.Contains(t, inv.Reason, "0x200")
		assert.False(t, inv.Fatal)
	})

	t.Run("lenient", func(t *testing.T) {
		tc := loadText(t, text)
		tc.s.Config.Strict = false

		st, err := tc.s.ExpandRuntimeLookups(context.Background())
		require.NoError(t, err)
		assert.Equal(t, phase.Modified, st, "the first lookup stays expanded")

		assert.NoError(t, cfg.Verify(tc.Graph))
	})

	t.Run("bad_descriptor", func(t *testing.T) {
		tc := loadText(t, text)
		tc.Lookups.Register(rtinfo.RuntimeLookup{Signature: 0x200, Indirections: 5})

		_, err := tc.s.ExpandRuntimeLookups(context.Background())

		var inv *InvariantError
		require.ErrorAs(t, err, &inv)
		assert.Contains(t, inv.Reason, "indirection")
	})
}

func TestNewRuntimeLookupCall(t *testing.T) {
	g := cfg.New("f")
	ctxTemp := g.NewTemp(tp.IntPtr, "ctx")

	tab := rtinfo.NewLookupTable()
	l := rtinfo.RuntimeLookup{Signature: 0x300, Indirections: 1, Offsets: []int64{8}, SizeOffset: rtinfo.NoSizeCheck, TestForNull: true}

	call := NewRuntimeLookupCall(g, tab, l, cfg.Local(ctxTemp, tp.IntPtr))

	assert.True(t, call.IsHelperCall())
	assert.Equal(t, cfg.HelperRuntimeLookup, call.Call.Helper)
	assert.True(t, call.Call.RuntimeLookup.Pending())
	assert.True(t, g.Hints&cfg.HasRuntimeLookup != 0)

	require.Len(t, call.Args, 2)
	assert.Equal(t, cfg.FlagHandle|cfg.FlagDontCSE, call.Args[1].Flags)
	assert.Equal(t, int64(0x300), call.Args[1].Aux)

	got, ok := tab.Lookup(0x300)
	require.True(t, ok)
	assert.Equal(t, l, got)

	NewRuntimeLookupCall(g, tab, rtinfo.RuntimeLookup{Signature: 0x300, Indirections: 2}, cfg.Local(ctxTemp, tp.IntPtr))

	got, _ = tab.Lookup(0x300)
	assert.Equal(t, 1, got.Indirections, "registered once")
	assert.Equal(t, 1, tab.Len())
}

func TestIdempotent(t *testing.T) {
	for _, name := range []string{
		"lookup.yaml",
		"lookup_size_check.yaml",
		"static_init.yaml",
		"static_init_aot.yaml",
		"tls.yaml",
		"utf8.yaml",
		"utf8_const.yaml",
	} {
		t.Run(name, func(t *testing.T) {
			tc := loadFile(t, name)

			assert.Equal(t, phase.Modified, tc.expand(t))

			text := string(format.Graph(nil, tc.Graph))

			assert.Equal(t, phase.NothingChanged, tc.expand(t))
			assert.Equal(t, text, string(format.Graph(nil, tc.Graph)))
		})
	}
}

func TestHints(t *testing.T) {
	tc := loadFile(t, "lookup.yaml")
	tc.Graph.Hints = 0

	assert.Equal(t, phase.NothingChanged, tc.expand(t), "no hint, no scan")
	assert.True(t, tc.block(0).Stmts[0].Root.Args[0].Call.RuntimeLookup.Pending())
}
