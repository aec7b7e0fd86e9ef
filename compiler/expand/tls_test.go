package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/phase"
)

func TestThreadLocal(t *testing.T) {
	tc := loadFile(t, "tls.yaml")
	g := tc.Graph

	assert.Equal(t, phase.Modified, tc.expand(t))

	require.Len(t, g.Layout, 7)

	prev, maxCond, nullCond, fallback, fast, cont := tc.block(0), tc.block(1), tc.block(2), tc.block(3), tc.block(4), tc.block(5)

	assert.Empty(t, prev.Stmts)

	assert.Equal(t, []string{
		"(set t2 (load:ptr nf inv (add:ptr (load:ptr nf inv tls:0x58) h:0x10)))",
		"(jtrue (lt (load:i32 nf inv (add:ptr t2 16:ptr)) 3))",
	}, stmts(g, maxCond))
	assert.Equal(t, fallback.ID, maxCond.Jump)

	assert.Equal(t, []string{
		"(set t3 (load:ptr nf (add:ptr (load:ptr nf inv (add:ptr t2 24:ptr)) (mul:ptr 3 8:ptr))))",
		"(jtrue (ne t3 0:ptr))",
	}, stmts(g, nullCond))
	assert.Equal(t, fast.ID, nullCond.Jump)

	assert.Equal(t, cfg.KindAlways, fallback.Kind)
	assert.Equal(t, cont.ID, fallback.Jump)
	assert.True(t, fallback.IsRunRarely())
	assert.Equal(t, []string{"(set t1 (call:ptr helper:thread_static_base tlsaccess=done 3))"}, stmts(g, fallback))

	// the jump to the layout successor became a fall through
	assert.Equal(t, cfg.KindNone, fast.Kind)
	assert.Equal(t, []string{"(set t1 t3)"}, stmts(g, fast))

	assert.Equal(t, []string{"(set t0 t1)"}, stmts(g, cont))

	assert.Equal(t, []cfg.Weight{100, 100, 100, 0, 100, 100, 100}, weights(g))

	res, rt := tc.run(t, g, "cache hit")
	assert.Equal(t, int64(11), res.Value)
	assert.Zero(t, rt.HelperCalls[cfg.HelperThreadStaticBase])

	for name, want := range map[string]int64{"cache too small": 12, "empty slot": 13} {
		res, rt := tc.run(t, g, name)
		assert.Equal(t, want, res.Value, name)
		assert.Equal(t, 1, rt.HelperCalls[cfg.HelperThreadStaticBase], name)
	}
}

func TestThreadLocalSkips(t *testing.T) {
	t.Run("arm", func(t *testing.T) {
		tc := loadFile(t, "tls.yaml")
		tc.s.Config.Target = TargetARM

		assert.Equal(t, phase.NothingChanged, tc.expand(t))

		call := tc.block(0).Stmts[0].Root.Args[0]
		assert.False(t, call.Call.TLSAccess.Pending())
	})

	t.Run("no_info", func(t *testing.T) {
		tc := loadText(t, tlsNoRuntime)

		assert.Equal(t, phase.NothingChanged, tc.expand(t))
	})

	t.Run("wrong_args", func(t *testing.T) {
		tc := loadText(t, tlsNoRuntime+`
runtime:
  thread_base: 0x7f0000
  tls: {offset_of_tls_pointer: 0x58, offset_of_max_blocks: 0x10, offset_of_blocks: 0x18}
`)
		tc.block(0).Stmts[0].Root.Args[0].Args = nil

		_, err := tc.s.ExpandThreadLocalAccess(context.Background())

		var inv *InvariantError
		require.ErrorAs(t, err, &inv)
		assert.Contains(t, inv.Reason, "0 args")
	})

	t.Run("indirect_index", func(t *testing.T) {
		tc := loadText(t, tlsNoRuntime+`
runtime:
  thread_base: 0x7f0000
  tls: {tls_index: {addr: 0x100, access: indirect}, offset_of_tls_pointer: 0x58}
`)

		_, err := tc.s.ExpandThreadLocalAccess(context.Background())

		var inv *InvariantError
		require.ErrorAs(t, err, &inv)
		assert.Len(t, tc.Graph.Layout, 2)
	})
}

const tlsNoRuntime = `
name: tls_skip
temps:
  - {type: ptr, reason: statics}
blocks:
  - kind: none
    stmts:
      - (set t0 (call:ptr helper:thread_static_base tlsaccess 3))
  - kind: return
    stmts:
      - (ret t0)
`
