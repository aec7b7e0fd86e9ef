package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/fixture"
	"github.com/slowlang/slowjit/compiler/rtsim"
)

func load(t *testing.T, text string) (*cfg.Graph, *rtsim.Runtime) {
	t.Helper()

	c, err := fixture.Parse(context.Background(), []byte(text))
	require.NoError(t, err)

	rt, err := c.NewRuntime(rtsim.Scenario{}, false)
	require.NoError(t, err)

	return c.Graph, rt
}

func TestLoop(t *testing.T) {
	g, rt := load(t, `
name: loop
temps:
  - {type: i32, reason: i}
  - {type: i32, reason: sum}
blocks:
  - kind: none
    stmts:
      - (set t0 0)
      - (set t1 0)
  - kind: cond
    jump: 3
    stmts:
      - (set t0 (add:i32 t0 1))
      - (set t1 (add:i32 t1 t0))
      - (jtrue (ge t0 5))
  - kind: always
    jump: 1
  - kind: return
    stmts:
      - (ret t1)
`)

	res, err := Run(context.Background(), g, rt, nil)
	require.NoError(t, err)

	assert.True(t, res.HasValue)
	assert.Equal(t, int64(15), res.Value)
	assert.Equal(t, []cfg.BlockID{0, 1, 2, 1, 2, 1, 2, 1, 2, 1, 3}, res.Path)
}

func TestStepLimit(t *testing.T) {
	g, rt := load(t, `
name: forever
blocks:
  - kind: always
    jump: 0
`)

	x := New(g, rt)
	x.MaxSteps = 10

	_, err := x.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestFaults(t *testing.T) {
	for _, tc := range []struct {
		name  string
		stmts string
		kind  string
		fault string
	}{
		{name: "nullcheck", stmts: `["(nullcheck t0)", "(ret 1)"]`, kind: "return", fault: "null reference"},
		{name: "load", stmts: `["(set t0 (load:i64 (add:ptr t0 16:ptr)))", "(ret 1)"]`, kind: "return", fault: "null reference"},
		{name: "store", stmts: `["(store t0 1)", "(ret 1)"]`, kind: "return", fault: "null reference"},
		{name: "throw", stmts: `["(nop)"]`, kind: "throw", fault: "throw"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g, rt := load(t, `
name: fault
temps:
  - {type: ptr, reason: obj}
blocks:
  - kind: `+tc.kind+`
    stmts: `+tc.stmts+`
`)

			res, err := Run(context.Background(), g, rt, map[int]int64{0: 0})
			require.NoError(t, err)

			assert.Equal(t, tc.fault, res.Fault)
			assert.False(t, res.HasValue)
		})
	}
}

func TestMemoryOps(t *testing.T) {
	g, rt := load(t, `
name: memory
temps:
  - {type: ptr, reason: buf}
blocks:
  - kind: return
    stmts:
      - (store (add:ptr t0 0:ptr) (vec 0x41 0x42 0x43))
      - (store (add:ptr t0 4:ptr) 0x1234:u16)
      - (copy 8 (add:ptr t0 16:ptr) t0)
      - (ret (load:u8 (add:ptr t0 18:ptr)))
`)

	res, err := Run(context.Background(), g, rt, map[int]int64{0: 0x10000})
	require.NoError(t, err)
	assert.Equal(t, int64('C'), res.Value)

	buf := make([]byte, 8)
	require.NoError(t, rt.Mem.Read(0x10010, buf))
	assert.Equal(t, []byte{'A', 'B', 'C', 0, 0x34, 0x12, 0, 0}, buf)
}

func TestNormalize(t *testing.T) {
	g, rt := load(t, `
name: narrow
temps:
  - {type: u8, reason: unsigned}
  - {type: i8, reason: signed}
blocks:
  - kind: return
    stmts:
      - (set t0 300)
      - (set t1 200)
      - (ret (add:i32 t0 t1))
`)

	res, err := Run(context.Background(), g, rt, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(44-56), res.Value)
}

func TestThreadSegmentHandle(t *testing.T) {
	g, rt := load(t, `
name: tls
blocks:
  - kind: return
    stmts:
      - (ret tls:0x10)
runtime:
  thread_base: 0x7f0000
`)

	res, err := Run(context.Background(), g, rt, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0x7f0010), res.Value)
}

func TestCalls(t *testing.T) {
	g, rt := load(t, `
name: calls
temps:
  - {type: i32, reason: res}
blocks:
  - kind: return
    stmts:
      - (set t0 (call:i32 method:0x77 1 2))
      - (ret t0)
runtime:
  methods: {0x77: 5}
`)

	res, err := Run(context.Background(), g, rt, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Value)
	assert.Equal(t, []rtsim.Event{{Kind: "call", Args: []int64{0x77, 1, 2}}}, rt.Trace)
}

func TestBadTemps(t *testing.T) {
	g, rt := load(t, `
name: temps
temps:
  - {type: i32, reason: x}
blocks:
  - kind: return
    stmts:
      - (ret t0)
`)

	_, err := Run(context.Background(), g, rt, map[int]int64{5: 1})
	assert.Error(t, err)
}
