package format

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/parse"
	"github.com/slowlang/slowjit/compiler/tp"
)

func TestNodeRoundTrip(t *testing.T) {
	ctx := context.Background()

	g := cfg.New("f")
	g.NewTemp(tp.IntPtr, "ctx")
	g.NewTemp(tp.I32, "len")

	for _, text := range []string{
		"(set t0 (call:ptr helper:runtime_lookup lookup t0 (const:ptr hnd nocse 256)))",
		"(jtrue (eq (and:i32 (load:i32 nf h:0x2000) 1) 1))",
		"(jtrue (lt (load:i32 nf inv (add:ptr t0 16:ptr)) t1))",
		"(store (add:ptr t0 8:ptr) (vec 0x48 0x69))",
		"(call:i32 intrinsic:get_utf8_bytes special=done t0 t0 2 t0 t1)",
		"(call:void method:0x77 tail)",
		"(call:ptr helper:nongc_static_base init=0x20 h:0x20)",
		"(load:ptr nf inv tls:0x58)",
		"(copy 16 t0 t0)",
		"(nullcheck t0)",
		"(ret -1)",
	} {
		x, err := parse.Node(ctx, text, g.Temps)
		require.NoError(t, err, text)

		assert.Equal(t, text, string(Node(nil, g, x)))
	}
}

func TestGraph(t *testing.T) {
	g := cfg.New("f")
	tmp := g.NewTemp(tp.I32, "x")

	b0 := g.AddBlock(cfg.KindCond)
	b1 := g.AddBlock(cfg.KindNone)
	b2 := g.AddBlock(cfg.KindReturn)

	b0.Weight = 100
	b0.Jump = b2.ID
	b0.Append(cfg.NewStmt(cfg.StoreLocal(tmp, cfg.IntConst(1)), 0))
	b0.Append(cfg.NewStmt(cfg.JumpTrue(cfg.Binary(cfg.OpEq, tp.I32, cfg.Local(tmp, tp.I32), cfg.IntConst(0))), 0))

	b1.SetRunRarely()
	b1.Flags |= cfg.FlagInternal
	b1.Loop = 2

	b2.Region = cfg.Region{Try: 1}
	b2.Append(cfg.NewStmt(cfg.Return(cfg.Local(tmp, tp.I32)), 0))

	g.AddPred(b1, b0)
	g.AddPred(b2, b0)
	g.AddPred(b2, b1)

	text := string(Graph(nil, g))

	assert.Contains(t, text, "graph f\n")
	assert.Contains(t, text, "t0 i32  // x\n")
	assert.Contains(t, text, "b0 cond -> b2 weight=100\n\t(set t0 1)\n\t(jtrue (eq t0 0))\n")
	assert.Contains(t, text, "b1 none weight=0 rare internal loop=2 preds=b0\n")
	assert.Contains(t, text, "b2 return weight=0 region=1/0 preds=b0,b1\n\t(ret t0)\n")
	assert.True(t, strings.Index(text, "b0") < strings.Index(text, "b2 return"))
}
