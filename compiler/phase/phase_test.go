package phase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/cfg"
)

func TestRunStatus(t *testing.T) {
	g := cfg.New("f")
	b := g.AddBlock(cfg.KindReturn)
	b.Append(cfg.NewStmt(cfg.Return(nil), 0))

	var order []string

	phases := []Phase{
		{Name: "a", Run: func(ctx context.Context) (Status, error) {
			order = append(order, "a")
			return NothingChanged, nil
		}},
		{Name: "b", Run: func(ctx context.Context) (Status, error) {
			order = append(order, "b")
			return Modified, nil
		}},
		{Name: "c", Run: func(ctx context.Context) (Status, error) {
			order = append(order, "c")
			return NothingChanged, nil
		}},
	}

	st, err := Run(context.Background(), g, phases, Config{Verify: true, DumpAfter: "*"})
	require.NoError(t, err)
	assert.Equal(t, Modified, st)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunStopsOnError(t *testing.T) {
	g := cfg.New("f")
	b := g.AddBlock(cfg.KindReturn)
	b.Append(cfg.NewStmt(cfg.Return(nil), 0))

	ran := false

	phases := []Phase{
		{Name: "fail", Run: func(ctx context.Context) (Status, error) {
			return Modified, errors.New("boom")
		}},
		{Name: "next", Run: func(ctx context.Context) (Status, error) {
			ran = true
			return NothingChanged, nil
		}},
	}

	_, err := Run(context.Background(), g, phases, Config{})
	assert.ErrorContains(t, err, "boom")
	assert.False(t, ran)
}

func TestRunVerifyAfter(t *testing.T) {
	g := cfg.New("f")
	b := g.AddBlock(cfg.KindReturn)
	b.Append(cfg.NewStmt(cfg.Return(nil), 0))

	phases := []Phase{
		{Name: "break", Run: func(ctx context.Context) (Status, error) {
			b.Kind = cfg.KindAlways
			b.Jump = 7
			return Modified, nil
		}},
	}

	_, err := Run(context.Background(), g, phases, Config{Verify: true})
	assert.ErrorContains(t, err, "verify after break")
}
