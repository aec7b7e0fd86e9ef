// Package phase runs a fixed list of graph phases with optional verification and dumps.
package phase

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/format"
)

type (
	Status int

	Phase struct {
		Name string
		Run  func(ctx context.Context) (Status, error)
	}

	Config struct {
		DumpBefore string // phase name or "*"
		DumpAfter  string // phase name or "*"
		Verify     bool
	}
)

const (
	NothingChanged Status = iota
	Modified
)

func (s Status) String() string {
	if s == Modified {
		return "modified"
	}

	return "nothing_changed"
}

// Run executes phases in order and reports whether any of them changed g.
func Run(ctx context.Context, g *cfg.Graph, phases []Phase, c Config) (st Status, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "pipeline", "graph", g.Name, "phases", len(phases))
	defer tr.Finish("err", &err)

	for _, p := range phases {
		if match(c.DumpBefore, p.Name) {
			tr.Printw("before phase", "phase", p.Name, "graph", string(format.Graph(nil, g)))
		}

		if c.Verify {
			if err = cfg.Verify(g); err != nil {
				return st, errors.Wrap(err, "verify before %v", p.Name)
			}
		}

		ps, err := p.Run(ctx)
		if err != nil {
			return st, errors.Wrap(err, "%v", p.Name)
		}

		if ps == Modified {
			st = Modified
		}

		tr.V("phases").Printw("phase done", "phase", p.Name, "status", ps)

		if c.Verify {
			if err = cfg.Verify(g); err != nil {
				return st, errors.Wrap(err, "verify after %v", p.Name)
			}
		}

		if match(c.DumpAfter, p.Name) {
			tr.Printw("after phase", "phase", p.Name, "graph", string(format.Graph(nil, g)))
		}
	}

	return st, nil
}

func match(pattern, name string) bool {
	return pattern != "" && (pattern == "*" || pattern == name)
}
