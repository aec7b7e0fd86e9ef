package compiler

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/expand"
	"github.com/slowlang/slowjit/compiler/fixture"
	"github.com/slowlang/slowjit/compiler/interp"
	"github.com/slowlang/slowjit/compiler/phase"
	"github.com/slowlang/slowjit/compiler/rtsim"
)

type (
	Options struct {
		Phases phase.Config

		// Config replaces the fixture settings when set.
		Config *expand.Config
	}

	Outcome struct {
		Case   *fixture.Case
		Config expand.Config

		// Before is the graph as loaded, Case.Graph is expanded in place.
		Before *cfg.Graph
		Status phase.Status
	}

	Mismatch struct {
		Scenario string
		Reason   string

		Before, After interp.Result
	}
)

func ExpandFile(ctx context.Context, name string, opts Options) (*Outcome, error) {
	c, err := fixture.Load(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "load %v", name)
	}

	return Expand(ctx, c, opts)
}

// Expand runs the expansion pipeline over the fixture graph.
func Expand(ctx context.Context, c *fixture.Case, opts Options) (o *Outcome, err error) {
	conf, err := Config(c)
	if err != nil {
		return nil, err
	}

	if opts.Config != nil {
		conf = *opts.Config
	}

	o = &Outcome{
		Case:   c,
		Config: conf,
		Before: c.Graph.Clone(),
	}

	rt, err := c.NewRuntime(rtsim.Scenario{}, conf.NativeAOT)
	if err != nil {
		return nil, errors.Wrap(err, "runtime")
	}

	s := expand.New(c.Graph, rt, c.Values, c.Lookups, conf)

	o.Status, err = phase.Run(ctx, c.Graph, s.Phases(), opts.Phases)
	if err != nil {
		return o, errors.Wrap(err, "expand %v", c.Name)
	}

	tlog.SpanFromContext(ctx).Printw("expanded", "graph", c.Name, "status", o.Status, "blocks", len(c.Graph.Layout))

	return o, nil
}

// Config decodes the fixture settings over the defaults.
func Config(c *fixture.Case) (conf expand.Config, err error) {
	conf = expand.DefaultConfig()

	if c.File.Config.Kind == 0 {
		return conf, nil
	}

	err = c.File.Config.Decode(&conf)
	if err != nil {
		return conf, errors.Wrap(err, "config")
	}

	return conf, nil
}

// Check executes the graph before and after expansion in every scenario
// and reports where the results, observable events or memory differ.
func Check(ctx context.Context, o *Outcome) (ms []Mismatch, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "check", "graph", o.Case.Name)
	defer tr.Finish("err", &err, "mismatches", &ms)

	scenarios := o.Case.Scenarios
	if len(scenarios) == 0 {
		scenarios = []rtsim.Scenario{{Name: "default"}}
	}

	for _, sc := range scenarios {
		m, err := o.checkScenario(ctx, sc)
		if err != nil {
			return ms, errors.Wrap(err, "scenario %v", sc.Name)
		}

		if m != nil {
			tr.Printw("mismatch", "scenario", sc.Name, "reason", m.Reason)
			ms = append(ms, *m)
		}
	}

	return ms, nil
}

func (o *Outcome) checkScenario(ctx context.Context, sc rtsim.Scenario) (*Mismatch, error) {
	run := func(g *cfg.Graph) (interp.Result, *rtsim.Runtime, error) {
		rt, err := o.Case.NewRuntime(sc, o.Config.NativeAOT)
		if err != nil {
			return interp.Result{}, nil, err
		}

		res, err := interp.Run(ctx, g, rt, sc.Temps)

		return res, rt, err
	}

	before, rtBefore, err := run(o.Before)
	if err != nil {
		return nil, errors.Wrap(err, "before")
	}

	after, rtAfter, err := run(o.Case.Graph)
	if err != nil {
		return nil, errors.Wrap(err, "after")
	}

	m := &Mismatch{Scenario: sc.Name, Before: before, After: after}

	switch {
	case before.Fault != after.Fault:
		m.Reason = fmt.Sprintf("fault %q vs %q", before.Fault, after.Fault)
	case before.HasValue != after.HasValue, before.Value != after.Value:
		m.Reason = "result differs"
	case !slices.EqualFunc(rtBefore.Trace, rtAfter.Trace, eventEqual):
		m.Reason = "events differ"
	default:
		if addr, ok := rtBefore.Mem.Diff(rtAfter.Mem); ok {
			m.Reason = fmt.Sprintf("memory differs at %#x", addr)
		}
	}

	if m.Reason == "" {
		return nil, nil
	}

	return m, nil
}

func eventEqual(x, y rtsim.Event) bool {
	return x.Kind == y.Kind && slices.Equal(x.Args, y.Args)
}
