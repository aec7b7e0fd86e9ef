package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler"
	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/format"
	"github.com/slowlang/slowjit/compiler/interp"
	"github.com/slowlang/slowjit/compiler/phase"
)

func main() {
	expandCmd := &cli.Command{
		Name:        "expand",
		Description: "expand helper calls and print the resulting graph",
		Action:      expandAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("before", false, "print the graph before expansion too"),
		},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "execute the graph before and after expansion in every scenario",
		Action:      runAct,
		Args:        cli.Args{},
	}

	checkCmd := &cli.Command{
		Name:        "check",
		Description: "expand and check the graphs behave the same, fails on mismatch",
		Action:      checkAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "slowjit",
		Description: "slowjit expands runtime helper calls in flow graph fixtures",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.NewFlag("verify", true, "verify the graph around every phase"),
			cli.NewFlag("dump-before", "", "dump the graph before the phase (name or *)"),
			cli.NewFlag("dump-after", "", "dump the graph after the phase (name or *)"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			expandCmd,
			runCmd,
			checkCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func options(c *cli.Command) compiler.Options {
	return compiler.Options{
		Phases: phase.Config{
			Verify:     c.Bool("verify"),
			DumpBefore: c.String("dump-before"),
			DumpAfter:  c.String("dump-after"),
		},
	}
}

func expandAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	for _, a := range c.Args {
		o, err := compiler.ExpandFile(ctx, a, options(c))
		if err != nil {
			return errors.Wrap(err, "expand %v", a)
		}

		if c.Bool("before") {
			fmt.Printf("%s\n", format.Graph(nil, o.Before))
		}

		fmt.Printf("%s// %v\n", format.Graph(nil, o.Case.Graph), o.Status)
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	for _, a := range c.Args {
		o, err := compiler.ExpandFile(ctx, a, options(c))
		if err != nil {
			return errors.Wrap(err, "expand %v", a)
		}

		for _, sc := range o.Case.Scenarios {
			for _, x := range []struct {
				name string
				g    *cfg.Graph
			}{{"before", o.Before}, {"after", o.Case.Graph}} {
				rt, err := o.Case.NewRuntime(sc, o.Config.NativeAOT)
				if err != nil {
					return errors.Wrap(err, "%v: %v", a, sc.Name)
				}

				res, err := interp.Run(ctx, x.g, rt, sc.Temps)
				if err != nil {
					return errors.Wrap(err, "%v: %v: %v", a, sc.Name, x.name)
				}

				fmt.Printf("%v  %-20s  %-6s  %s  helpers %v  intrinsics %v\n", o.Case.Name, sc.Name, x.name, result(res), rt.HelperCalls, rt.IntrinsicCalls)
			}
		}
	}

	return nil
}

func checkAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	var failed int

	for _, a := range c.Args {
		o, err := compiler.ExpandFile(ctx, a, options(c))
		if err != nil {
			return errors.Wrap(err, "expand %v", a)
		}

		ms, err := compiler.Check(ctx, o)
		if err != nil {
			return errors.Wrap(err, "check %v", a)
		}

		for _, m := range ms {
			fmt.Printf("%v  %-20s  %v: before %s  after %s\n", o.Case.Name, m.Scenario, m.Reason, result(m.Before), result(m.After))
		}

		if len(ms) != 0 {
			failed++
			continue
		}

		fmt.Printf("%v  ok  %v\n", o.Case.Name, o.Status)
	}

	if failed != 0 {
		return errors.New("%d of %d files mismatched", failed, len(c.Args))
	}

	return nil
}

func result(r interp.Result) string {
	switch {
	case r.Fault != "":
		return "fault " + r.Fault
	case r.HasValue:
		return fmt.Sprintf("%#x", r.Value)
	}

	return "void"
}
