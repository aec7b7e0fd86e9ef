// Package fixture loads test methods from YAML: the graph as s-expression statements,
// the compiler configuration, runtime lookups, value facts, and the runtime state
// the method is executed against.
package fixture

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/parse"
	"github.com/slowlang/slowjit/compiler/rtinfo"
	"github.com/slowlang/slowjit/compiler/rtsim"
	"github.com/slowlang/slowjit/compiler/tp"
	"github.com/slowlang/slowjit/compiler/vn"
)

type (
	File struct {
		Name string `yaml:"name"`

		// Config is decoded by the caller over its defaults.
		Config yaml.Node `yaml:"config"`

		Temps  []Temp  `yaml:"temps"`
		Blocks []Block `yaml:"blocks"`

		Lookups []rtinfo.RuntimeLookup `yaml:"lookups"`
		Facts   map[string]Fact        `yaml:"facts"`

		Runtime   rtsim.Config     `yaml:"runtime"`
		Scenarios []rtsim.Scenario `yaml:"scenarios"`
	}

	Temp struct {
		Type   string `yaml:"type"`
		Reason string `yaml:"reason"`
	}

	Block struct {
		Kind   string     `yaml:"kind"`
		Jump   *int       `yaml:"jump"`
		Weight *float64   `yaml:"weight"`
		Rare   bool       `yaml:"rare"`
		Loop   *int       `yaml:"loop"`
		Region cfg.Region `yaml:"region"`
		Stmts  []string   `yaml:"stmts"`
	}

	// Fact is what value numbering knows about a temp.
	Fact struct {
		Const   *int64 `yaml:"const"`
		NonNull bool   `yaml:"nonnull"`
	}

	// Case is a loaded fixture with its graph built.
	Case struct {
		File

		Graph   *cfg.Graph
		Values  *vn.Store
		Lookups *rtinfo.LookupTable
	}
)

func Load(ctx context.Context, name string) (*Case, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read fixture")
	}

	tlog.SpanFromContext(ctx).V("fixture").Printw("read fixture", "name", name, "size", len(data))

	return Parse(ctx, data)
}

func Parse(ctx context.Context, data []byte) (c *Case, err error) {
	c = &Case{}

	err = yaml.Unmarshal(data, &c.File)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	c.Lookups = rtinfo.NewLookupTable()

	for _, l := range c.File.Lookups {
		if !c.Lookups.Register(l) {
			return nil, errors.New("duplicate lookup signature %#x", l.Signature)
		}
	}

	c.Graph, err = c.File.Graph(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "graph %v", c.Name)
	}

	c.Values, err = c.facts()
	if err != nil {
		return nil, errors.Wrap(err, "facts")
	}

	return c, nil
}

// Graph builds the flow graph. Blocks are laid out in file order and numbered from 0,
// predecessors and hints are computed.
func (f *File) Graph(ctx context.Context) (*cfg.Graph, error) {
	g := cfg.New(f.Name)

	for _, t := range f.Temps {
		typ, err := tp.Parse(t.Type)
		if err != nil {
			return nil, errors.Wrap(err, "temp %v", len(g.Temps))
		}

		g.NewTemp(typ, t.Reason)
	}

	pos := 0

	for i, fb := range f.Blocks {
		kind, ok := cfg.ParseBlockKind(fb.Kind)
		if !ok {
			return nil, errors.New("b%d: unknown kind %q", i, fb.Kind)
		}

		b := g.AddBlock(kind)
		b.Region = fb.Region
		b.Weight = cfg.UnitWeight

		if fb.Weight != nil {
			b.Weight = cfg.Weight(*fb.Weight)
		}

		if fb.Rare {
			b.SetRunRarely()
		}

		if fb.Loop != nil {
			b.Loop = cfg.LoopID(*fb.Loop)
		}

		if fb.Jump != nil {
			if *fb.Jump < 0 || *fb.Jump >= len(f.Blocks) {
				return nil, errors.New("b%d: jump to b%d", i, *fb.Jump)
			}

			b.Jump = cfg.BlockID(*fb.Jump)
		}

		for _, text := range fb.Stmts {
			x, err := parse.Node(ctx, text, g.Temps)
			if err != nil {
				return nil, errors.Wrap(err, "b%d: %q", i, text)
			}

			b.Stmts = append(b.Stmts, cfg.NewStmt(x, pos))
			pos++
		}
	}

	g.ComputeBasics()
	g.ComputeHints()

	return g, nil
}

// facts records value facts for temp reads and string object handles.
func (c *Case) facts() (*vn.Store, error) {
	vals := vn.New()

	temps := map[cfg.TempID]Fact{}

	for name, f := range c.Facts {
		id, err := parse.Temp(name, c.Graph.Temps)
		if err != nil {
			return nil, err
		}

		temps[id] = f
	}

	objs := map[uint64]bool{}

	for _, s := range c.Runtime.Strings {
		objs[uint64(s.Obj)] = true
	}

	c.Graph.Range(func(b *cfg.Block) bool {
		for _, s := range b.Stmts {
			s.Walk(func(use **cfg.Node) bool {
				n := *use

				switch {
				case n.Op == cfg.OpLocal:
					f, ok := temps[n.Temp()]
					if !ok {
						break
					}

					if f.Const != nil {
						vals.SetConstant(n, *f.Const)
					}

					if f.NonNull {
						vals.SetNonNull(n)
					}
				case n.IsConst() && n.Flags&cfg.FlagHandle != 0 && objs[uint64(n.Aux)]:
					vals.SetObject(n, cfg.ObjectHandle(n.Aux), 0)
				}

				return true
			})
		}

		return true
	})

	return vals, nil
}

// NewRuntime creates the runtime state of a scenario.
func (c *Case) NewRuntime(sc rtsim.Scenario, nativeAOT bool) (*rtsim.Runtime, error) {
	rc := c.File.Runtime
	rc.NativeAOT = nativeAOT

	return rtsim.New(rc, c.Lookups, sc)
}
