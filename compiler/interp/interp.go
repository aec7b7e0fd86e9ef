// Package interp executes a flow graph against a runtime environment.
// It is the reference semantics expansions are checked against.
package interp

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/rtsim"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	// Env is the memory and the callees a graph runs with.
	Env interface {
		Load(addr uint64, size int) (uint64, error)
		Store(addr uint64, size int, v uint64) error
		Read(addr uint64, p []byte) error
		Write(addr uint64, p []byte) error

		ThreadSegment() uint64

		Call(c *cfg.Call, args []int64) (int64, error)
	}

	Result struct {
		Value    int64
		HasValue bool

		// Fault is set when the program raised an exception.
		Fault string

		Path []cfg.BlockID
	}

	Interp struct {
		MaxSteps int

		g   *cfg.Graph
		env Env

		temps []int64

		taken bool
		done  bool
		res   Result
	}
)

const DefaultMaxSteps = 10000

var ErrStepLimit = errors.New("step limit exceeded")

func New(g *cfg.Graph, env Env) *Interp {
	return &Interp{
		MaxSteps: DefaultMaxSteps,
		g:        g,
		env:      env,
	}
}

// Run executes the graph from its entry with the given initial temp values.
// Faults are reported in the Result, errors mean the graph can't be executed.
func Run(ctx context.Context, g *cfg.Graph, env Env, temps map[int]int64) (Result, error) {
	return New(g, env).Run(ctx, temps)
}

func (x *Interp) Run(ctx context.Context, temps map[int]int64) (res Result, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "interp", "graph", x.g.Name)
	defer tr.Finish("err", &err)

	x.temps = make([]int64, len(x.g.Temps))
	x.done = false
	x.res = Result{}

	for t, v := range temps {
		if t < 0 || t >= len(x.temps) {
			return Result{}, errors.New("no temp t%d", t)
		}

		x.temps[t] = norm(x.g.Temps[t].Type, v)
	}

	b := x.g.Entry()
	if b == nil {
		return Result{}, errors.New("empty graph")
	}

	for step := 0; ; step++ {
		if step == x.MaxSteps {
			return x.res, ErrStepLimit
		}

		x.res.Path = append(x.res.Path, b.ID)

		b, err = x.block(b)

		if f, ok := err.(*rtsim.Fault); ok {
			x.res.Fault = f.Kind

			tr.V("interp").Printw("fault", "block", x.res.Path[len(x.res.Path)-1], "fault", f.Kind, "addr", tlog.FormatNext("%#x"), f.Addr)

			return x.res, nil
		}
		if err != nil {
			return x.res, errors.Wrap(err, "%v", x.res.Path[len(x.res.Path)-1])
		}

		if x.done {
			tr.V("interp").Printw("returned", "value", x.res.Value, "has_value", x.res.HasValue, "steps", step+1)

			return x.res, nil
		}
	}
}

// block executes b and returns the next block.
func (x *Interp) block(b *cfg.Block) (*cfg.Block, error) {
	x.taken = false

	for _, s := range b.Stmts {
		_, err := x.eval(s.Root)
		if err != nil {
			return nil, err
		}

		if x.done {
			return nil, nil
		}
	}

	var next *cfg.Block

	switch b.Kind {
	case cfg.KindNone:
		next = x.g.Next(b)
	case cfg.KindAlways:
		next = x.g.Block(b.Jump)
	case cfg.KindCond:
		if x.taken {
			next = x.g.Block(b.Jump)
		} else {
			next = x.g.Next(b)
		}
	case cfg.KindReturn:
		x.done = true
		return nil, nil
	case cfg.KindThrow:
		return nil, &rtsim.Fault{Kind: "throw"}
	}

	if next == nil {
		return nil, errors.New("no successor")
	}

	return next, nil
}

func (x *Interp) eval(n *cfg.Node) (v int64, err error) {
	switch n.Op {
	case cfg.OpNop:
		return 0, nil
	case cfg.OpConst:
		v = n.Aux

		if n.Flags&cfg.FlagTLSHandle != 0 {
			v += int64(x.env.ThreadSegment())
		}

		return norm(n.Type, v), nil
	case cfg.OpConstVec:
		return 0, errors.New("vector value outside of a store")
	case cfg.OpLocal:
		return x.temps[n.Temp()], nil
	case cfg.OpCopyBlock:
		return 0, x.copyBlock(n)
	case cfg.OpStore:
		return 0, x.store(n)
	case cfg.OpCall:
		return x.call(n)
	}

	var args [2]int64

	for i, a := range n.Args {
		args[i], err = x.eval(a)
		if err != nil {
			return 0, err
		}
	}

	l, r := args[0], args[1]

	switch n.Op {
	case cfg.OpStoreLocal:
		t := n.Temp()
		x.temps[t] = norm(x.g.Temps[t].Type, l)

		return 0, nil
	case cfg.OpLoad:
		size := n.Type.Size()
		if _, ok := n.Type.(tp.Vec); ok || size == 0 {
			return 0, errors.New("can't load %v", tp.Name(n.Type))
		}

		u, err := x.env.Load(uint64(l), size)
		if err != nil {
			return 0, err
		}

		return norm(n.Type, int64(u)), nil
	case cfg.OpAdd:
		return norm(n.Type, l+r), nil
	case cfg.OpSub:
		return norm(n.Type, l-r), nil
	case cfg.OpMul:
		return norm(n.Type, l*r), nil
	case cfg.OpAnd:
		return norm(n.Type, l&r), nil
	case cfg.OpOr:
		return norm(n.Type, l|r), nil
	case cfg.OpEq:
		return b2i(l == r), nil
	case cfg.OpNe:
		return b2i(l != r), nil
	case cfg.OpLt:
		return b2i(l < r), nil
	case cfg.OpLe:
		return b2i(l <= r), nil
	case cfg.OpGt:
		return b2i(l > r), nil
	case cfg.OpGe:
		return b2i(l >= r), nil
	case cfg.OpJumpTrue:
		x.taken = l != 0

		return 0, nil
	case cfg.OpNullCheck:
		if l == 0 {
			return 0, &rtsim.Fault{Kind: "null reference"}
		}

		return 0, nil
	case cfg.OpReturn:
		x.done = true
		x.res.Value = l
		x.res.HasValue = len(n.Args) != 0

		return 0, nil
	}

	return 0, errors.New("unsupported op %v", n.Op)
}

func (x *Interp) store(n *cfg.Node) error {
	addr, err := x.eval(n.Args[0])
	if err != nil {
		return err
	}

	val := n.Args[1]

	if val.Op == cfg.OpConstVec {
		return x.env.Write(uint64(addr), val.Bytes)
	}

	v, err := x.eval(val)
	if err != nil {
		return err
	}

	return x.env.Store(uint64(addr), val.Type.Size(), uint64(v))
}

func (x *Interp) copyBlock(n *cfg.Node) error {
	dst, err := x.eval(n.Args[0])
	if err != nil {
		return err
	}

	src, err := x.eval(n.Args[1])
	if err != nil {
		return err
	}

	buf := make([]byte, n.Aux)

	err = x.env.Read(uint64(src), buf)
	if err != nil {
		return err
	}

	return x.env.Write(uint64(dst), buf)
}

func (x *Interp) call(n *cfg.Node) (int64, error) {
	args := make([]int64, len(n.Args))

	for i, a := range n.Args {
		v, err := x.eval(a)
		if err != nil {
			return 0, err
		}

		args[i] = v
	}

	v, err := x.env.Call(n.Call, args)
	if err != nil {
		return 0, err
	}

	return norm(n.Type, v), nil
}

// norm truncates v to the width of t and extends it back.
func norm(t tp.Type, v int64) int64 {
	it, ok := t.(tp.Int)
	if !ok || it.Bits >= 64 {
		return v
	}

	shift := 64 - uint(it.Bits)

	if it.Signed {
		return v << shift >> shift
	}

	return int64(uint64(v) << shift >> shift)
}

func b2i(x bool) int64 {
	if x {
		return 1
	}

	return 0
}
