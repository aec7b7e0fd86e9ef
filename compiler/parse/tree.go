package parse

import (
	"context"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/tp"
)

// tree parses the rest of a list after the opening paren.
func (s *State) tree(ctx context.Context, st int) (x *cfg.Node, i int, err error) {
	head, i := s.peek(st)
	if head == "" {
		return nil, i, errors.New("operator expected")
	}

	i = SpaceAll.Skip(s.b, i)

	name, typName, _ := strings.Cut(head, ":")

	var typ tp.Type

	if typName != "" {
		typ, err = tp.Parse(typName)
		if err != nil {
			return nil, i, err
		}
	}

	switch name {
	case "set":
		return s.storeLocal(ctx, i)
	case "vec":
		return s.vec(i)
	case "copy":
		return s.copyBlock(ctx, i)
	case "const":
		return s.constant(i, typ)
	case "call":
		return s.call(ctx, i, typ)
	}

	op, ok := cfg.ParseOp(name)
	if !ok {
		return nil, st, errors.New("unknown operator %q", name)
	}

	flags, i, err := s.flags(i)
	if err != nil {
		return nil, i, err
	}

	args, i, err := s.args(ctx, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v", op)
	}

	x, err = build(op, typ, args)
	if err != nil {
		return nil, i, err
	}

	x.Flags |= flags

	return x, i, nil
}

func build(op cfg.Op, typ tp.Type, args []*cfg.Node) (*cfg.Node, error) {
	want := -1

	switch {
	case op.IsBinary():
		want = 2
	case op == cfg.OpLoad, op == cfg.OpJumpTrue, op == cfg.OpNullCheck:
		want = 1
	case op == cfg.OpStore:
		want = 2
	case op == cfg.OpNop:
		want = 0
	case op == cfg.OpReturn:
		if len(args) > 1 {
			return nil, errors.New("ret takes at most one operand")
		}
	default:
		return nil, errors.New("%v can't be written as a list", op)
	}

	if want >= 0 && len(args) != want {
		return nil, errors.New("%v: %d operands, want %d", op, len(args), want)
	}

	switch {
	case op == cfg.OpAdd && typ == nil:
		return cfg.Add(args[0], args[1]), nil
	case op.IsBinary():
		if typ == nil {
			typ = args[0].Type
		}

		return cfg.Binary(op, typ, args[0], args[1]), nil
	}

	switch op {
	case cfg.OpLoad:
		if typ == nil {
			typ = tp.IntPtr
		}

		return cfg.Load(typ, args[0], 0), nil
	case cfg.OpStore:
		return cfg.Store(args[0], args[1]), nil
	case cfg.OpJumpTrue:
		return cfg.JumpTrue(args[0]), nil
	case cfg.OpNullCheck:
		return cfg.NullCheck(args[0]), nil
	case cfg.OpNop:
		return cfg.Nop(), nil
	}

	if len(args) == 0 {
		return cfg.Return(nil), nil
	}

	return cfg.Return(args[0]), nil
}

func (s *State) flags(st int) (f cfg.NodeFlags, i int, err error) {
	i = st

	for {
		w, end := s.peek(i)

		x, ok := cfg.ParseNodeFlag(w)
		if !ok {
			return f, i, nil
		}

		f |= x
		i = end
	}
}

func (s *State) args(ctx context.Context, st int) (args []*cfg.Node, i int, err error) {
	i = st

	for {
		i = SpaceAll.Skip(s.b, i)

		if i < len(s.b) && s.b[i] == ')' {
			return args, i + 1, nil
		}

		x, end, err := s.node(ctx, i)
		if err != nil {
			return nil, end, errors.Wrap(err, "operand %d", len(args))
		}

		args = append(args, x)
		i = end
	}
}

func (s *State) storeLocal(ctx context.Context, st int) (x *cfg.Node, i int, err error) {
	w, i := s.peek(st)

	t, err := s.temp(w)
	if err != nil {
		return nil, st, err
	}

	val, i, err := s.node(ctx, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "set %v", w)
	}

	i, err = s.close(i)
	if err != nil {
		return nil, i, err
	}

	return cfg.StoreLocal(t, val), i, nil
}

func (s *State) vec(st int) (x *cfg.Node, i int, err error) {
	var data []byte

	i = st

	for {
		w, end := s.peek(i)
		if w == "" {
			break
		}

		v, err := number(w)
		if err != nil || v < 0 || v > 0xff {
			return nil, i, errors.New("vec: bad byte %q", w)
		}

		data = append(data, byte(v))
		i = end
	}

	i, err = s.close(i)
	if err != nil {
		return nil, i, err
	}

	return cfg.ConstVec(data), i, nil
}

func (s *State) copyBlock(ctx context.Context, st int) (x *cfg.Node, i int, err error) {
	w, i := s.peek(st)

	size, err := number(w)
	if err != nil {
		return nil, st, errors.Wrap(err, "copy size")
	}

	flags, i, err := s.flags(i)
	if err != nil {
		return nil, i, err
	}

	args, i, err := s.args(ctx, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "copy")
	}

	if len(args) != 2 {
		return nil, i, errors.New("copy: %d operands, want 2", len(args))
	}

	x = &cfg.Node{Op: cfg.OpCopyBlock, Type: tp.Void{}, Aux: size, Args: args, Flags: flags}

	return x, i, nil
}

func (s *State) constant(st int, typ tp.Type) (x *cfg.Node, i int, err error) {
	if typ == nil {
		typ = tp.I32
	}

	flags, i, err := s.flags(st)
	if err != nil {
		return nil, i, err
	}

	w, i := s.peek(i)

	v, err := number(w)
	if err != nil {
		return nil, i, errors.Wrap(err, "const value")
	}

	i, err = s.close(i)
	if err != nil {
		return nil, i, err
	}

	x = cfg.Const(typ, v)
	x.Flags = flags

	return x, i, nil
}

func (s *State) call(ctx context.Context, st int, typ tp.Type) (x *cfg.Node, i int, err error) {
	if typ == nil {
		typ = tp.Void{}
	}

	w, i := s.peek(st)

	kind, name, _ := strings.Cut(w, ":")

	c := &cfg.Call{}

	switch kind {
	case "helper":
		h, ok := cfg.ParseHelper(name)
		if !ok {
			return nil, st, errors.New("unknown helper %q", name)
		}

		c.Kind = cfg.CallHelper
		c.Helper = h
	case "intrinsic":
		ni, ok := cfg.ParseIntrinsic(name)
		if !ok {
			return nil, st, errors.New("unknown intrinsic %q", name)
		}

		c.Kind = cfg.CallUser
		c.Intrinsic = ni
	case "method":
		v, err := number(name)
		if err != nil {
			return nil, st, errors.Wrap(err, "method handle")
		}

		c.Kind = cfg.CallUser
		c.Method = cfg.MethodHandle(v)
	default:
		return nil, st, errors.New("callee expected, got %q", w)
	}

	for {
		w, end := s.peek(i)
		if w == "" {
			break
		}

		ok, err := callAttr(c, w)
		if err != nil {
			return nil, i, err
		}

		if !ok {
			break
		}

		i = end
	}

	args, i, err := s.args(ctx, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "call")
	}

	x = &cfg.Node{Op: cfg.OpCall, Type: typ, Args: args, Call: c}

	return x, i, nil
}

func callAttr(c *cfg.Call, w string) (bool, error) {
	name, val, _ := strings.Cut(w, "=")

	var m *cfg.Mark

	switch name {
	case "lookup":
		m = &c.RuntimeLookup
	case "tlsaccess":
		m = &c.TLSAccess
	case "special":
		m = &c.Special
	case "tail":
		c.Tail = true
		return true, nil
	case "init":
		v, err := number(val)
		if err != nil {
			return false, errors.Wrap(err, "init class")
		}

		c.InitClass = cfg.ClassHandle(v)

		return true, nil
	default:
		return false, nil
	}

	*m = cfg.MarkPending

	if val != "" {
		x, ok := cfg.ParseMark(val)
		if !ok {
			return false, errors.New("bad mark %q", w)
		}

		*m = x
	}

	return true, nil
}
