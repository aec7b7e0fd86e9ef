// Package parse reads expression trees written as s-expressions:
//
//	(set t1 (call:ptr helper:runtime_lookup lookup t0 h:0x100))
//	(jtrue (eq (load:i32 nf h:0x2000) 1))
//	(store (add t3 8:ptr) 0x6948:u16)
//
// Atoms are integers with an optional :type suffix (i32 by default), handles h:N,
// thread segment offsets tls:N, and temp reads tN.
package parse

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/cfg"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	State struct {
		b []byte

		// Temps gives types to temp reads.
		Temps []cfg.Temp
	}

	PartialReadError struct {
		End int
	}
)

// Node parses one tree.
func Node(ctx context.Context, text string, temps []cfg.Temp) (x *cfg.Node, err error) {
	s := New(temps)

	return s.Parse(ctx, []byte(text))
}

func New(temps []cfg.Temp) *State {
	return &State{Temps: temps}
}

func (s *State) Parse(ctx context.Context, text []byte) (x *cfg.Node, err error) {
	s.b = text

	x, i, err := s.node(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "at %d", i)
	}

	i = SpaceAll.Skip(s.b, i)

	if i != len(s.b) {
		return x, PartialReadError{End: i}
	}

	return x, nil
}

func (s *State) node(ctx context.Context, st int) (x *cfg.Node, i int, err error) {
	i = SpaceAll.Skip(s.b, st)

	if i == len(s.b) {
		return nil, i, errors.New("node expected")
	}

	switch s.b[i] {
	case '(':
		return s.tree(ctx, i+1)
	case ')':
		return nil, i, errors.New("unexpected )")
	}

	w, end := s.word(i)

	x, err = s.atom(w)
	if err != nil {
		return nil, i, err
	}

	return x, end, nil
}

// word reads till a space or a paren.
func (s *State) word(st int) (string, int) {
	i := st

	for i < len(s.b) && !SpaceAll.Is(s.b[i]) && s.b[i] != '(' && s.b[i] != ')' {
		i++
	}

	return string(s.b[st:i]), i
}

// peek returns the next word without consuming it, or "" at a paren.
func (s *State) peek(st int) (w string, i int) {
	i = SpaceAll.Skip(s.b, st)

	if i == len(s.b) || s.b[i] == '(' || s.b[i] == ')' {
		return "", i
	}

	return s.word(i)
}

func (s *State) close(st int) (int, error) {
	i := SpaceAll.Skip(s.b, st)

	if i == len(s.b) || s.b[i] != ')' {
		return i, errors.New(") expected")
	}

	return i + 1, nil
}

func (s *State) atom(w string) (*cfg.Node, error) {
	switch {
	case strings.HasPrefix(w, "h:"):
		v, err := number(w[2:])
		if err != nil {
			return nil, errors.Wrap(err, "handle")
		}

		return cfg.Handle(uint64(v)), nil
	case strings.HasPrefix(w, "tls:"):
		v, err := number(w[4:])
		if err != nil {
			return nil, errors.Wrap(err, "tls handle")
		}

		n := cfg.Handle(uint64(v))
		n.Flags |= cfg.FlagTLSHandle

		return n, nil
	case len(w) > 1 && w[0] == 't' && w[1] >= '0' && w[1] <= '9':
		t, err := s.temp(w)
		if err != nil {
			return nil, err
		}

		return cfg.Local(t, s.Temps[t].Type), nil
	}

	val, typ, _ := strings.Cut(w, ":")

	v, err := number(val)
	if err != nil {
		return nil, errors.Wrap(err, "constant %q", w)
	}

	t := tp.Type(tp.I32)

	if typ != "" {
		t, err = tp.Parse(typ)
		if err != nil {
			return nil, err
		}
	}

	return cfg.Const(t, v), nil
}

// Temp parses a temp name like t3.
func Temp(w string, temps []cfg.Temp) (cfg.TempID, error) {
	return (&State{Temps: temps}).temp(w)
}

func (s *State) temp(w string) (cfg.TempID, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(w, "t"))
	if err != nil {
		return 0, errors.Wrap(err, "temp %q", w)
	}

	if v < 0 || v >= len(s.Temps) {
		return 0, errors.New("unknown temp %v", w)
	}

	return cfg.TempID(v), nil
}

func number(w string) (int64, error) {
	v, err := strconv.ParseInt(w, 0, 64)
	if err == nil {
		return v, nil
	}

	u, uerr := strconv.ParseUint(w, 0, 64)
	if uerr == nil {
		return int64(u), nil
	}

	return 0, err
}

func (e PartialReadError) Error() string {
	return fmt.Sprintf("partial read: stopped at %d", e.End)
}
