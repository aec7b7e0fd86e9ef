// Package vn keeps value facts computed by value numbering for the nodes of one method.
package vn

import (
	"github.com/slowlang/slowjit/compiler/cfg"
)

type (
	// Values answers questions about statically known node values.
	// Answers must be stable for a node during one compilation.
	Values interface {
		Constant(n *cfg.Node) (int64, bool)
		KnownNonNull(n *cfg.Node) bool
		ObjectAndOffset(n *cfg.Node) (cfg.ObjectHandle, int64, bool)
	}

	ObjectRef struct {
		Obj    cfg.ObjectHandle
		Offset int64
	}

	// Store is a Values backed by explicit facts.
	Store struct {
		consts  map[*cfg.Node]int64
		nonNull map[*cfg.Node]bool
		objects map[*cfg.Node]ObjectRef
	}
)

func New() *Store {
	return &Store{
		consts:  map[*cfg.Node]int64{},
		nonNull: map[*cfg.Node]bool{},
		objects: map[*cfg.Node]ObjectRef{},
	}
}

func (s *Store) SetConstant(n *cfg.Node, v int64) {
	s.consts[n] = v
}

func (s *Store) SetNonNull(n *cfg.Node) {
	s.nonNull[n] = true
}

func (s *Store) SetObject(n *cfg.Node, obj cfg.ObjectHandle, off int64) {
	s.objects[n] = ObjectRef{Obj: obj, Offset: off}
}

// Constant returns the known value of n: an immediate constant or a recorded fact.
func (s *Store) Constant(n *cfg.Node) (int64, bool) {
	if n.IsConst() {
		return n.Aux, true
	}

	if s == nil {
		return 0, false
	}

	v, ok := s.consts[n]

	return v, ok
}

func (s *Store) KnownNonNull(n *cfg.Node) bool {
	if n.IsConst() && n.Aux != 0 && n.Flags&cfg.FlagHandle != 0 {
		return true
	}

	if s == nil {
		return false
	}

	if s.nonNull[n] {
		return true
	}

	_, ok := s.objects[n]

	return ok
}

// ObjectAndOffset returns the object n points into and the offset from its start.
// An add of a constant to a known object pointer is folded.
func (s *Store) ObjectAndOffset(n *cfg.Node) (cfg.ObjectHandle, int64, bool) {
	if s == nil {
		return 0, 0, false
	}

	if r, ok := s.objects[n]; ok {
		return r.Obj, r.Offset, true
	}

	if n.Op != cfg.OpAdd {
		return 0, 0, false
	}

	for i := 0; i < 2; i++ {
		base, off := n.Args[i], n.Args[1-i]

		obj, boff, ok := s.ObjectAndOffset(base)
		if !ok {
			continue
		}

		c, ok := s.Constant(off)
		if !ok {
			continue
		}

		return obj, boff + c, true
	}

	return 0, 0, false
}

// Forget drops all facts about n, used when a node is reused with another meaning.
func (s *Store) Forget(n *cfg.Node) {
	delete(s.consts, n)
	delete(s.nonNull, n)
	delete(s.objects, n)
}
