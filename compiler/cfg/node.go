package cfg

import (
	"fmt"

	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	Op        int
	NodeFlags uint32

	TempID int

	// Node is an expression tree node. Trees are never shared:
	// a node is referenced from exactly one slot.
	Node struct {
		Op   Op
		Type tp.Type

		Args []*Node

		// Aux is the constant value for OpConst, the temp for OpLocal and OpStoreLocal,
		// and the byte count for OpCopyBlock.
		Aux int64

		// Bytes is the payload of OpConstVec.
		Bytes []byte

		Flags NodeFlags

		Call *Call
	}
)

const (
	OpInvalid Op = iota
	OpNop
	OpConst
	OpConstVec
	OpLocal
	OpStoreLocal
	OpLoad
	OpStore
	OpCopyBlock
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpJumpTrue
	OpNullCheck
	OpCall
	OpReturn

	opCount
)

const (
	// FlagNonFaulting loads never fault.
	FlagNonFaulting NodeFlags = 1 << iota
	// FlagInvariant loads read memory that does not change during the method.
	FlagInvariant
	// FlagHandle constants are runtime handles (relocatable addresses).
	FlagHandle
	// FlagTLSHandle constants are offsets from the thread segment base.
	FlagTLSHandle
	FlagDontCSE
	// FlagJumpUsed relations feed a JumpTrue.
	FlagJumpUsed
	// FlagMorphed block copies were already normalized.
	FlagMorphed
)

var opNames = [...]string{
	OpInvalid:    "invalid",
	OpNop:        "nop",
	OpConst:      "const",
	OpConstVec:   "vec",
	OpLocal:      "lcl",
	OpStoreLocal: "set",
	OpLoad:       "load",
	OpStore:      "store",
	OpCopyBlock:  "copy",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpAnd:        "and",
	OpOr:         "or",
	OpEq:         "eq",
	OpNe:         "ne",
	OpLt:         "lt",
	OpLe:         "le",
	OpGt:         "gt",
	OpGe:         "ge",
	OpJumpTrue:   "jtrue",
	OpNullCheck:  "nullcheck",
	OpCall:       "call",
	OpReturn:     "ret",
}

var nodeFlagNames = []struct {
	f NodeFlags
	n string
}{
	{FlagNonFaulting, "nf"},
	{FlagInvariant, "inv"},
	{FlagHandle, "hnd"},
	{FlagTLSHandle, "tls"},
	{FlagDontCSE, "nocse"},
	{FlagJumpUsed, "jmp"},
	{FlagMorphed, "morphed"},
}

func (op Op) String() string {
	if op >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}

	return fmt.Sprintf("op(%d)", int(op))
}

func ParseOp(s string) (Op, bool) {
	for op, n := range opNames {
		if n == s && Op(op) != OpInvalid {
			return Op(op), true
		}
	}

	return OpInvalid, false
}

func (op Op) IsCompare() bool {
	return op >= OpEq && op <= OpGe
}

func (op Op) IsBinary() bool {
	return op >= OpAdd && op <= OpGe
}

func (f NodeFlags) Names() (r []string) {
	for _, x := range nodeFlagNames {
		if f&x.f != 0 {
			r = append(r, x.n)
		}
	}

	return r
}

func ParseNodeFlag(s string) (NodeFlags, bool) {
	for _, x := range nodeFlagNames {
		if x.n == s {
			return x.f, true
		}
	}

	return 0, false
}

func (id TempID) String() string {
	return fmt.Sprintf("t%d", int(id))
}

func Const(t tp.Type, v int64) *Node {
	return &Node{Op: OpConst, Type: t, Aux: v}
}

func IntConst(v int64) *Node {
	return Const(tp.I32, v)
}

func PtrConst(v int64) *Node {
	return Const(tp.IntPtr, v)
}

func Handle(v uint64) *Node {
	return &Node{Op: OpConst, Type: tp.IntPtr, Aux: int64(v), Flags: FlagHandle}
}

func ConstVec(data []byte) *Node {
	return &Node{Op: OpConstVec, Type: tp.Vec{Bytes: len(data)}, Bytes: append([]byte{}, data...)}
}

func Local(t TempID, typ tp.Type) *Node {
	return &Node{Op: OpLocal, Type: typ, Aux: int64(t)}
}

func StoreLocal(t TempID, x *Node) *Node {
	return &Node{Op: OpStoreLocal, Type: tp.Void{}, Aux: int64(t), Args: []*Node{x}}
}

func Load(t tp.Type, addr *Node, flags NodeFlags) *Node {
	return &Node{Op: OpLoad, Type: t, Args: []*Node{addr}, Flags: flags}
}

func Store(addr, x *Node) *Node {
	return &Node{Op: OpStore, Type: tp.Void{}, Args: []*Node{addr, x}}
}

func Binary(op Op, t tp.Type, l, r *Node) *Node {
	if op.IsCompare() {
		t = tp.I32
	}

	return &Node{Op: op, Type: t, Args: []*Node{l, r}}
}

func Add(l, r *Node) *Node {
	t := l.Type
	if _, ok := r.Type.(tp.Ptr); ok {
		t = r.Type
	}

	return Binary(OpAdd, t, l, r)
}

func JumpTrue(cond *Node) *Node {
	cond.Flags |= FlagJumpUsed

	return &Node{Op: OpJumpTrue, Type: tp.Void{}, Args: []*Node{cond}}
}

func NullCheck(x *Node) *Node {
	return &Node{Op: OpNullCheck, Type: tp.Void{}, Args: []*Node{x}}
}

func Nop() *Node {
	return &Node{Op: OpNop, Type: tp.Void{}}
}

func Return(x *Node) *Node {
	n := &Node{Op: OpReturn, Type: tp.Void{}}

	if x != nil {
		n.Args = []*Node{x}
	}

	return n
}

func (n *Node) Temp() TempID {
	return TempID(n.Aux)
}

func (n *Node) IsCall() bool {
	return n.Op == OpCall && n.Call != nil
}

func (n *Node) IsHelperCall() bool {
	return n.IsCall() && n.Call.Kind == CallHelper
}

// IsConst reports an immediate integer constant.
func (n *Node) IsConst() bool {
	return n.Op == OpConst
}

// IsInvariant reports whether evaluating n later gives the same value and no effects:
// constants and temp reads. Temps are never address exposed.
func (n *Node) IsInvariant() bool {
	switch n.Op {
	case OpConst, OpConstVec, OpLocal:
		return true
	}

	return false
}

// HasSideEffects reports whether n or any operand writes memory or temps,
// calls, may fault, or transfers control.
func (n *Node) HasSideEffects() bool {
	switch n.Op {
	case OpStoreLocal, OpStore, OpCopyBlock, OpCall, OpNullCheck, OpJumpTrue, OpReturn:
		return true
	case OpLoad:
		if n.Flags&FlagNonFaulting == 0 {
			return true
		}
	}

	for _, a := range n.Args {
		if a.HasSideEffects() {
			return true
		}
	}

	return false
}

func (n *Node) HasCall() bool {
	if n.Op == OpCall {
		return true
	}

	for _, a := range n.Args {
		if a.HasCall() {
			return true
		}
	}

	return false
}

// Clone deeply copies the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	c := *n

	if n.Args != nil {
		c.Args = make([]*Node, len(n.Args))

		for i, a := range n.Args {
			c.Args[i] = a.Clone()
		}
	}

	if n.Bytes != nil {
		c.Bytes = append([]byte{}, n.Bytes...)
	}

	if n.Call != nil {
		call := *n.Call
		c.Call = &call
	}

	return &c
}

func (n *Node) String() string {
	return fmt.Sprintf("%v<%v>", n.Op, tp.Name(n.Type))
}
