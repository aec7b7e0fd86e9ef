package cfg

import (
	"fmt"

	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	CallKind  int
	Helper    int
	Intrinsic int

	// Mark is a one-way eligibility state of a call for one expansion.
	Mark int

	ClassHandle  uint64
	MethodHandle uint64
	ObjectHandle uint64

	Call struct {
		Kind CallKind

		Helper    Helper
		Method    MethodHandle
		Intrinsic Intrinsic

		// Special marks calls recognized as intrinsics worth expanding.
		Special Mark
		// RuntimeLookup marks runtime lookup helpers worth expanding.
		RuntimeLookup Mark
		// TLSAccess marks thread static base helpers worth expanding.
		TLSAccess Mark

		// InitClass is the class a static base helper initializes.
		// It is cleared once the call was expanded.
		InitClass ClassHandle

		Tail bool
	}
)

const (
	CallUser CallKind = iota
	CallHelper
)

const (
	HelperNone Helper = iota
	HelperRuntimeLookup
	HelperNonGCStaticBase
	HelperGCStaticBase
	HelperInitClass
	HelperThreadStaticBase

	helperCount
)

const (
	IntrinsicNone Intrinsic = iota
	IntrinsicGetUtf8Bytes

	intrinsicCount
)

const (
	MarkNone Mark = iota
	MarkPending
	MarkDone
)

var helperNames = [...]string{
	HelperNone:             "none",
	HelperRuntimeLookup:    "runtime_lookup",
	HelperNonGCStaticBase:  "nongc_static_base",
	HelperGCStaticBase:     "gc_static_base",
	HelperInitClass:        "init_class",
	HelperThreadStaticBase: "thread_static_base",
}

var intrinsicNames = [...]string{
	IntrinsicNone:         "none",
	IntrinsicGetUtf8Bytes: "get_utf8_bytes",
}

var markNames = [...]string{
	MarkNone:    "none",
	MarkPending: "pending",
	MarkDone:    "done",
}

func (h Helper) String() string {
	if h >= 0 && int(h) < len(helperNames) {
		return helperNames[h]
	}

	return fmt.Sprintf("helper(%d)", int(h))
}

func ParseHelper(s string) (Helper, bool) {
	for h, n := range helperNames {
		if n == s {
			return Helper(h), true
		}
	}

	return HelperNone, false
}

func (x Intrinsic) String() string {
	if x >= 0 && int(x) < len(intrinsicNames) {
		return intrinsicNames[x]
	}

	return fmt.Sprintf("intrinsic(%d)", int(x))
}

func ParseIntrinsic(s string) (Intrinsic, bool) {
	for x, n := range intrinsicNames {
		if n == s {
			return Intrinsic(x), true
		}
	}

	return IntrinsicNone, false
}

func (m Mark) String() string {
	if m >= 0 && int(m) < len(markNames) {
		return markNames[m]
	}

	return fmt.Sprintf("mark(%d)", int(m))
}

func ParseMark(s string) (Mark, bool) {
	for m, n := range markNames {
		if n == s {
			return Mark(m), true
		}
	}

	return MarkNone, false
}

func (m Mark) Pending() bool { return m == MarkPending }

// Consume moves a pending mark to done. Other states are left as is.
func (m *Mark) Consume() bool {
	if *m != MarkPending {
		return false
	}

	*m = MarkDone

	return true
}

func NewHelperCall(h Helper, t tp.Type, args ...*Node) *Node {
	return &Node{
		Op:   OpCall,
		Type: t,
		Args: args,
		Call: &Call{Kind: CallHelper, Helper: h},
	}
}

func NewUserCall(m MethodHandle, t tp.Type, args ...*Node) *Node {
	return &Node{
		Op:   OpCall,
		Type: t,
		Args: args,
		Call: &Call{Kind: CallUser, Method: m},
	}
}
