package tp

import "fmt"

type (
	Type interface {
		Size() int
	}

	Void struct{}

	Int struct {
		Bits   int16
		Signed bool
	}

	// Ptr is a native-sized address. Managed is set for interior pointers into objects.
	Ptr struct {
		Managed bool
	}

	// Vec is a constant-sized SIMD chunk, only used for unrolled stores.
	Vec struct {
		Bytes int
	}
)

var (
	I8  = Int{Bits: 8, Signed: true}
	U8  = Int{Bits: 8}
	I16 = Int{Bits: 16, Signed: true}
	U16 = Int{Bits: 16}
	I32 = Int{Bits: 32, Signed: true}
	I64 = Int{Bits: 64, Signed: true}

	IntPtr = Ptr{}
	ByRef  = Ptr{Managed: true}
)

func (Void) Size() int { return 0 }

func (x Int) Size() int {
	return int(x.Bits) / 8
}

func (x Ptr) Size() int {
	return 8
}

func (x Vec) Size() int {
	return x.Bytes
}

// ForSize returns the integer or vector type of the given width in bytes.
func ForSize(n int) Type {
	switch n {
	case 1:
		return U8
	case 2:
		return U16
	case 4:
		return I32
	case 8:
		return I64
	}

	return Vec{Bytes: n}
}

// RoundDownRegSize returns the widest natural store width not exceeding size and max.
func RoundDownRegSize(size, max int) Type {
	w := 1

	for w*2 <= size && w*2 <= max {
		w *= 2
	}

	return ForSize(w)
}

// Parse is the inverse of Name.
func Parse(s string) (Type, error) {
	switch s {
	case "void":
		return Void{}, nil
	case "i8":
		return I8, nil
	case "u8":
		return U8, nil
	case "i16":
		return I16, nil
	case "u16":
		return U16, nil
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "ptr":
		return IntPtr, nil
	case "byref":
		return ByRef, nil
	case "v16":
		return Vec{Bytes: 16}, nil
	case "v32":
		return Vec{Bytes: 32}, nil
	}

	return nil, fmt.Errorf("unknown type: %q", s)
}

func Name(t Type) string {
	switch t := t.(type) {
	case nil, Void:
		return "void"
	case Int:
		if t.Signed {
			return fmt.Sprintf("i%d", t.Bits)
		}

		return fmt.Sprintf("u%d", t.Bits)
	case Ptr:
		if t.Managed {
			return "byref"
		}

		return "ptr"
	case Vec:
		return fmt.Sprintf("v%d", t.Bytes)
	}

	return fmt.Sprintf("%T", t)
}
