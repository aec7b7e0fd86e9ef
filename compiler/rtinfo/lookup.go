package rtinfo

// LookupTable maps runtime lookup signatures to their descriptors.
// It is filled when lookup calls are created and read back when they are expanded.
// One table belongs to one method compilation, inlinees included.
type LookupTable struct {
	m map[uint64]RuntimeLookup
}

func NewLookupTable() *LookupTable {
	return &LookupTable{m: map[uint64]RuntimeLookup{}}
}

// Register records l unless its signature is already known.
// It reports whether l was added.
func (t *LookupTable) Register(l RuntimeLookup) bool {
	if _, ok := t.m[l.Signature]; ok {
		return false
	}

	t.m[l.Signature] = l

	return true
}

func (t *LookupTable) Lookup(sig uint64) (RuntimeLookup, bool) {
	if t == nil {
		return RuntimeLookup{}, false
	}

	l, ok := t.m[sig]

	return l, ok
}

func (t *LookupTable) Len() int {
	if t == nil {
		return 0
	}

	return len(t.m)
}
