package rtsim

import (
	"encoding/binary"
	"fmt"

	"tlog.app/go/errors"
)

type (
	// Memory is a sparse little endian address space.
	// Unwritten bytes read as zero. The first page faults.
	Memory struct {
		pages map[uint64]*[pageSize]byte
	}

	// Fault is an access the runtime would turn into an exception.
	Fault struct {
		Kind string
		Addr uint64
	}
)

const (
	pageSize = 1 << 12

	// NullPage is the size of the unmapped region at address zero.
	NullPage = pageSize
)

func NewMemory() *Memory {
	return &Memory{pages: map[uint64]*[pageSize]byte{}}
}

func (m *Memory) Read(addr uint64, p []byte) error {
	if addr < NullPage {
		return &Fault{Kind: "null reference", Addr: addr}
	}

	for i := range p {
		a := addr + uint64(i)

		pg := m.pages[a/pageSize]
		if pg == nil {
			p[i] = 0
			continue
		}

		p[i] = pg[a%pageSize]
	}

	return nil
}

func (m *Memory) Write(addr uint64, p []byte) error {
	if addr < NullPage {
		return &Fault{Kind: "null reference", Addr: addr}
	}

	for i, c := range p {
		a := addr + uint64(i)

		pg := m.pages[a/pageSize]
		if pg == nil {
			pg = new([pageSize]byte)
			m.pages[a/pageSize] = pg
		}

		pg[a%pageSize] = c
	}

	return nil
}

// Load reads a size byte little endian unsigned integer.
func (m *Memory) Load(addr uint64, size int) (uint64, error) {
	var buf [8]byte

	if size <= 0 || size > 8 {
		return 0, errors.New("bad load size %d", size)
	}

	err := m.Read(addr, buf[:size])
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *Memory) Store(addr uint64, size int, v uint64) error {
	var buf [8]byte

	if size <= 0 || size > 8 {
		return errors.New("bad store size %d", size)
	}

	binary.LittleEndian.PutUint64(buf[:], v)

	return m.Write(addr, buf[:size])
}

// Diff returns the first address the memories differ at.
func (m *Memory) Diff(o *Memory) (uint64, bool) {
	var zero [pageSize]byte

	var first uint64
	found := false

	check := func(k uint64, a, b *[pageSize]byte) {
		for i := range a {
			if a[i] == b[i] {
				continue
			}

			addr := k*pageSize + uint64(i)
			if !found || addr < first {
				first, found = addr, true
			}

			return
		}
	}

	for k, pg := range m.pages {
		op := o.pages[k]
		if op == nil {
			op = &zero
		}

		check(k, pg, op)
	}

	for k, op := range o.pages {
		if _, ok := m.pages[k]; !ok {
			check(k, &zero, op)
		}
	}

	return first, found
}

func (m *Memory) Clone() *Memory {
	c := NewMemory()

	for k, pg := range m.pages {
		cp := *pg
		c.pages[k] = &cp
	}

	return c
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at %#x", f.Kind, f.Addr)
}
