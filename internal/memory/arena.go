// Package memory implements the physical byte arena and page allocator that
// every process's virtual address space is carved out of (spec §3, §4.1).
//
// The arena is the single owner of the underlying byte slice; processes hold
// only page-table entries (physical bases) returned by Mmap, never a
// reference to the arena's backing array.
package memory

import "errors"

const (
	// PageSize is the granularity of a single page, in bytes.
	PageSize = 0x1000
	// PhysMemSize is the total size of the physical arena.
	PhysMemSize = 0x100000

	physPageCount = PhysMemSize / PageSize
)

var (
	ErrInvalidInput = errors.New("memory: invalid input")
	ErrOutOfMemory  = errors.New("memory: out of memory")
	ErrOutOfRange   = errors.New("memory: address out of range")
)

// Arena is a contiguous physical byte region partitioned into PageSize
// pages, with a parallel occupancy bitmap. A page is reachable by at most
// one process's page table; freeing is not implemented (spec §9).
type Arena struct {
	phys []byte
	used []bool
}

// NewArena allocates a zeroed byte region and an all-free page bitmap.
func NewArena() *Arena {
	return &Arena{
		phys: make([]byte, PhysMemSize),
		used: make([]bool, physPageCount),
	}
}

// Mmap allocates pages free pages first-fit, all-or-nothing, and returns
// their physical bases in allocation order.
func (a *Arena) Mmap(pages int) ([]uint32, error) {
	if pages <= 0 {
		return nil, ErrInvalidInput
	}

	indices := make([]int, 0, pages)
	for idx, busy := range a.used {
		if !busy {
			indices = append(indices, idx)
			if len(indices) == pages {
				break
			}
		}
	}
	if len(indices) < pages {
		return nil, ErrOutOfMemory
	}

	bases := make([]uint32, 0, pages)
	for _, idx := range indices {
		a.used[idx] = true
		bases = append(bases, uint32(idx*PageSize))
	}
	return bases, nil
}

// Read returns a copy of len bytes starting at addr. addr+len must not
// overflow or exceed the arena.
func (a *Arena) Read(addr uint32, length uint32) ([]byte, error) {
	end, err := boundedEnd(addr, length, uint32(len(a.phys)))
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, a.phys[addr:end])
	return out, nil
}

// Write copies data into the arena at addr. The effective write length is
// clamped to min(length, len(data)) and must not exceed PageSize.
func (a *Arena) Write(addr uint32, data []byte, length int) error {
	writeLen := length
	if writeLen > len(data) {
		writeLen = len(data)
	}
	if writeLen > PageSize {
		return ErrInvalidInput
	}

	end, err := boundedEnd(addr, uint32(writeLen), uint32(len(a.phys)))
	if err != nil {
		return err
	}
	copy(a.phys[addr:end], data[:writeLen])
	return nil
}

func boundedEnd(addr, length, limit uint32) (uint32, error) {
	end := uint64(addr) + uint64(length)
	if end > uint64(limit) {
		return 0, ErrOutOfRange
	}
	return uint32(end), nil
}
