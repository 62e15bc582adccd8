package frontend

import (
	"fmt"
	"sort"
	"sync"
)

// SimAddressSpace is an in-process user address space used for
// simulation and testing. Regions are byte slices mapped at arbitrary
// addresses; reads hand validators a direct view into the backing
// slice.
type SimAddressSpace struct {
	mu      sync.RWMutex
	regions []simRegion
}

type simRegion struct {
	base     uint64
	data     []byte
	writable bool
}

func NewSimAddressSpace() *SimAddressSpace {
	return &SimAddressSpace{}
}

// Map places a region of the given length at base. Overlapping an
// existing region is an error.
func (s *SimAddressSpace) Map(base, length uint64, writable bool) error {
	if length == 0 {
		return fmt.Errorf("failed to map region at %#x: zero length", base)
	}

	if base+length < base {
		return fmt.Errorf("failed to map region at %#x: length %d wraps the address space", base, length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.regions {
		if base < r.base+uint64(len(r.data)) && r.base < base+length {
			return fmt.Errorf("failed to map region at %#x: overlaps region at %#x", base, r.base)
		}
	}

	s.regions = append(s.regions, simRegion{
		base:     base,
		data:     make([]byte, length),
		writable: writable,
	})

	sort.Slice(s.regions, func(i, j int) bool {
		return s.regions[i].base < s.regions[j].base
	})

	return nil
}

// WriteBytes copies data into a mapped region. The range must fall
// entirely within one region.
func (s *SimAddressSpace) WriteBytes(addr uint64, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.find(addr, uint64(len(data)))
	if r == nil {
		return fmt.Errorf("failed to write %d bytes at %#x: unmapped", len(data), addr)
	}

	copy(r.data[addr-r.base:], data)

	return nil
}

// WriteString writes s followed by a NUL terminator at addr.
func (s *SimAddressSpace) WriteString(addr uint64, str string) error {
	buf := make([]byte, len(str)+1)
	copy(buf, str)

	return s.WriteBytes(addr, buf)
}

// Accessible reports whether [addr, addr+length) lies within a single
// mapped region, with write permission when write is set.
func (s *SimAddressSpace) Accessible(addr, length uint64, write bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.find(addr, length)
	if r == nil {
		return false
	}

	return !write || r.writable
}

// View returns the backing bytes for [addr, addr+length).
func (s *SimAddressSpace) View(addr, length uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.find(addr, length)
	if r == nil {
		return nil, fmt.Errorf("failed to view %d bytes at %#x: unmapped", length, addr)
	}

	off := addr - r.base

	return r.data[off : off+length], nil
}

// find must be called with the mutex held. It returns the region
// wholly containing [addr, addr+length), or nil.
func (s *SimAddressSpace) find(addr, length uint64) *simRegion {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].base+uint64(len(s.regions[i].data)) > addr
	})

	if i == len(s.regions) {
		return nil
	}

	r := &s.regions[i]
	if addr < r.base || addr+length > r.base+uint64(len(r.data)) {
		return nil
	}

	return r
}

// SimFDTable is a fixed set of open descriptors for simulation.
type SimFDTable struct {
	mu   sync.RWMutex
	open map[int32]struct{}
}

func NewSimFDTable(fds ...int32) *SimFDTable {
	t := &SimFDTable{open: make(map[int32]struct{}, len(fds))}

	for _, fd := range fds {
		t.open[fd] = struct{}{}
	}

	return t
}

func (t *SimFDTable) Contains(fd int32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.open[fd]

	return ok
}

// Add marks fd open.
func (t *SimFDTable) Add(fd int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open[fd] = struct{}{}
}

// Remove marks fd closed.
func (t *SimFDTable) Remove(fd int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.open, fd)
}
