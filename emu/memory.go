// Package emu provides functional emulation of lifted IL.
package emu

import (
	"fmt"
	"math"
	"sort"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// SegmentFlags holds the access permissions of a mapped segment.
type SegmentFlags uint32

const (
	// SegmentExecute marks a segment as executable.
	SegmentExecute SegmentFlags = 1 << iota
	// SegmentWrite marks a segment as writable.
	SegmentWrite
	// SegmentRead marks a segment as readable.
	SegmentRead

	// SegmentRW is the usual data segment permission set.
	SegmentRW = SegmentRead | SegmentWrite
	// SegmentRWX allows every access.
	SegmentRWX = SegmentRead | SegmentWrite | SegmentExecute
)

// String renders the flags as "rwx" with dashes for missing permissions.
func (f SegmentFlags) String() string {
	out := []byte("---")
	if f&SegmentRead != 0 {
		out[0] = 'r'
	}
	if f&SegmentWrite != 0 {
		out[1] = 'w'
	}
	if f&SegmentExecute != 0 {
		out[2] = 'x'
	}
	return string(out)
}

// ParseSegmentFlags parses the "rwx" form produced by String. Dashes and
// missing letters leave the permission unset.
func ParseSegmentFlags(s string) (SegmentFlags, error) {
	var f SegmentFlags
	for _, c := range s {
		switch c {
		case 'r', 'R':
			f |= SegmentRead
		case 'w', 'W':
			f |= SegmentWrite
		case 'x', 'X':
			f |= SegmentExecute
		case '-':
		default:
			return 0, fmt.Errorf("invalid segment flag %q in %q", c, s)
		}
	}
	return f, nil
}

// MarshalText implements encoding.TextMarshaler.
func (f SegmentFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *SegmentFlags) UnmarshalText(text []byte) error {
	v, err := ParseSegmentFlags(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Segment is a contiguous mapped address range.
type Segment struct {
	Start uint64
	Size  uint64
	Flags SegmentFlags

	storage *mem.Storage
}

// End returns the last address of the segment.
func (s *Segment) End() uint64 {
	return s.Start + s.Size - 1
}

// Contains reports whether addr lies within the segment.
func (s *Segment) Contains(addr uint64) bool {
	return addr >= s.Start && addr <= s.End()
}

// Memory is a sparse, segmented address space. Accesses outside every
// mapped segment fail with a MemoryAccessError.
type Memory struct {
	maxAddr  uint64
	segments []*Segment // sorted by Start
}

// NewMemory creates an empty address space of addressSize bytes per
// pointer. Sizes of 8 or more give the full 64-bit space.
func NewMemory(addressSize int) *Memory {
	maxAddr := uint64(math.MaxUint64)
	if addressSize > 0 && addressSize < 8 {
		maxAddr = 1<<(uint(addressSize)*8) - 1
	}

	return &Memory{maxAddr: maxAddr}
}

// MaxAddress returns the highest addressable byte.
func (m *Memory) MaxAddress() uint64 {
	return m.maxAddr
}

// Segments returns the mapped segments in address order.
func (m *Memory) Segments() []*Segment {
	out := make([]*Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// Map maps size bytes at base and returns base.
func (m *Memory) Map(base, size uint64, flags SegmentFlags) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot map an empty segment at 0x%X", base)
	}

	if base > m.maxAddr || size-1 > m.maxAddr-base {
		return 0, fmt.Errorf("segment 0x%X+0x%X exceeds address space", base, size)
	}

	seg := &Segment{
		Start:   base,
		Size:    size,
		Flags:   flags,
		storage: mem.NewStorage(size),
	}

	for _, other := range m.segments {
		if seg.Start <= other.End() && other.Start <= seg.End() {
			return 0, fmt.Errorf("map 0x%X+0x%X: %w", base, size, ErrSegmentOverlap)
		}
	}

	m.segments = append(m.segments, seg)
	sort.Slice(m.segments, func(i, j int) bool {
		return m.segments[i].Start < m.segments[j].Start
	})

	return base, nil
}

// MapAnywhere maps size bytes at the lowest free address that is a
// multiple of align, and returns that address.
func (m *Memory) MapAnywhere(size, align uint64, flags SegmentFlags) (uint64, error) {
	base, err := m.findFree(size, align)
	if err != nil {
		return 0, err
	}
	return m.Map(base, size, flags)
}

func (m *Memory) findFree(size, align uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot map an empty segment")
	}
	if align == 0 {
		align = 1
	}

	candidate := uint64(0)
	for _, seg := range m.segments {
		if candidate < seg.Start && size <= seg.Start-candidate {
			return candidate, nil
		}

		if seg.End() >= candidate {
			if seg.End() == math.MaxUint64 {
				return 0, ErrNoFreeSegment
			}
			next, ok := alignUp(seg.End()+1, align)
			if !ok {
				return 0, ErrNoFreeSegment
			}
			candidate = next
		}
	}

	if candidate > m.maxAddr || size-1 > m.maxAddr-candidate {
		return 0, ErrNoFreeSegment
	}

	return candidate, nil
}

func alignUp(addr, align uint64) (uint64, bool) {
	rem := addr % align
	if rem == 0 {
		return addr, true
	}
	pad := align - rem
	if addr > math.MaxUint64-pad {
		return 0, false
	}
	return addr + pad, true
}

// Unmap removes the segment starting at base.
func (m *Memory) Unmap(base uint64) error {
	for i, seg := range m.segments {
		if seg.Start == base {
			m.segments = append(m.segments[:i], m.segments[i+1:]...)
			return nil
		}
	}

	return &MemoryAccessError{Address: base, Reason: "no segment starts here"}
}

// SegmentAt returns the segment containing addr, or nil.
func (m *Memory) SegmentAt(addr uint64) *Segment {
	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].End() >= addr
	})
	if i < len(m.segments) && m.segments[i].Contains(addr) {
		return m.segments[i]
	}
	return nil
}

// Read reads n bytes at addr. Every byte must be mapped readable.
func (m *Memory) Read(addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)

	err := m.walk(addr, n, SegmentRead, func(seg *Segment, off, l uint64) error {
		data, err := seg.storage.Read(off, l)
		if err != nil {
			return err
		}
		out = append(out, data...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Write writes data at addr. Every byte must be mapped writable.
func (m *Memory) Write(addr uint64, data []byte) error {
	return m.write(addr, data, SegmentWrite)
}

// Load writes data at addr ignoring segment permissions. It is meant for
// loaders populating read-only or executable segments.
func (m *Memory) Load(addr uint64, data []byte) error {
	return m.write(addr, data, 0)
}

func (m *Memory) write(addr uint64, data []byte, need SegmentFlags) error {
	done := uint64(0)
	return m.walk(addr, len(data), need, func(seg *Segment, off, l uint64) error {
		err := seg.storage.Write(off, data[done:done+l])
		done += l
		return err
	})
}

// walk splits [addr, addr+n) into per-segment chunks, checking mapping and
// permissions for all of them before visiting any.
func (m *Memory) walk(
	addr uint64,
	n int,
	need SegmentFlags,
	visit func(seg *Segment, off, l uint64) error,
) error {
	type chunk struct {
		seg    *Segment
		off, l uint64
	}

	var chunks []chunk
	curr := addr
	left := uint64(n)

	for left > 0 {
		seg := m.SegmentAt(curr)
		if seg == nil {
			return &MemoryAccessError{Address: curr, Size: n, Reason: "unmapped"}
		}
		if seg.Flags&need != need {
			return &MemoryAccessError{
				Address: curr, Size: n,
				Reason: fmt.Sprintf("segment is %s", seg.Flags),
			}
		}

		l := left
		if avail := seg.End() - curr; avail < left-1 {
			l = avail + 1
		}

		chunks = append(chunks, chunk{seg: seg, off: curr - seg.Start, l: l})
		left -= l
		curr += l
	}

	for _, c := range chunks {
		if err := visit(c.seg, c.off, c.l); err != nil {
			return &MemoryAccessError{Address: c.seg.Start + c.off, Size: n, Reason: err.Error()}
		}
	}

	return nil
}
