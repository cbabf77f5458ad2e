// Package loader provides ELF image loading into emulator memory.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/emilator/emu"
	"github.com/sarchlab/emilator/il"
)

// PageSize is the granularity segments are mapped at.
const PageSize = 0x1000

// DefaultStackSize is the default stack size (8MB).
const DefaultStackSize = 8 * 1024 * 1024

// DefaultStackTop returns a conventional user-space stack top for the given
// pointer width in bytes.
func DefaultStackTop(addressSize int) uint64 {
	switch {
	case addressSize >= 8:
		return 0x7ffffffff000
	case addressSize == 4:
		return 0xbffff000
	case addressSize > 0:
		return 1 << (uint(addressSize) * 8)
	}
	return 0x7ffffffff000
}

// stackPointers maps ELF machine types to the name the lifter uses for the
// stack pointer register.
var stackPointers = map[elf.Machine]il.Register{
	elf.EM_386:     "esp",
	elf.EM_X86_64:  "rsp",
	elf.EM_ARM:     "sp",
	elf.EM_AARCH64: "sp",
	elf.EM_MIPS:    "$sp",
	elf.EM_PPC:     "r1",
	elf.EM_PPC64:   "r1",
	elf.EM_RISCV:   "sp",
}

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags emu.SegmentFlags
}

// Program represents a loaded ELF image.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Arch is derived from the ELF header.
	Arch il.Arch
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
}

// Load parses an ELF binary and returns a Program ready for mapping into
// emulator memory. Any machine type is accepted; the byte order and
// pointer width come from the ELF header.
func Load(path string) (*Program, error) {
	// Open the ELF file
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	arch := il.Arch{
		Name:         f.Machine.String(),
		Endianness:   il.LittleEndian,
		AddressSize:  8,
		StackPointer: stackPointers[f.Machine],
	}

	switch f.Class {
	case elf.ELFCLASS64:
	case elf.ELFCLASS32:
		arch.AddressSize = 4
	default:
		return nil, fmt.Errorf("unsupported ELF class %v", f.Class)
	}

	if f.Data == elf.ELFDATA2MSB {
		arch.Endianness = il.BigEndian
	}

	prog := &Program{
		EntryPoint: f.Entry,
		Arch:       arch,
	}

	// Load all PT_LOAD segments
	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		// Read segment data
		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		// Convert ELF flags to segment flags
		var flags emu.SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= emu.SegmentExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= emu.SegmentWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= emu.SegmentRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return prog, nil
}

// LoadInto maps every segment page-aligned into mem and copies its file
// contents. Ranges already mapped, by another segment or by the caller,
// are reused with the union of their flags. BSS is left zeroed.
func (p *Program) LoadInto(mem *emu.Memory) error {
	for _, seg := range p.Segments {
		if seg.MemSize == 0 {
			continue
		}

		start := seg.VirtAddr &^ (PageSize - 1)
		end := (seg.VirtAddr + seg.MemSize + PageSize - 1) &^ (PageSize - 1)

		if err := mapRange(mem, start, end, seg.Flags); err != nil {
			return fmt.Errorf("segment at 0x%x: %w", seg.VirtAddr, err)
		}

		if err := mem.Load(seg.VirtAddr, seg.Data); err != nil {
			return fmt.Errorf("segment at 0x%x: %w", seg.VirtAddr, err)
		}
	}

	return nil
}

// mapRange maps the unmapped parts of [start, end) and widens the flags of
// segments already mapped there. Existing segments need not be
// page-aligned.
func mapRange(mem *emu.Memory, start, end uint64, flags emu.SegmentFlags) error {
	curr := start
	for curr < end {
		if seg := mem.SegmentAt(curr); seg != nil {
			seg.Flags |= flags
			if seg.End() >= end-1 {
				return nil
			}
			curr = seg.End() + 1
			continue
		}

		gapEnd := end
		for _, seg := range mem.Segments() {
			if seg.Start > curr && seg.Start < gapEnd {
				gapEnd = seg.Start
			}
		}

		if _, err := mem.Map(curr, gapEnd-curr, flags); err != nil {
			return err
		}
		curr = gapEnd
	}

	return nil
}

// MapStack maps a read-write stack of size bytes ending at top and points
// the architecture's stack pointer at it.
func MapStack(e *emu.Emulator, top, size uint64) error {
	m := e.Machine()
	if m == nil {
		return fmt.Errorf("emulator has no built-in machine")
	}

	if _, err := m.Memory().Map(top-size, size, emu.SegmentRW); err != nil {
		return fmt.Errorf("failed to map stack: %w", err)
	}

	sp := e.Arch().StackPointer
	if sp == "" {
		return emu.ErrNoStackPointer
	}

	return e.SetRegisterValue(sp, top)
}
