package loader_test

import (
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/emilator/emu"
	"github.com/sarchlab/emilator/il"
	"github.com/sarchlab/emilator/loader"
)

const (
	emX86_64  = 62
	emAArch64 = 183
	emMIPS    = 8

	ptLoad = 1
	ptNote = 4

	pfX = 0x1
	pfW = 0x2
	pfR = 0x4
)

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	write := func(name string, img testELF) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, img.bytes(), 0644)).To(Succeed())
		return path
	}

	Describe("Load", func() {
		Context("with a little-endian 64-bit binary", func() {
			var elfPath string
			code := []byte{0x40, 0x05, 0x80, 0xd2, 0xc0, 0x03, 0x5f, 0xd6}

			BeforeEach(func() {
				elfPath = write("test.elf", testELF{
					machine: emAArch64,
					entry:   0x400080,
					segments: []testSegment{
						{typ: ptLoad, flags: pfR | pfX, vaddr: 0x400000, data: code},
					},
				})
			})

			It("should extract the correct entry point", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x400080)))
			})

			It("should derive the architecture", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Arch.Endianness).To(Equal(il.LittleEndian))
				Expect(prog.Arch.AddressSize).To(Equal(8))
				Expect(prog.Arch.StackPointer).To(Equal(il.Register("sp")))
				Expect(prog.Arch.Name).To(Equal("EM_AARCH64"))
			})

			It("should correctly load segment contents", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
				Expect(prog.Segments[0].VirtAddr).To(Equal(uint64(0x400000)))
				Expect(prog.Segments[0].Data).To(Equal(code))
				Expect(prog.Segments[0].Flags).To(Equal(emu.SegmentRead | emu.SegmentExecute))
			})
		})

		Context("with other machines", func() {
			It("should accept x86-64", func() {
				elfPath := write("x86.elf", testELF{machine: emX86_64})

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Arch.StackPointer).To(Equal(il.Register("rsp")))
			})

			It("should read big-endian 32-bit binaries", func() {
				elfPath := write("mips.elf", testELF{
					class32:   true,
					bigEndian: true,
					machine:   emMIPS,
					entry:     0x400100,
					segments: []testSegment{
						{typ: ptLoad, flags: pfR | pfX, vaddr: 0x400000, data: []byte{0x24, 0x02, 0x00, 0x2a}},
					},
				})

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x400100)))
				Expect(prog.Arch.Endianness).To(Equal(il.BigEndian))
				Expect(prog.Arch.AddressSize).To(Equal(4))
				Expect(prog.Arch.StackPointer).To(Equal(il.Register("$sp")))
				Expect(prog.Segments).To(HaveLen(1))
				Expect(prog.Segments[0].Data).To(Equal([]byte{0x24, 0x02, 0x00, 0x2a}))
			})

			It("should leave the stack pointer empty for unknown machines", func() {
				elfPath := write("odd.elf", testELF{machine: 0x1234})

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Arch.StackPointer).To(BeEmpty())
			})
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open"))
			})

			It("should return error for non-ELF file", func() {
				notElfPath := filepath.Join(tempDir, "not-elf.bin")
				Expect(os.WriteFile(notElfPath, []byte("not an elf file"), 0644)).To(Succeed())

				_, err := loader.Load(notElfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ELF"))
			})

			It("should return error for empty file", func() {
				emptyPath := filepath.Join(tempDir, "empty.elf")
				Expect(os.WriteFile(emptyPath, []byte{}, 0644)).To(Succeed())

				_, err := loader.Load(emptyPath)
				Expect(err).To(HaveOccurred())
			})
		})

		It("should load multiple PT_LOAD segments", func() {
			code := []byte{0x40, 0x05, 0x80, 0xd2}
			data := []byte{0x01, 0x02, 0x03, 0x04}
			elfPath := write("multi.elf", testELF{
				machine: emAArch64,
				entry:   0x400000,
				segments: []testSegment{
					{typ: ptLoad, flags: pfR | pfX, vaddr: 0x400000, data: code},
					{typ: ptLoad, flags: pfR | pfW, vaddr: 0x600000, data: data},
				},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))
			Expect(prog.Segments[1].VirtAddr).To(Equal(uint64(0x600000)))
			Expect(prog.Segments[1].Data).To(Equal(data))
			Expect(prog.Segments[1].Flags).To(Equal(emu.SegmentRW))
		})

		It("should keep MemSize for BSS segments", func() {
			elfPath := write("bss.elf", testELF{
				machine: emAArch64,
				segments: []testSegment{
					{typ: ptLoad, flags: pfR | pfW, vaddr: 0x600000, data: []byte{1, 2, 3, 4}, memsz: 1024},
				},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(Equal([]byte{1, 2, 3, 4}))
			Expect(prog.Segments[0].MemSize).To(Equal(uint64(1024)))
		})

		It("should skip segments that are not PT_LOAD", func() {
			elfPath := write("note.elf", testELF{
				machine:  emAArch64,
				entry:    0x400000,
				segments: []testSegment{{typ: ptNote, flags: pfR}},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
			Expect(prog.EntryPoint).To(Equal(uint64(0x400000)))
		})
	})

	Describe("LoadInto", func() {
		It("should map page-aligned segments and copy their contents", func() {
			elfPath := write("image.elf", testELF{
				machine: emAArch64,
				segments: []testSegment{
					{typ: ptLoad, flags: pfR | pfX, vaddr: 0x400010, data: []byte{0xAA, 0xBB}},
					{typ: ptLoad, flags: pfR | pfW, vaddr: 0x600000, data: []byte{1, 2}, memsz: 0x1800},
				},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())

			m := emu.NewMemory(prog.Arch.AddressSize)
			Expect(prog.LoadInto(m)).To(Succeed())

			segs := m.Segments()
			Expect(segs).To(HaveLen(2))
			Expect(segs[0].Start).To(Equal(uint64(0x400000)))
			Expect(segs[0].Size).To(Equal(uint64(loader.PageSize)))
			Expect(segs[0].Flags).To(Equal(emu.SegmentRead | emu.SegmentExecute))
			Expect(segs[1].Start).To(Equal(uint64(0x600000)))
			Expect(segs[1].Size).To(Equal(uint64(2 * loader.PageSize)))

			data, err := m.Read(0x400010, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0xAA, 0xBB}))

			bss, err := m.Read(0x601000, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(bss).To(Equal([]byte{0, 0, 0, 0}))
		})

		It("should widen the flags of a shared page", func() {
			elfPath := write("shared.elf", testELF{
				machine: emAArch64,
				segments: []testSegment{
					{typ: ptLoad, flags: pfR | pfX, vaddr: 0x400000, data: []byte{0x01}},
					{typ: ptLoad, flags: pfR | pfW, vaddr: 0x400800, data: []byte{0x02}},
				},
			})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())

			m := emu.NewMemory(8)
			Expect(prog.LoadInto(m)).To(Succeed())
			Expect(m.Segments()).To(HaveLen(1))
			Expect(m.Segments()[0].Flags).To(Equal(emu.SegmentRWX))

			Expect(m.Write(0x400800, []byte{0x03})).To(Succeed())
		})

		It("should map around segments that are not page-aligned", func() {
			m := emu.NewMemory(8)
			_, err := m.Map(0x400800, 0x100, emu.SegmentRW)
			Expect(err).NotTo(HaveOccurred())

			prog := &loader.Program{
				Segments: []loader.Segment{
					{VirtAddr: 0x400000, Data: []byte{0xAA, 0xBB}, MemSize: 0x1000, Flags: emu.SegmentRead | emu.SegmentExecute},
				},
			}
			Expect(prog.LoadInto(m)).To(Succeed())

			segs := m.Segments()
			Expect(segs).To(HaveLen(3))
			Expect(segs[0].Start).To(Equal(uint64(0x400000)))
			Expect(segs[0].Size).To(Equal(uint64(0x800)))
			Expect(segs[1].Start).To(Equal(uint64(0x400800)))
			Expect(segs[1].Flags).To(Equal(emu.SegmentRWX))
			Expect(segs[2].Start).To(Equal(uint64(0x400900)))
			Expect(segs[2].End()).To(Equal(uint64(0x400FFF)))

			data, err := m.Read(0x400000, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0xAA, 0xBB}))
		})

		It("should fail when a segment does not fit the address space", func() {
			prog := &loader.Program{
				Segments: []loader.Segment{
					{VirtAddr: 0xFFFFF000, Data: []byte{1}, MemSize: 0x2000, Flags: emu.SegmentRead},
				},
			}

			Expect(prog.LoadInto(emu.NewMemory(4))).NotTo(Succeed())
		})
	})

	Describe("MapStack", func() {
		It("should map the stack and set the stack pointer", func() {
			e := emu.NewEmulator(emu.WithArch(il.Arch{
				Name: "mips", Endianness: il.BigEndian, AddressSize: 4, StackPointer: "$sp",
			}))
			top := loader.DefaultStackTop(4)

			Expect(loader.MapStack(e, top, 0x4000)).To(Succeed())

			sp, err := e.GetRegisterValue("$sp")
			Expect(err).NotTo(HaveOccurred())
			Expect(sp).To(Equal(top))
			Expect(e.WriteMemory(top-4, []byte{1, 2, 3, 4})).To(Succeed())
		})

		It("should require a stack pointer register", func() {
			e := emu.NewEmulator(emu.WithArch(il.Arch{AddressSize: 8}))

			err := loader.MapStack(e, loader.DefaultStackTop(8), 0x1000)
			Expect(err).To(MatchError(emu.ErrNoStackPointer))
		})

		It("should need the built-in machine", func() {
			e := emu.NewEmulator(emu.WithState(emu.NewMachine(il.DefaultArch())))

			Expect(loader.MapStack(e, loader.DefaultStackTop(8), 0x1000)).NotTo(Succeed())
		})
	})
})

type testSegment struct {
	typ   uint32
	flags uint32
	vaddr uint64
	data  []byte
	memsz uint64 // defaults to len(data)
}

// testELF builds minimal ELF executables with program headers only.
type testELF struct {
	class32   bool
	bigEndian bool
	machine   uint16
	entry     uint64
	segments  []testSegment
}

func (t testELF) bytes() []byte {
	var order binary.ByteOrder = binary.LittleEndian
	if t.bigEndian {
		order = binary.BigEndian
	}

	ehsize, phentsize := 64, 56
	if t.class32 {
		ehsize, phentsize = 52, 32
	}

	header := make([]byte, ehsize)
	copy(header[0:4], []byte{0x7f, 'E', 'L', 'F'})
	header[4] = 2 // ELFCLASS64
	if t.class32 {
		header[4] = 1
	}
	header[5] = 1 // ELFDATA2LSB
	if t.bigEndian {
		header[5] = 2
	}
	header[6] = 1                     // version
	order.PutUint16(header[16:18], 2) // executable
	order.PutUint16(header[18:20], t.machine)
	order.PutUint32(header[20:24], 1)

	if t.class32 {
		order.PutUint32(header[24:28], uint32(t.entry))
		order.PutUint32(header[28:32], uint32(ehsize)) // phoff
		order.PutUint16(header[40:42], uint16(ehsize))
		order.PutUint16(header[42:44], uint16(phentsize))
		order.PutUint16(header[44:46], uint16(len(t.segments)))
	} else {
		order.PutUint64(header[24:32], t.entry)
		order.PutUint64(header[32:40], uint64(ehsize)) // phoff
		order.PutUint16(header[52:54], uint16(ehsize))
		order.PutUint16(header[54:56], uint16(phentsize))
		order.PutUint16(header[56:58], uint16(len(t.segments)))
	}

	out := header
	offset := uint64(ehsize + phentsize*len(t.segments))
	var payload []byte

	for _, seg := range t.segments {
		memsz := seg.memsz
		if memsz == 0 {
			memsz = uint64(len(seg.data))
		}
		filesz := uint64(len(seg.data))

		ph := make([]byte, phentsize)
		if t.class32 {
			order.PutUint32(ph[0:4], seg.typ)
			order.PutUint32(ph[4:8], uint32(offset))
			order.PutUint32(ph[8:12], uint32(seg.vaddr))
			order.PutUint32(ph[12:16], uint32(seg.vaddr))
			order.PutUint32(ph[16:20], uint32(filesz))
			order.PutUint32(ph[20:24], uint32(memsz))
			order.PutUint32(ph[24:28], seg.flags)
			order.PutUint32(ph[28:32], 0x1000)
		} else {
			order.PutUint32(ph[0:4], seg.typ)
			order.PutUint32(ph[4:8], seg.flags)
			order.PutUint64(ph[8:16], offset)
			order.PutUint64(ph[16:24], seg.vaddr)
			order.PutUint64(ph[24:32], seg.vaddr)
			order.PutUint64(ph[32:40], filesz)
			order.PutUint64(ph[40:48], memsz)
			order.PutUint64(ph[48:56], 0x1000)
		}

		out = append(out, ph...)
		payload = append(payload, seg.data...)
		offset += filesz
	}

	return append(out, payload...)
}
