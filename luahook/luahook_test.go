package luahook_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/emilator/emu"
	"github.com/sarchlab/emilator/il"
	"github.com/sarchlab/emilator/luahook"
)

var _ = Describe("Script", func() {
	var (
		script *luahook.Script
		e      *emu.Emulator
	)

	BeforeEach(func() {
		script = luahook.New()
		e = emu.NewEmulator()
	})

	AfterEach(func() {
		script.Close()
	})

	global := func(name string) lua.LValue {
		return script.L.GetGlobal(name)
	}

	It("should drive control flow from hooks", func() {
		fn := &il.Function{
			Name: "branchy",
			Arch: il.DefaultArch(),
			Instructions: []*il.Expression{
				il.SetReg(8, "r0", il.Const(8, 1)),
				{Op: il.OpIf, Target: 3, FalseTarget: 2},
				il.SetReg(8, "r0", il.Const(8, 2)),
				{Op: il.OpRet},
				il.SetReg(8, "r0", il.Const(8, 3)),
			},
		}
		e.LoadFunction(fn)

		Expect(script.LoadString(`
			emilator.hook("IF", function(expr) emilator.jump(expr.target) end)
			emilator.hook("LLIL_RET", function(expr) emilator.halt() end)
		`)).To(Succeed())
		Expect(script.Ops()).To(Equal([]il.Op{il.OpIf, il.OpRet}))
		Expect(script.Attach(e)).To(Succeed())

		Expect(e.Run()).To(Succeed())
		Expect(e.Halted()).To(BeTrue())
		Expect(e.GetRegisterValue("r0")).To(Equal(uint64(1)))
	})

	It("should pass the expression fields to the hook", func() {
		Expect(script.LoadString(`
			emilator.hook("SET_REG", function(expr) seen = expr end)
		`)).To(Succeed())
		Expect(script.Attach(e)).To(Succeed())

		expr := il.SetReg(4, "eax", il.Const(4, 7))
		expr.Address = 0x1000
		_, err := e.Evaluate(expr)
		Expect(err).NotTo(HaveOccurred())

		seen, ok := global("seen").(*lua.LTable)
		Expect(ok).To(BeTrue())
		Expect(seen.RawGetString("op").String()).To(Equal("SET_REG"))
		Expect(seen.RawGetString("reg").String()).To(Equal("eax"))
		Expect(lua.LVAsNumber(seen.RawGetString("size"))).To(Equal(lua.LNumber(4)))
		Expect(lua.LVAsNumber(seen.RawGetString("address"))).To(Equal(lua.LNumber(0x1000)))
	})

	It("should read and write registers and memory", func() {
		_, err := e.Machine().Memory().Map(0x1000, 0x100, emu.SegmentRW)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.SetRegisterValue("r1", 41)).To(Succeed())

		Expect(script.LoadString(`
			emilator.hook("NOP", function(expr)
				emilator.set_reg("r2", emilator.reg("r1") + 1)
				emilator.write(0x1000, 4, 0x11223344)
				loaded = emilator.read(0x1000, 2)
			end)
		`)).To(Succeed())
		Expect(script.Attach(e)).To(Succeed())

		_, err = e.Evaluate(&il.Expression{Op: il.OpNop})
		Expect(err).NotTo(HaveOccurred())

		Expect(e.GetRegisterValue("r2")).To(Equal(uint64(42)))
		Expect(e.ReadMemory(0x1000, 4)).To(Equal(uint64(0x11223344)))
		Expect(lua.LVAsNumber(global("loaded"))).To(Equal(lua.LNumber(0x3344)))
	})

	It("should surface Lua errors from hooks", func() {
		Expect(script.LoadString(`
			emilator.hook("CONST", function(expr) error("boom") end)
		`)).To(Succeed())
		Expect(script.Attach(e)).To(Succeed())

		_, err := e.Evaluate(il.Const(8, 1))
		Expect(err).To(MatchError(ContainSubstring("lua hook for CONST")))
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})

	It("should surface emulator errors raised inside hooks", func() {
		Expect(script.LoadString(`
			emilator.hook("NOP", function(expr) emilator.reg("missing") end)
		`)).To(Succeed())
		Expect(script.Attach(e)).To(Succeed())

		_, err := e.Evaluate(&il.Expression{Op: il.OpNop})
		Expect(err).To(MatchError(ContainSubstring("missing")))
	})

	It("should attach hooks registered after Attach", func() {
		Expect(script.Attach(e)).To(Succeed())
		Expect(script.LoadString(`
			count = 0
			emilator.hook("CONST", function(expr) count = count + 1 end)
		`)).To(Succeed())

		_, err := e.Evaluate(il.Binary(il.OpAdd, 8, il.Const(8, 1), il.Const(8, 2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(lua.LVAsNumber(global("count"))).To(Equal(lua.LNumber(2)))
	})

	It("should attach to one emulator only", func() {
		Expect(script.Attach(e)).To(Succeed())
		Expect(script.Attach(emu.NewEmulator())).NotTo(Succeed())
	})

	It("should reject unknown operation names", func() {
		err := script.LoadString(`emilator.hook("FROB", function() end)`)
		Expect(err).To(MatchError(ContainSubstring("FROB")))
	})

	It("should need an emulator for state access", func() {
		err := script.LoadString(`emilator.reg("r0")`)
		Expect(err).To(MatchError(ContainSubstring("no emulator attached")))
	})

	It("should log through the configured logger", func() {
		var buf bytes.Buffer
		logged := luahook.New(luahook.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
		defer logged.Close()

		Expect(logged.LoadString(`emilator.log("hello")`)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("hello"))
		Expect(buf.String()).To(ContainSubstring("source=lua"))
	})

	It("should load scripts from files", func() {
		dir, err := os.MkdirTemp("", "luahook-test")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = os.RemoveAll(dir) }()

		path := filepath.Join(dir, "hooks.lua")
		Expect(os.WriteFile(path, []byte(`emilator.hook("RET", function() emilator.halt() end)`), 0644)).To(Succeed())

		Expect(script.LoadFile(path)).To(Succeed())
		Expect(script.Ops()).To(Equal([]il.Op{il.OpRet}))

		Expect(script.LoadFile(filepath.Join(dir, "missing.lua"))).NotTo(Succeed())
	})
})
