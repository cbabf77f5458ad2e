// Package main provides the entry point for emilator.
// emilator evaluates lifted IL functions against an emulated machine.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/emilator/config"
	"github.com/sarchlab/emilator/emu"
	"github.com/sarchlab/emilator/il"
	"github.com/sarchlab/emilator/loader"
	"github.com/sarchlab/emilator/luahook"
)

var (
	configPath = flag.String("config", "", "Path to emulator configuration JSON file")
	luaPath    = flag.String("lua", "", "Path to a Lua hook script")
	elfPath    = flag.String("elf", "", "Path to an ELF image to map into memory")
	verbose    = flag.Bool("v", false, "Verbose output")
	cpuProfile = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile = flag.String("memprofile", "", "write memory profile to file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: emilator [options] <function.json>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		atexit.Exit(1)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			atexit.Exit(1)
		}

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			atexit.Exit(1)
		}
		atexit.Register(func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		})
	}

	code := run(flag.Arg(0))

	if *memProfile != "" {
		if err := writeMemProfile(*memProfile); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
		}
	}

	atexit.Exit(code)
}

func writeMemProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func fail(format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "Error "+format+"\n", args...)
	return 1
}

func run(functionPath string) int {
	fn, err := il.LoadFunction(functionPath)
	if err != nil {
		return fail("loading function: %v", err)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return fail("loading config: %v", err)
		}
	} else {
		cfg.Arch = fn.Arch
		if cfg.Arch.StackPointer == "" {
			cfg.Stack.Size = 0
		}
	}

	var prog *loader.Program
	if *elfPath != "" {
		prog, err = loader.Load(*elfPath)
		if err != nil {
			return fail("loading ELF image: %v", err)
		}
		cfg.Arch = mergeArch(cfg.Arch, prog.Arch)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return fail("reading environment: %v", err)
	}

	logger := cfg.Logger(os.Stderr)

	e, err := cfg.Build(emu.WithLogger(logger), emu.WithFunction(fn))
	if err != nil {
		return fail("setting up emulator: %v", err)
	}

	if prog != nil {
		if err := prog.LoadInto(e.Machine().Memory()); err != nil {
			return fail("mapping ELF image: %v", err)
		}
	}

	counter := emu.NewOpCounter()
	e.AcceptHook(counter)
	if *verbose {
		e.AcceptHook(emu.NewTraceHook(logger, slog.LevelInfo))
		fmt.Printf("Loaded: %s (%d instructions)\n", fn.Name, len(fn.Instructions))
		fmt.Printf("Arch: %s, %s-endian, %d-byte addresses\n",
			e.Arch().Name, e.Arch().Endianness, e.Arch().AddressSize)
	}

	if *luaPath != "" {
		script := luahook.New(luahook.WithLogger(logger))
		atexit.Register(script.Close)

		if err := script.LoadFile(*luaPath); err != nil {
			return fail("%v", err)
		}
		if err := script.Attach(e); err != nil {
			return fail("%v", err)
		}
	}

	runErr := e.Run()

	fmt.Println(renderRegisters(e.Machine()))
	if *verbose {
		fmt.Println(renderSegments(e.Machine()))
		fmt.Println(renderOpCounts(counter))
	}
	fmt.Printf("Instructions executed: %d\n", e.InstructionCount())

	if runErr != nil {
		return fail("running %s: %v", fn.Name, runErr)
	}

	return 0
}

// mergeArch takes the byte order and pointer width from the ELF image and
// keeps the configured stack pointer when the image's machine has none.
func mergeArch(configured, image il.Arch) il.Arch {
	if image.StackPointer == "" {
		image.StackPointer = configured.StackPointer
	}
	return image
}
