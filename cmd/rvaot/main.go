// Command rvaot discovers, emits, compiles and runs RV32IC programs
// ahead of time. Generalized from the teacher's single-file, flag-based
// main() (image path + debug flag) into a multi-subcommand tool, since
// this rendition needs to choose a target compiler and one or more
// entry addresses that the teacher's single-VM-file tool never did.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v2"

	"rvaot/rv"
)

func main() {
	log := logrus.StandardLogger()

	app := &cli.App{
		Name:  "rvaot",
		Usage: "ahead-of-time translator and hybrid driver for RV32IC images",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Aliases: []string{"v"}, Usage: "enable debug-level logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			discoverCommand(log),
			emitCommand(log),
			buildCommand(log),
			runCommand(log),
			debugCommand(log),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("rvaot failed")
		os.Exit(1)
	}
}

func entriesFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "entry",
		Aliases:  []string{"e"},
		Usage:    "comma-separated entry addresses (hex, e.g. 0x0,0x40)",
		Value:    "0x0",
		Required: false,
	}
}

func parseEntries(raw string) ([]uint32, error) {
	var out []uint32
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid entry address %q: %w", tok, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func discoverCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "run block discovery over an image and print the known-blocks table",
		Flags: []cli.Flag{entriesFlag()},
		Action: func(c *cli.Context) error {
			img, err := rv.OpenImage(c.Args().First())
			if err != nil {
				return err
			}
			defer img.Close()

			entries, err := parseEntries(c.String("entry"))
			if err != nil {
				return err
			}

			blocks, err := rv.Discover(img, uint32(textSize(img)), entries...)
			if err != nil {
				return err
			}
			log.WithField("count", len(blocks)).Info("discovery complete")
			for _, b := range blocks {
				fmt.Printf("[0x%08x, 0x%08x)\n", b.Start, b.End)
			}
			return nil
		},
	}
}

func emitCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "emit",
		Usage: "discover blocks and print the generated C source to stdout",
		Flags: []cli.Flag{entriesFlag()},
		Action: func(c *cli.Context) error {
			img, err := rv.OpenImage(c.Args().First())
			if err != nil {
				return err
			}
			defer img.Close()

			entries, err := parseEntries(c.String("entry"))
			if err != nil {
				return err
			}
			blocks, err := rv.Discover(img, uint32(textSize(img)), entries...)
			if err != nil {
				return err
			}

			fmt.Print(rv.Preamble)
			w := rv.NewBlockWriter(img)
			for _, b := range blocks {
				src, err := w.EmitBlock(b)
				if err != nil {
					return err
				}
				fmt.Print(src)
			}
			log.WithField("blocks", len(blocks)).Debug("emit complete")
			return nil
		},
	}
}

func buildCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "discover, emit, compile and load an image, reporting the resolved block map",
		Flags: []cli.Flag{
			entriesFlag(),
			&cli.StringFlag{Name: "cc", Usage: "C compiler to invoke", Value: "cc"},
			&cli.IntFlag{Name: "opt", Usage: "optimization level", Value: 2},
			&cli.BoolFlag{Name: "keep", Usage: "keep the scratch directory after compiling"},
		},
		Action: func(c *cli.Context) error {
			img, err := rv.OpenImage(c.Args().First())
			if err != nil {
				return err
			}
			defer img.Close()

			entries, err := parseEntries(c.String("entry"))
			if err != nil {
				return err
			}
			blocks, err := rv.Discover(img, uint32(textSize(img)), entries...)
			if err != nil {
				return err
			}

			comp := rv.NewCompiler()
			comp.CC = c.String("cc")
			comp.OptLevel = c.Int("opt")
			comp.KeepFiles = c.Bool("keep")
			comp.Log = log
			if err := comp.Build(img, blocks); err != nil {
				return err
			}
			defer comp.Close()

			log.WithField("resolved", len(comp.BlockMap())).Info("build complete")
			return nil
		},
	}
}

func runCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "build and execute an image from its first entry address (the default full pipeline)",
		Flags: []cli.Flag{
			entriesFlag(),
			&cli.StringFlag{Name: "cc", Usage: "C compiler to invoke", Value: "cc"},
			&cli.IntFlag{Name: "opt", Usage: "optimization level", Value: 2},
			&cli.BoolFlag{Name: "keep", Usage: "keep the scratch directory after compiling"},
		},
		Action: func(c *cli.Context) error {
			img, err := rv.OpenImage(c.Args().First())
			if err != nil {
				return err
			}
			defer img.Close()

			entries, err := parseEntries(c.String("entry"))
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				entries = []uint32{0}
			}

			blocks, err := rv.Discover(img, uint32(textSize(img)), entries...)
			if err != nil {
				return err
			}

			comp := rv.NewCompiler()
			comp.CC = c.String("cc")
			comp.OptLevel = c.Int("opt")
			comp.KeepFiles = c.Bool("keep")
			comp.Log = log
			if err := comp.Build(img, blocks); err != nil {
				return err
			}
			defer comp.Close()

			mem := img.Clone()
			cpu := rv.NewCPUState(mem.Bytes(), entries[0])
			power := &rv.PowerDevice{}
			bus := rv.NewEcallBus()
			bus.Register(&rv.ConsoleDevice{Writer: os.Stdout})
			bus.Register(power)
			defer bus.Close()

			driver := rv.NewHybridDriver(cpu, comp.BlockMap(), mem, mem)
			driver.Log = log
			driver.Bus = bus
			if err := driver.Run(); err != nil {
				return err
			}
			if power.ShutdownRequested {
				log.Info("program requested shutdown via ecall")
				return nil
			}

			if trap := cpu.TrapError(); trap != nil {
				if trap.Cause == rv.CauseEbreak {
					log.WithField("pc", trap.PC).Info("program terminated via ebreak")
					return nil
				}
				return trap
			}
			return nil
		},
	}
}

// debugCommand is a single-step REPL over the interpreter, adapted
// from the teacher's breakpoint/next/run debug loop (vm/run.go's
// RunProgramDebugMode): "n"/"next" executes one instruction, "r"/"run"
// free-runs until a breakpoint or trap, "b <hex addr>" toggles a
// breakpoint. Unlike the teacher's version this always interprets
// (there is no native block map in debug mode) since single-stepping
// through a compiled block would defeat the purpose.
func debugCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "single-step an image through the interpreter with breakpoints",
		Flags: []cli.Flag{entriesFlag()},
		Action: func(c *cli.Context) error {
			img, err := rv.OpenImage(c.Args().First())
			if err != nil {
				return err
			}
			defer img.Close()

			entries, err := parseEntries(c.String("entry"))
			if err != nil {
				return err
			}
			entry := uint32(0)
			if len(entries) > 0 {
				entry = entries[0]
			}

			mem := img.Clone()
			cpu := rv.NewCPUState(mem.Bytes(), entry)
			interp := rv.NewInterp(cpu, mem)

			breakpoints := make(map[uint32]struct{})
			printState(cpu)

			fmt.Println("Commands:\n\tn or next: execute next instruction\n\tr or run: free-run until breakpoint or trap\n\tb <hex addr>: toggle breakpoint\n\tq or quit: exit")

			reader := bufio.NewReader(os.Stdin)
			running := false
			for {
				if !running {
					fmt.Print("\n-> ")
					line, _ := reader.ReadString('\n')
					line = strings.ToLower(strings.TrimSpace(line))
					switch {
					case line == "n" || line == "next":
						// falls through to the single step below
					case line == "r" || line == "run":
						running = true
						continue
					case line == "q" || line == "quit":
						return nil
					case strings.HasPrefix(line, "b"):
						toggleBreakpoint(breakpoints, line)
						continue
					default:
						continue
					}
				} else if _, hit := breakpoints[cpu.PC]; hit {
					log.WithField("pc", cpu.PC).Info("breakpoint hit")
					running = false
					printState(cpu)
					continue
				}

				if err := interp.Step(mem); err != nil {
					return err
				}
				if !running {
					printState(cpu)
				}
				if cpu.IsTrapped() {
					printState(cpu)
					if trap := cpu.TrapError(); trap != nil {
						log.WithField("cause", trap.Cause).Info("program trapped")
					}
					return nil
				}
			}
		},
	}
}

func toggleBreakpoint(breakpoints map[uint32]struct{}, line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 32)
	if err != nil {
		fmt.Println("unknown address:", err)
		return
	}
	a := uint32(addr)
	if _, ok := breakpoints[a]; ok {
		delete(breakpoints, a)
	} else {
		breakpoints[a] = struct{}{}
	}
}

func printState(cpu *rv.CPUState) {
	fmt.Printf("pc=0x%08x next_pc=0x%08x trapped=%v\n", cpu.PC, cpu.NextPC, cpu.IsTrapped())
	for i := 0; i < 32; i += 4 {
		fmt.Printf("  x%-2d=0x%08x  x%-2d=0x%08x  x%-2d=0x%08x  x%-2d=0x%08x\n",
			i, cpu.Reg(uint8(i)), i+1, cpu.Reg(uint8(i+1)), i+2, cpu.Reg(uint8(i+2)), i+3, cpu.Reg(uint8(i+3)))
	}
}

// textSize implements spec.md §6's documented stand-in: the last 4
// bytes of the image are a sentinel, skipped when determining the
// text region size. Callers that know the real text size can bypass
// this by discovering over a narrower slice themselves; rvaot has no
// option for an explicit text size and always applies this convention.
func textSize(img *rv.Image) int {
	n := img.Len()
	if n < 4 {
		return n
	}
	return n - 4
}
