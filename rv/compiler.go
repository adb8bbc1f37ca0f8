package rv

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ebitengine/purego"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// BlockFunc is the ABI every compiled block and the interpreter's
// fallback loop share: mutate cpu in place, stage next_pc, return.
type BlockFunc func(cpu *CPUState)

// Compiler drives spec.md §4.3: serialize emitted blocks, invoke the
// system C compiler, load the result, and resolve each block's symbol
// into a callable function. It owns the scratch directory and the
// loaded library; neither may outlive the Compiler.
type Compiler struct {
	CC        string // compiler executable, defaults to "cc"
	OptLevel  int    // defaults to 2
	KeepFiles bool   // skip scratch-dir cleanup, for post-mortem inspection
	Log       *logrus.Logger

	scratchDir string
	handle     uintptr
	blockMap   map[uint32]BlockFunc
}

// NewCompiler builds a Compiler with the teacher-style zero-config
// defaults: system "cc", -O2, and a logrus.Logger at its default level.
func NewCompiler() *Compiler {
	return &Compiler{
		CC:       "cc",
		OptLevel: 2,
		Log:      logrus.StandardLogger(),
		blockMap: make(map[uint32]BlockFunc),
	}
}

// BlockMap returns the address-keyed table of resolved native
// functions. Read-only after Build succeeds; empty before that.
func (c *Compiler) BlockMap() map[uint32]BlockFunc {
	return c.blockMap
}

// Build performs all of spec.md §4.3's operations: write source, run
// the compiler, load the shared library, and resolve every block's
// symbol into the block map.
func (c *Compiler) Build(img reader, blocks []Block) error {
	if len(blocks) == 0 {
		return errNoSourceLines
	}
	dir, err := os.MkdirTemp("", "rvaot-*")
	if err != nil {
		return err
	}
	c.scratchDir = dir

	blocksPath := filepath.Join(dir, "blocks.c")
	runtimeCPath := filepath.Join(dir, "rv_runtime.c")
	runtimeHPath := filepath.Join(dir, "rv_runtime.h")
	soPath := filepath.Join(dir, "libblocks.so")

	if err := c.writeSource(blocksPath, img, blocks); err != nil {
		return err
	}
	if err := os.WriteFile(runtimeHPath, []byte(RuntimeHeader), 0o644); err != nil {
		return newWriteFailedError(runtimeHPath, err)
	}
	if err := os.WriteFile(runtimeCPath, []byte(RuntimeSource), 0o644); err != nil {
		return newWriteFailedError(runtimeCPath, err)
	}

	if err := c.invoke(dir, soPath, blocksPath, runtimeCPath); err != nil {
		return err
	}
	if err := c.load(soPath, blocks); err != nil {
		return err
	}
	return nil
}

func (c *Compiler) writeSource(path string, img reader, blocks []Block) error {
	var body []byte
	body = append(body, Preamble...)
	w := NewBlockWriter(img)
	for _, b := range blocks {
		src, err := w.EmitBlock(b)
		if err != nil {
			return err
		}
		body = append(body, src...)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return newWriteFailedError(path, err)
	}
	return nil
}

// invoke spawns the system C compiler with the four flag classes
// spec.md §6 requires: shared-library output, optimization ≥ 1, debug
// symbol stripping, and the runtime source passed alongside the
// generated file as an explicit compile unit.
func (c *Compiler) invoke(dir, soPath, blocksPath, runtimeCPath string) error {
	opt := c.OptLevel
	if opt < 1 {
		opt = 1
	}
	args := []string{
		"-shared", "-fPIC",
		fmt.Sprintf("-O%d", opt),
		"-s",
		"-o", soPath,
		blocksPath, runtimeCPath,
	}
	c.Log.WithField("args", args).Debug("invoking compiler")

	cmd := exec.Command(c.CC, args...)
	cmd.Dir = dir
	stderr, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if ws, ok := exitErr.Sys().(unix.WaitStatus); ok {
			exitCode = ws.ExitStatus()
		}
	}
	c.Log.WithFields(logrus.Fields{
		"exit_code": exitCode,
		"stderr":    string(stderr),
	}).Error("compiler invocation failed")
	return &CompileFailedError{Args: args, ExitCode: exitCode, Stderr: string(stderr)}
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// load dlopens soPath and resolves every block's symbol, grounded on
// purego's dlopen/dlsym/RegisterFunc trio for calling into a compiled
// shared object without a cgo build step.
func (c *Compiler) load(soPath string, blocks []Block) error {
	handle, err := purego.Dlopen(soPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return &LoadFailedError{Path: soPath, Err: err}
	}
	c.handle = handle

	for _, b := range blocks {
		sym := BlockSymbol(b)
		addr, dlerr := purego.Dlsym(handle, sym)
		if dlerr != nil {
			return &SymbolMissingError{Symbol: sym, Err: dlerr}
		}
		var fn func(cpu *CPUState)
		purego.RegisterFunc(&fn, addr)
		c.blockMap[b.Start] = fn
		c.Log.WithField("symbol", sym).Debug("resolved block symbol")
	}
	return nil
}

// Close releases the loaded library and, unless KeepFiles is set,
// removes the scratch directory. The block map must not be used after
// Close returns.
func (c *Compiler) Close() error {
	var err error
	if c.handle != 0 {
		err = purego.Dlclose(c.handle)
		c.handle = 0
	}
	if !c.KeepFiles && c.scratchDir != "" {
		os.RemoveAll(c.scratchDir)
	}
	return err
}
