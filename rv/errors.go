package rv

import (
	"errors"
	"fmt"
)

// Build-time errors. Discovery, emission, compilation and loading all
// abort the setup path on one of these; none of them unwind across a
// running program the way a trap does (see TrapCause below).
var (
	errCompileFailed  = errors.New("compile failed")
	errLoadFailed     = errors.New("shared library load failed")
	errSymbolMissing  = errors.New("expected block symbol missing from shared library")
	errNoSourceLines  = errors.New("no source lines given")
	errUnknownOpcode  = errors.New("instruction not recognized")

	// errDeviceNotFound and errDeviceBusy are returned by EcallBus.Dispatch
	// (devicebus.go); both arrive through EcallResponse.Err and are a
	// program's responsibility to check after an ecall, never raised as
	// a TrapCause of their own.
	errDeviceNotFound = errors.New("ecall device not registered")
	errDeviceBusy     = errors.New("ecall device busy")
)

// MemoryReadError is raised by the instruction reader (Image.FetchWord)
// and propagated out of block discovery per spec §4.1 "Failures".
type MemoryReadError struct {
	Addr uint32
}

func (e *MemoryReadError) Error() string {
	return fmt.Sprintf("memory read failed at address 0x%08x", e.Addr)
}

func newMemoryReadError(addr uint32) error {
	return &MemoryReadError{Addr: addr}
}

// WriteFailedError wraps an I/O failure that occurred while the block
// writer was serializing generated source to the scratch directory.
type WriteFailedError struct {
	Path string
	Err  error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("failed writing %s: %v", e.Path, e.Err)
}

func (e *WriteFailedError) Unwrap() error { return e.Err }

func newWriteFailedError(path string, err error) error {
	return &WriteFailedError{Path: path, Err: err}
}

// CompileFailedError carries the captured stderr and exit code of a
// non-zero compiler invocation (spec §4.3 step 4, §7).
type CompileFailedError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CompileFailedError) Error() string {
	return fmt.Sprintf("%v: compiler exited %d: %s", errCompileFailed, e.ExitCode, e.Stderr)
}

func (e *CompileFailedError) Unwrap() error { return errCompileFailed }

// LoadFailedError wraps a dlopen failure for the compiled shared object.
type LoadFailedError struct {
	Path string
	Err  error
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("%v: %s: %v", errLoadFailed, e.Path, e.Err)
}

func (e *LoadFailedError) Unwrap() error { return errLoadFailed }

// SymbolMissingError wraps a dlsym failure for one expected block symbol.
type SymbolMissingError struct {
	Symbol string
	Err    error
}

func (e *SymbolMissingError) Error() string {
	return fmt.Sprintf("%v: %s: %v", errSymbolMissing, e.Symbol, e.Err)
}

func (e *SymbolMissingError) Unwrap() error { return errSymbolMissing }

// TrapCause enumerates the runtime trap causes observed through
// CPUState.IsTrapped/CPUState.Cause (spec §7).
type TrapCause uint32

const (
	// CauseNone means the CPU is not currently trapped.
	CauseNone TrapCause = iota
	CauseIllegalInstruction
	CauseLoadAccessFault
	CauseStoreAccessFault
	CauseEcall
	CauseEbreak
)

func (c TrapCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseIllegalInstruction:
		return "illegal instruction"
	case CauseLoadAccessFault:
		return "load access fault"
	case CauseStoreAccessFault:
		return "store access fault"
	case CauseEcall:
		return "ecall"
	case CauseEbreak:
		return "ebreak"
	default:
		return "unknown trap"
	}
}

// TrapError adapts a TrapCause into a plain error, carrying the PC at
// which the trap fired so callers can report "cause kind and PC value"
// per spec §7 "User-visible behavior".
type TrapError struct {
	Cause TrapCause
	PC    uint32
	Addr  uint32
}

func (e *TrapError) Error() string {
	if e.Cause == CauseLoadAccessFault || e.Cause == CauseStoreAccessFault {
		return fmt.Sprintf("%s at pc=0x%08x addr=0x%08x", e.Cause, e.PC, e.Addr)
	}
	return fmt.Sprintf("%s at pc=0x%08x", e.Cause, e.PC)
}
