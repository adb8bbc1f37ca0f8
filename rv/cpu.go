package rv

import "unsafe"

// CPUState is the concrete, C-ABI-compatible shape of "CPU state" as
// used throughout this package: by the interpreter, by the compiled
// native blocks (which see it as `rv_cpu_t*`, declared with the same
// field order in rv_runtime.h), and by the hybrid driver's dispatch
// loop. Register 0 always reads as zero and ignores writes.
//
// MemPtr/MemLen point into the backing array owned by a Memory (see
// Image.Clone) so that native blocks and the interpreter share one
// writable memory without copying on every access. This must never be
// bound to an Image's own read-only mapping: a store through MemPtr
// writes straight through the pointer, and writing a PROT_READ-only
// mmap page segfaults the process instead of raising StoreAccessFault.
type CPUState struct {
	Regs      [32]uint32
	PC        uint32
	NextPC    uint32
	Trapped   uint32
	Cause     uint32
	FaultAddr uint32
	MemPtr    uintptr
	MemLen    uint32
}

// NewCPUState builds a CPUState bound to mem, with PC set to entry.
// mem must be an owned, writable buffer (e.g. (*Memory).Bytes(), or any
// other not backed by a read-only mapping) since stores write through
// MemPtr directly.
func NewCPUState(mem []byte, entry uint32) *CPUState {
	s := &CPUState{PC: entry, NextPC: entry}
	s.BindMemory(mem)
	return s
}

// BindMemory points the CPU's memory operands at mem without copying
// it. mem must be writable; see NewCPUState.
func (s *CPUState) BindMemory(mem []byte) {
	if len(mem) == 0 {
		s.MemPtr, s.MemLen = 0, 0
		return
	}
	s.MemPtr = uintptr(unsafe.Pointer(&mem[0]))
	s.MemLen = uint32(len(mem))
}

// Reg reads register r, hardwiring r==0 to zero.
func (s *CPUState) Reg(r uint8) uint32 {
	if r == 0 {
		return 0
	}
	return s.Regs[r]
}

// SetReg writes register r, ignoring writes to r==0.
func (s *CPUState) SetReg(r uint8, v uint32) {
	if r == 0 {
		return
	}
	s.Regs[r] = v
}

// Transfer commits the staged next-pc into the current program counter
// and returns the new current address: the "commit / transfer" step
// that Interp.Step performs after each interpreted instruction and
// HybridDriver.Run performs after each native block.
func (s *CPUState) Transfer() uint32 {
	s.PC = s.NextPC
	return s.PC
}

// IsTrapped reports whether the CPU is currently halted on a trap.
func (s *CPUState) IsTrapped() bool {
	return s.Trapped != 0
}

// TrapError reconstructs a *TrapError from the CPU's trap fields, or
// nil if the CPU is not trapped.
func (s *CPUState) TrapError() *TrapError {
	if !s.IsTrapped() {
		return nil
	}
	return &TrapError{Cause: TrapCause(s.Cause), PC: s.PC, Addr: s.FaultAddr}
}

func (s *CPUState) raise(cause TrapCause, faultAddr uint32) {
	s.Trapped = 1
	s.Cause = uint32(cause)
	s.FaultAddr = faultAddr
}

// RaiseIllegalInstruction traps the CPU on an undecodable instruction.
func (s *CPUState) RaiseIllegalInstruction() {
	s.raise(CauseIllegalInstruction, s.PC)
}

// RaiseLoadFault traps the CPU on an out-of-range load.
func (s *CPUState) RaiseLoadFault(addr uint32) {
	s.raise(CauseLoadAccessFault, addr)
}

// RaiseStoreFault traps the CPU on an out-of-range store.
func (s *CPUState) RaiseStoreFault(addr uint32) {
	s.raise(CauseStoreAccessFault, addr)
}

// Ecall traps the CPU so the hybrid driver can service the pending
// environment call through the device bus before resuming.
func (s *CPUState) Ecall() {
	s.raise(CauseEcall, s.PC)
}

// Ebreak traps the CPU on a breakpoint instruction.
func (s *CPUState) Ebreak() {
	s.raise(CauseEbreak, s.PC)
}

// ClearTrap resumes the CPU after a trap has been serviced (e.g. an
// ecall handled by the device bus) by clearing the trapped flag.
func (s *CPUState) ClearTrap() {
	s.Trapped = 0
	s.Cause = uint32(CauseNone)
	s.FaultAddr = 0
}

// memoryView reconstructs the []byte the CPU's memory operands point
// at, for the interpreter's store path and for the buffer handed to
// ecall devices (interpreter loads go through its memAccess instead).
func memoryView(s *CPUState) []byte {
	if s.MemPtr == 0 || s.MemLen == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(s.MemPtr)), int(s.MemLen))
}
