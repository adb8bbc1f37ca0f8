package rv

// memAccess is the byte/half/word load-store surface the interpreter
// needs from an Image, kept narrow so tests can substitute a fake.
type memAccess interface {
	ReadByte(addr uint32) (uint8, error)
	ReadHalf(addr uint32) (uint16, error)
	ReadWord(addr uint32) (uint32, error)
}

// Interp is the third Visitor implementation: it executes one decoded
// instruction's effect directly against a CPUState, instead of
// discovering blocks (BlockFinder) or emitting C source (BlockWriter).
// The hybrid driver uses it as the fallback path when the block map
// misses the current program counter.
type Interp struct {
	cpu *CPUState
	mem memAccess
}

// NewInterp builds an interpreter over cpu, reading memory through mem.
func NewInterp(cpu *CPUState, mem memAccess) *Interp {
	return &Interp{cpu: cpu, mem: mem}
}

// Step decodes and executes exactly one instruction at the CPU's
// current PC, leaving the staged next-PC committed via Transfer.
func (it *Interp) Step(img reader) error {
	raw, err := img.FetchWord(it.cpu.PC)
	if err != nil {
		it.cpu.RaiseLoadFault(it.cpu.PC)
		return nil
	}
	ins, err := Decode(raw)
	if err != nil {
		it.cpu.RaiseIllegalInstruction()
		return nil
	}
	// Straight-line instructions fall through; control-flow handlers
	// overwrite this with their own target.
	it.cpu.NextPC = it.cpu.PC + ins.Width
	if dispatchErr := Dispatch(it, it.cpu.PC, ins); dispatchErr != nil {
		return dispatchErr
	}
	it.cpu.Transfer()
	return nil
}

func (it *Interp) storeReg(r uint8, v uint32) {
	it.cpu.SetReg(r, v)
}

func (it *Interp) StraightLine(addr uint32, ins Instruction) error {
	c := it.cpu
	switch ins.Op {
	case OpLui:
		it.storeReg(ins.Rd, uint32(ins.Imm))
	case OpAuipc:
		it.storeReg(ins.Rd, addr+uint32(ins.Imm))
	case OpAddi:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)+uint32(ins.Imm))
	case OpSlti:
		it.storeReg(ins.Rd, boolU32(int32(c.Reg(ins.Rs1)) < ins.Imm))
	case OpSltiu:
		it.storeReg(ins.Rd, boolU32(c.Reg(ins.Rs1) < uint32(ins.Imm)))
	case OpXori:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)^uint32(ins.Imm))
	case OpOri:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)|uint32(ins.Imm))
	case OpAndi:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)&uint32(ins.Imm))
	case OpSlli:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)<<(uint32(ins.Imm)&0x1f))
	case OpSrli:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)>>(uint32(ins.Imm)&0x1f))
	case OpSrai:
		it.storeReg(ins.Rd, uint32(int32(c.Reg(ins.Rs1))>>(uint32(ins.Imm)&0x1f)))
	case OpAdd:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)+c.Reg(ins.Rs2))
	case OpSub:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)-c.Reg(ins.Rs2))
	case OpSll:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)<<(c.Reg(ins.Rs2)&0x1f))
	case OpSlt:
		it.storeReg(ins.Rd, boolU32(int32(c.Reg(ins.Rs1)) < int32(c.Reg(ins.Rs2))))
	case OpSltu:
		it.storeReg(ins.Rd, boolU32(c.Reg(ins.Rs1) < c.Reg(ins.Rs2)))
	case OpXor:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)^c.Reg(ins.Rs2))
	case OpSrl:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)>>(c.Reg(ins.Rs2)&0x1f))
	case OpSra:
		it.storeReg(ins.Rd, uint32(int32(c.Reg(ins.Rs1))>>(c.Reg(ins.Rs2)&0x1f)))
	case OpOr:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)|c.Reg(ins.Rs2))
	case OpAnd:
		it.storeReg(ins.Rd, c.Reg(ins.Rs1)&c.Reg(ins.Rs2))
	case OpFence:
		// no-op: single-hart, no memory model to enforce ordering in.
	case OpLb:
		v, err := it.mem.ReadByte(c.Reg(ins.Rs1) + uint32(ins.Imm))
		if err != nil {
			c.RaiseLoadFault(c.Reg(ins.Rs1) + uint32(ins.Imm))
			return nil
		}
		it.storeReg(ins.Rd, uint32(int32(int8(v))))
	case OpLbu:
		v, err := it.mem.ReadByte(c.Reg(ins.Rs1) + uint32(ins.Imm))
		if err != nil {
			c.RaiseLoadFault(c.Reg(ins.Rs1) + uint32(ins.Imm))
			return nil
		}
		it.storeReg(ins.Rd, uint32(v))
	case OpLh:
		v, err := it.mem.ReadHalf(c.Reg(ins.Rs1) + uint32(ins.Imm))
		if err != nil {
			c.RaiseLoadFault(c.Reg(ins.Rs1) + uint32(ins.Imm))
			return nil
		}
		it.storeReg(ins.Rd, uint32(int32(int16(v))))
	case OpLhu:
		v, err := it.mem.ReadHalf(c.Reg(ins.Rs1) + uint32(ins.Imm))
		if err != nil {
			c.RaiseLoadFault(c.Reg(ins.Rs1) + uint32(ins.Imm))
			return nil
		}
		it.storeReg(ins.Rd, uint32(v))
	case OpLw:
		v, err := it.mem.ReadWord(c.Reg(ins.Rs1) + uint32(ins.Imm))
		if err != nil {
			c.RaiseLoadFault(c.Reg(ins.Rs1) + uint32(ins.Imm))
			return nil
		}
		it.storeReg(ins.Rd, v)
	case OpSb, OpSh, OpSw:
		return it.store(ins)
	default:
		c.RaiseIllegalInstruction()
	}
	return nil
}

// store handles the three store widths. memAccess has no write side,
// so byte writes go straight at the memory bound into the CPUState
// (through memoryView), which is the writable Memory from Image.Clone
// rather than the image's read-only mapping.
func (it *Interp) store(ins Instruction) error {
	c := it.cpu
	addr := c.Reg(ins.Rs1) + uint32(ins.Imm)
	if addr >= c.MemLen {
		c.RaiseStoreFault(addr)
		return nil
	}
	mem := memoryView(c)
	val := c.Reg(ins.Rs2)
	switch ins.Op {
	case OpSb:
		if addr+1 > c.MemLen {
			c.RaiseStoreFault(addr)
			return nil
		}
		mem[addr] = byte(val)
	case OpSh:
		if addr+2 > c.MemLen {
			c.RaiseStoreFault(addr)
			return nil
		}
		mem[addr] = byte(val)
		mem[addr+1] = byte(val >> 8)
	case OpSw:
		if addr+4 > c.MemLen {
			c.RaiseStoreFault(addr)
			return nil
		}
		mem[addr] = byte(val)
		mem[addr+1] = byte(val >> 8)
		mem[addr+2] = byte(val >> 16)
		mem[addr+3] = byte(val >> 24)
	}
	return nil
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (it *Interp) ConditionalBranch(addr uint32, ins Instruction) error {
	c := it.cpu
	a, b := c.Reg(ins.Rs1), c.Reg(ins.Rs2)
	var taken bool
	switch ins.Op {
	case OpBeq:
		taken = a == b
	case OpBne:
		taken = a != b
	case OpBlt:
		taken = int32(a) < int32(b)
	case OpBge:
		taken = int32(a) >= int32(b)
	case OpBltu:
		taken = a < b
	case OpBgeu:
		taken = a >= b
	}
	if taken {
		c.NextPC = addr + uint32(ins.Imm)
	} else {
		c.NextPC = addr + ins.Width
	}
	return nil
}

func (it *Interp) DirectJump(addr uint32, ins Instruction) error {
	if ins.HasLink {
		it.storeReg(ins.Rd, addr+ins.Width)
	}
	it.cpu.NextPC = addr + uint32(ins.Imm)
	return nil
}

func (it *Interp) IndirectJump(addr uint32, ins Instruction) error {
	target := (it.cpu.Reg(ins.Rs1) + uint32(ins.Imm)) &^ 1
	if ins.HasLink {
		it.storeReg(ins.Rd, addr+ins.Width)
	}
	it.cpu.NextPC = target
	return nil
}

func (it *Interp) EnvironmentTrap(addr uint32, ins Instruction) error {
	switch ins.Op {
	case OpEcall:
		// Resumes past the ecall once the device bus has serviced it.
		it.cpu.NextPC = addr + ins.Width
		it.cpu.Ecall()
	case OpEbreak:
		// Stops with the PC on the ebreak itself.
		it.cpu.NextPC = addr
		it.cpu.Ebreak()
	}
	return nil
}
