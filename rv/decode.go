package rv

// Decode reads one instruction out of raw, a 32-bit word as returned by
// Image.FetchWord. Per spec §3/§9: "the two low bits of a 32-bit-encoded
// instruction equal 11; otherwise it is a 16-bit compressed instruction."
// Image.FetchWord already zero-extends the final half-word of an image
// into the low 16 bits of raw when only two bytes remain, so this
// function never needs to know whether it is near the image tail.
func Decode(raw uint32) (Instruction, error) {
	if raw&3 == 3 {
		return decode32(raw)
	}
	return decode16(uint16(raw))
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// ---- RV32I (4-byte) decode ----

func decode32(raw uint32) (Instruction, error) {
	opcode := raw & 0x7f
	rd := uint8((raw >> 7) & 0x1f)
	funct3 := (raw >> 12) & 0x7
	rs1 := uint8((raw >> 15) & 0x1f)
	rs2 := uint8((raw >> 20) & 0x1f)
	funct7 := (raw >> 25) & 0x7f

	immI := signExtend(raw>>20, 12)
	immS := signExtend(((raw>>25)<<5)|((raw>>7)&0x1f), 12)
	immB := signExtend(
		(((raw>>31)&1)<<12)|
			(((raw>>7)&1)<<11)|
			(((raw>>25)&0x3f)<<5)|
			(((raw>>8)&0xf)<<1),
		13)
	immU := int32(raw & 0xfffff000)
	immJ := signExtend(
		(((raw>>31)&1)<<20)|
			(((raw>>12)&0xff)<<12)|
			(((raw>>20)&1)<<11)|
			(((raw>>21)&0x3ff)<<1),
		21)

	base := Instruction{Width: 4, Rd: rd, Rs1: rs1, Rs2: rs2}

	switch opcode {
	case 0x37: // LUI
		base.Op, base.Imm = OpLui, immU
		return base, nil
	case 0x17: // AUIPC
		base.Op, base.Imm = OpAuipc, immU
		return base, nil
	case 0x6f: // JAL
		base.Op, base.Imm, base.HasLink = OpJal, immJ, true
		return base, nil
	case 0x67: // JALR
		if funct3 != 0 {
			return Instruction{}, errUnknownOpcode
		}
		base.Op, base.Imm, base.HasLink = OpJalr, immI, true
		return base, nil
	case 0x63: // BRANCH
		base.Imm = immB
		switch funct3 {
		case 0:
			base.Op = OpBeq
		case 1:
			base.Op = OpBne
		case 4:
			base.Op = OpBlt
		case 5:
			base.Op = OpBge
		case 6:
			base.Op = OpBltu
		case 7:
			base.Op = OpBgeu
		default:
			return Instruction{}, errUnknownOpcode
		}
		return base, nil
	case 0x03: // LOAD
		base.Imm = immI
		switch funct3 {
		case 0:
			base.Op = OpLb
		case 1:
			base.Op = OpLh
		case 2:
			base.Op = OpLw
		case 4:
			base.Op = OpLbu
		case 5:
			base.Op = OpLhu
		default:
			return Instruction{}, errUnknownOpcode
		}
		return base, nil
	case 0x23: // STORE
		base.Imm = immS
		switch funct3 {
		case 0:
			base.Op = OpSb
		case 1:
			base.Op = OpSh
		case 2:
			base.Op = OpSw
		default:
			return Instruction{}, errUnknownOpcode
		}
		return base, nil
	case 0x13: // OP-IMM
		switch funct3 {
		case 0:
			base.Op, base.Imm = OpAddi, immI
		case 2:
			base.Op, base.Imm = OpSlti, immI
		case 3:
			base.Op, base.Imm = OpSltiu, immI
		case 4:
			base.Op, base.Imm = OpXori, immI
		case 6:
			base.Op, base.Imm = OpOri, immI
		case 7:
			base.Op, base.Imm = OpAndi, immI
		case 1:
			base.Op, base.Imm = OpSlli, int32(rs2)
		case 5:
			if funct7 == 0x20 {
				base.Op = OpSrai
			} else {
				base.Op = OpSrli
			}
			base.Imm = int32(rs2)
		default:
			return Instruction{}, errUnknownOpcode
		}
		return base, nil
	case 0x33: // OP
		switch {
		case funct3 == 0 && funct7 == 0:
			base.Op = OpAdd
		case funct3 == 0 && funct7 == 0x20:
			base.Op = OpSub
		case funct3 == 1 && funct7 == 0:
			base.Op = OpSll
		case funct3 == 2 && funct7 == 0:
			base.Op = OpSlt
		case funct3 == 3 && funct7 == 0:
			base.Op = OpSltu
		case funct3 == 4 && funct7 == 0:
			base.Op = OpXor
		case funct3 == 5 && funct7 == 0:
			base.Op = OpSrl
		case funct3 == 5 && funct7 == 0x20:
			base.Op = OpSra
		case funct3 == 6 && funct7 == 0:
			base.Op = OpOr
		case funct3 == 7 && funct7 == 0:
			base.Op = OpAnd
		default:
			return Instruction{}, errUnknownOpcode
		}
		return base, nil
	case 0x0f: // MISC-MEM (fence) - straight-line no-op for our memory model
		base.Op = OpFence
		return base, nil
	case 0x73: // SYSTEM
		switch raw >> 20 {
		case 0:
			base.Op = OpEcall
		case 1:
			base.Op = OpEbreak
		default:
			return Instruction{}, errUnknownOpcode
		}
		return base, nil
	default:
		return Instruction{}, errUnknownOpcode
	}
}

// ---- RV32C (2-byte) decode ----

// creg expands a 3-bit compressed register field (x8-x15).
func creg(bits uint16) uint8 {
	return uint8(bits&0x7) + 8
}

func decode16(ins uint16) (Instruction, error) {
	op := ins & 0x3
	funct3 := (ins >> 13) & 0x7

	switch op {
	case 0x0:
		return decodeQuadrant0(ins, funct3)
	case 0x1:
		return decodeQuadrant1(ins, funct3)
	case 0x2:
		return decodeQuadrant2(ins, funct3)
	default:
		return Instruction{}, errUnknownOpcode
	}
}

func decodeQuadrant0(ins uint16, funct3 uint16) (Instruction, error) {
	rdp := creg(ins >> 2)
	rs1p := creg(ins >> 7)

	switch funct3 {
	case 0: // c.addi4spn
		nzuimm := decodeCIW(ins)
		if nzuimm == 0 {
			return Instruction{}, errUnknownOpcode
		}
		return Instruction{Op: OpAddi, Width: 2, Rd: rdp, Rs1: regSP, Imm: int32(nzuimm)}, nil
	case 2: // c.lw
		imm := decodeCLSW(ins)
		return Instruction{Op: OpLw, Width: 2, Rd: rdp, Rs1: rs1p, Imm: int32(imm)}, nil
	case 6: // c.sw
		imm := decodeCLSW(ins)
		return Instruction{Op: OpSw, Width: 2, Rs1: rs1p, Rs2: rdp, Imm: int32(imm)}, nil
	default:
		return Instruction{}, errUnknownOpcode
	}
}

// decodeCIW extracts the zero-extended scaled immediate used by c.addi4spn:
// nzuimm[5:4|9:6|2|3] packed at bits [12:5].
func decodeCIW(ins uint16) uint32 {
	b := uint32(ins>>5) & 0xff
	nzuimm := ((b >> 6) & 0x3) << 4 // bits[5:4] <- b[7:6]
	nzuimm |= ((b >> 2) & 0xf) << 6 // bits[9:6] <- b[5:2]
	nzuimm |= ((b >> 1) & 0x1) << 2 // bit[2]    <- b[1]
	nzuimm |= (b & 0x1) << 3        // bit[3]    <- b[0]
	return nzuimm
}

// decodeCLSW extracts the c.lw/c.sw immediate: imm[5:3] at bits[12:10],
// imm[2]/imm[6] at bits[6]/bits[5].
func decodeCLSW(ins uint16) uint32 {
	imm := ((uint32(ins>>10) & 0x7) << 3) |
		((uint32(ins>>6) & 0x1) << 2) |
		((uint32(ins>>5) & 0x1) << 6)
	return imm
}

func decodeQuadrant1(ins uint16, funct3 uint16) (Instruction, error) {
	rd := uint8((ins >> 7) & 0x1f)
	imm6 := signExtend((uint32(ins>>12)&0x1)<<5|(uint32(ins>>2)&0x1f), 6)

	switch funct3 {
	case 0: // c.addi / c.nop
		return Instruction{Op: OpAddi, Width: 2, Rd: rd, Rs1: rd, Imm: imm6}, nil
	case 1: // c.jal (RV32): link register is x1
		imm := decodeCJ(ins)
		return Instruction{Op: OpJal, Width: 2, Rd: regRA, Imm: imm, HasLink: true}, nil
	case 2: // c.li
		return Instruction{Op: OpAddi, Width: 2, Rd: rd, Rs1: regZero, Imm: imm6}, nil
	case 3:
		if rd == regSP {
			// c.addi16sp
			imm := decodeCAddi16sp(ins)
			return Instruction{Op: OpAddi, Width: 2, Rd: regSP, Rs1: regSP, Imm: imm}, nil
		}
		// c.lui
		nzimm := signExtend((uint32(ins>>12)&0x1)<<17|(uint32(ins>>2)&0x1f)<<12, 18)
		if nzimm == 0 {
			return Instruction{}, errUnknownOpcode
		}
		return Instruction{Op: OpLui, Width: 2, Rd: rd, Imm: nzimm}, nil
	case 4:
		rdp := creg(ins >> 7)
		hi := (ins >> 10) & 0x3
		switch hi {
		case 0: // c.srli
			shamt := (uint32(ins>>12)&0x1)<<5 | uint32(ins>>2)&0x1f
			return Instruction{Op: OpSrli, Width: 2, Rd: rdp, Rs1: rdp, Imm: int32(shamt)}, nil
		case 1: // c.srai
			shamt := (uint32(ins>>12)&0x1)<<5 | uint32(ins>>2)&0x1f
			return Instruction{Op: OpSrai, Width: 2, Rd: rdp, Rs1: rdp, Imm: int32(shamt)}, nil
		case 2: // c.andi
			imm := signExtend((uint32(ins>>12)&0x1)<<5|uint32(ins>>2)&0x1f, 6)
			return Instruction{Op: OpAndi, Width: 2, Rd: rdp, Rs1: rdp, Imm: imm}, nil
		case 3:
			rs2p := creg(ins >> 2)
			funct2b := (ins >> 5) & 0x3
			var subOp Op
			switch funct2b {
			case 0:
				subOp = OpSub
			case 1:
				subOp = OpXor
			case 2:
				subOp = OpOr
			case 3:
				subOp = OpAnd
			}
			return Instruction{Op: subOp, Width: 2, Rd: rdp, Rs1: rdp, Rs2: rs2p}, nil
		}
	case 5: // c.j
		imm := decodeCJ(ins)
		return Instruction{Op: OpJal, Width: 2, Rd: regZero, Imm: imm, HasLink: true}, nil
	case 6: // c.beqz
		rs1p := creg(ins >> 7)
		imm := decodeCB(ins)
		return Instruction{Op: OpBeq, Width: 2, Rs1: rs1p, Rs2: regZero, Imm: imm}, nil
	case 7: // c.bnez
		rs1p := creg(ins >> 7)
		imm := decodeCB(ins)
		return Instruction{Op: OpBne, Width: 2, Rs1: rs1p, Rs2: regZero, Imm: imm}, nil
	}

	return Instruction{}, errUnknownOpcode
}

// decodeCJ extracts the c.j/c.jal 11-bit signed offset:
// imm[11|4|9:8|10|6|7|3:1|5], encoded at bits[12:2].
func decodeCJ(ins uint16) int32 {
	b := uint32(ins>>2) & 0x7ff
	var imm uint32
	imm |= ((b >> 10) & 0x1) << 11 // imm[11]
	imm |= ((b >> 9) & 0x1) << 4   // imm[4]
	imm |= ((b >> 7) & 0x3) << 8   // imm[9:8]
	imm |= ((b >> 6) & 0x1) << 10  // imm[10]
	imm |= ((b >> 5) & 0x1) << 6   // imm[6]
	imm |= ((b >> 4) & 0x1) << 7   // imm[7]
	imm |= ((b >> 1) & 0x7) << 1   // imm[3:1]
	imm |= (b & 0x1) << 5          // imm[5]
	return signExtend(imm, 12)
}

// decodeCB extracts the c.beqz/c.bnez 8-bit signed offset:
// imm[8|4:3] at bits[12:10], imm[7:6|2:1|5] at bits[6:2].
func decodeCB(ins uint16) int32 {
	hi := uint32(ins>>10) & 0x7 // bit8, bits4:3
	lo := uint32(ins>>2) & 0x1f // bits7:6, bits2:1, bit5
	b8 := (hi >> 2) & 0x1
	b43 := hi & 0x3
	b76 := (lo >> 3) & 0x3
	b21 := (lo >> 1) & 0x3
	b5 := lo & 0x1
	imm := (b8 << 8) | (b76 << 6) | (b5 << 5) | (b43 << 3) | (b21 << 1)
	return signExtend(imm, 9)
}

func decodeCAddi16sp(ins uint16) int32 {
	b := uint32(ins)
	var imm uint32
	imm |= ((b >> 6) & 0x1) << 4  // imm[4]
	imm |= ((b >> 2) & 0x1) << 5  // imm[5]
	imm |= ((b >> 5) & 0x1) << 6  // imm[6]
	imm |= ((b >> 3) & 0x3) << 7  // imm[8:7]
	imm |= ((b >> 12) & 0x1) << 9 // imm[9]
	return signExtend(imm, 10)
}

func decodeQuadrant2(ins uint16, funct3 uint16) (Instruction, error) {
	rd := uint8((ins >> 7) & 0x1f)
	rs2 := uint8((ins >> 2) & 0x1f)

	switch funct3 {
	case 0: // c.slli
		shamt := (uint32(ins>>12)&0x1)<<5 | uint32(ins>>2)&0x1f
		if rd == regZero {
			return Instruction{}, errUnknownOpcode
		}
		return Instruction{Op: OpSlli, Width: 2, Rd: rd, Rs1: rd, Imm: int32(shamt)}, nil
	case 2: // c.lwsp
		if rd == regZero {
			return Instruction{}, errUnknownOpcode
		}
		imm := decodeCLwsp(ins)
		return Instruction{Op: OpLw, Width: 2, Rd: rd, Rs1: regSP, Imm: imm}, nil
	case 4:
		bit12 := (ins >> 12) & 0x1
		if bit12 == 0 {
			if rs2 == 0 {
				// c.jr
				if rd == regZero {
					return Instruction{}, errUnknownOpcode
				}
				return Instruction{Op: OpJalr, Width: 2, Rd: regZero, Rs1: rd, Imm: 0, HasLink: true}, nil
			}
			// c.mv
			return Instruction{Op: OpAdd, Width: 2, Rd: rd, Rs1: regZero, Rs2: rs2}, nil
		}
		if rs2 == 0 {
			if rd == regZero {
				// c.ebreak
				return Instruction{Op: OpEbreak, Width: 2}, nil
			}
			// c.jalr: link register <- current PC + 2 (spec §9 corrected form)
			return Instruction{Op: OpJalr, Width: 2, Rd: regRA, Rs1: rd, Imm: 0, HasLink: true}, nil
		}
		// c.add
		return Instruction{Op: OpAdd, Width: 2, Rd: rd, Rs1: rd, Rs2: rs2}, nil
	case 6: // c.swsp
		imm := decodeCSwsp(ins)
		return Instruction{Op: OpSw, Width: 2, Rs1: regSP, Rs2: rs2, Imm: imm}, nil
	default:
		return Instruction{}, errUnknownOpcode
	}
}

func decodeCLwsp(ins uint16) int32 {
	b6 := uint32(ins>>12) & 0x1 // imm[5]   <- bit 12
	b5 := uint32(ins>>4) & 0x7  // imm[4:2] <- bits 6:4
	b2 := uint32(ins>>2) & 0x3  // imm[7:6] <- bits 3:2
	imm := (b6 << 5) | (b2 << 6) | (b5 << 2)
	return int32(imm)
}

func decodeCSwsp(ins uint16) int32 {
	b := uint32(ins>>7) & 0x3f
	imm := ((b & 0x3) << 6) | ((b >> 2) << 2)
	return int32(imm)
}
