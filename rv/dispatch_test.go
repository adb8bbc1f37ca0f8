package rv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// runToTrap drives a HybridDriver with an empty block map so every
// instruction goes through the interpreter fallback path; this is R1's
// "running the interpreter from sigma" side of the round-trip law,
// exercised without requiring a real C toolchain in test.
func runToTrap(t *testing.T, img *testImage, entry uint32) *CPUState {
	t.Helper()
	cpu := NewCPUState(img.data, entry)
	driver := NewHybridDriver(cpu, map[uint32]BlockFunc{}, img, img)
	require.NoError(t, driver.Run())
	require.True(t, cpu.IsTrapped())
	return cpu
}

func TestHybridStraightLine(t *testing.T) {
	img := newTestImage(t, `
		addi x1, x0, 5
		addi x2, x1, 3
		ebreak
	`)
	cpu := runToTrap(t, img, 0)
	require.Equal(t, uint32(5), cpu.Reg(1))
	require.Equal(t, uint32(8), cpu.Reg(2))
	require.Equal(t, CauseEbreak, TrapCause(cpu.Cause))
	require.Equal(t, uint32(8), cpu.PC)
}

func TestHybridForwardBranch(t *testing.T) {
	img := newTestImage(t, `
		beq x0, x0, 8
		addi x1, x0, 1
		addi x2, x0, 2
		ebreak
	`)
	cpu := runToTrap(t, img, 0)
	require.Equal(t, uint32(0), cpu.Reg(1))
	require.Equal(t, uint32(2), cpu.Reg(2))
}

func TestHybridUnconditionalJump(t *testing.T) {
	img := newTestImage(t, `
		jal x0, 8
		addi x1, x0, 1
		ebreak
	`)
	cpu := runToTrap(t, img, 0)
	require.Equal(t, uint32(0), cpu.Reg(1))
}

func TestHybridIndirectJumpFallback(t *testing.T) {
	img := newTestImage(t, `
		addi x1, x0, 16
		jalr x0, 0(x1)
		addi x2, x0, 7
		ebreak
		addi x3, x0, 9
		ebreak
	`)
	cpu := runToTrap(t, img, 0)
	require.Equal(t, uint32(9), cpu.Reg(3))
	require.Equal(t, uint32(0), cpu.Reg(2), "dead straight-line block at 8 must not execute")
}

func TestHybridCompressedMix(t *testing.T) {
	img := &testImage{data: []byte{
		0x85, 0x00, // c.addi x1, 1  (quadrant1 funct3=0, rd=1, imm=1)
		0x13, 0x01, 0x20, 0x00, // addi x2, x0, 2
		0x02, 0x90, // c.ebreak
	}}
	cpu := runToTrap(t, img, 0)
	require.Equal(t, uint32(1), cpu.Reg(1))
	require.Equal(t, uint32(2), cpu.Reg(2))
}

// A block map that covers only the jump target (seeded here by hand
// rather than by a real compile): the interpreter runs the jal at 0,
// resynchronizes at 8, and the driver then invokes the native block.
func TestHybridWithPartialBlockMap(t *testing.T) {
	img := newTestImage(t, `
		jal x0, 8
		addi x1, x0, 1
		addi x2, x0, 2
		ebreak
	`)
	cpu := NewCPUState(img.data, 0)
	nativeRan := false
	blocks := map[uint32]BlockFunc{
		8: func(cpu *CPUState) {
			nativeRan = true
			cpu.SetReg(2, 2)
			cpu.NextPC = 16
		},
	}
	driver := NewHybridDriver(cpu, blocks, img, img)
	require.NoError(t, driver.Run())
	require.True(t, nativeRan, "native block at the jump target must be invoked")
	require.True(t, cpu.IsTrapped())
}

func TestLoadStoreFaultTraps(t *testing.T) {
	img := newTestImage(t, `
		lw x1, 1024(x0)
	`)
	cpu := runToTrap(t, img, 0)
	require.Equal(t, CauseLoadAccessFault, TrapCause(cpu.Cause))
	require.Equal(t, uint32(1024), cpu.FaultAddr)
}

func TestIllegalInstructionTraps(t *testing.T) {
	img := &testImage{data: []byte{0x00, 0x00, 0x00, 0x00}} // all-zero word: opcode 0 is illegal
	cpu := runToTrap(t, img, 0)
	require.Equal(t, CauseIllegalInstruction, TrapCause(cpu.Cause))
}
