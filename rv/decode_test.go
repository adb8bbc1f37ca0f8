package rv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Hand-verified compressed encodings, closing the gap left by
// dispatch_test.go's TestHybridCompressedMix (which only exercises
// c.addi/c.ebreak, the one scenario spec.md §8 names in so many
// words). c.lwsp, c.swsp, c.jr and c.ebreak are decoded directly here
// rather than only indirectly through the hybrid driver; the other
// compressed forms have no entry of their own.
func TestDecodeCompressed(t *testing.T) {
	cases := []struct {
		name string
		raw  uint16
		want Instruction
	}{
		{
			name: "c.lwsp x3, 4(sp)",
			raw:  0x4192,
			want: Instruction{Op: OpLw, Width: 2, Rd: 3, Rs1: regSP, Imm: 4},
		},
		{
			name: "c.swsp x1, 8(sp)",
			raw:  0xc406,
			want: Instruction{Op: OpSw, Width: 2, Rs1: regSP, Rs2: 1, Imm: 8},
		},
		{
			name: "c.jr ra",
			raw:  0x8082,
			want: Instruction{Op: OpJalr, Width: 2, Rd: regZero, Rs1: regRA, Imm: 0, HasLink: true},
		},
		{
			name: "c.ebreak",
			raw:  0x9002,
			want: Instruction{Op: OpEbreak, Width: 2},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(uint32(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestHybridCompressedLwspRoundTrip drives a c.lwsp load through the
// hybrid driver end to end: a value is stored to memory with an
// ordinary sw, then read back with c.lwsp at the same effective
// address. Before the decodeCLwsp fix this produced the wrong offset
// (16 instead of 4) and read three words past where the store
// landed.
func TestHybridCompressedLwspRoundTrip(t *testing.T) {
	prefix := newTestImage(t, `
		addi x1, x0, 42
		addi x2, x0, 16
		sw x1, 4(x2)
	`)
	data := append([]byte{}, prefix.data...)
	data = append(data, 0x92, 0x41) // c.lwsp x3, 4(sp)
	data = append(data, 0x02, 0x90) // c.ebreak
	data = append(data, make([]byte, 8)...)

	img := &testImage{data: data}
	cpu := runToTrap(t, img, 0)
	require.Equal(t, uint32(42), cpu.Reg(3))
	require.Equal(t, CauseEbreak, TrapCause(cpu.Cause))
}
