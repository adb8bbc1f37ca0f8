package rv

import (
	"testing"

	"github.com/stretchr/testify/require"
	"rvaot/internal/asmtest"
)

// testImage is a plain-[]byte stand-in for *Image so discovery and
// dispatch tests don't need a real mmap-backed file on disk.
type testImage struct {
	data []byte
}

func newTestImage(t *testing.T, asm string) *testImage {
	t.Helper()
	code, err := asmtest.Assemble(asm)
	require.NoError(t, err)
	return &testImage{data: code}
}

func (im *testImage) FetchWord(addr uint32) (uint32, error) {
	a := int(addr)
	n := len(im.data)
	if a < 0 || a >= n {
		return 0, newMemoryReadError(addr)
	}
	if a+4 <= n {
		return uint32(im.data[a]) | uint32(im.data[a+1])<<8 | uint32(im.data[a+2])<<16 | uint32(im.data[a+3])<<24, nil
	}
	if a+2 <= n {
		return uint32(im.data[a]) | uint32(im.data[a+1])<<8, nil
	}
	return 0, newMemoryReadError(addr)
}

func (im *testImage) ReadByte(addr uint32) (uint8, error) {
	if int(addr) >= len(im.data) {
		return 0, newMemoryReadError(addr)
	}
	return im.data[addr], nil
}

func (im *testImage) ReadHalf(addr uint32) (uint16, error) {
	if int(addr)+2 > len(im.data) {
		return 0, newMemoryReadError(addr)
	}
	return uint16(im.data[addr]) | uint16(im.data[addr+1])<<8, nil
}

func (im *testImage) ReadWord(addr uint32) (uint32, error) {
	if int(addr)+4 > len(im.data) {
		return 0, newMemoryReadError(addr)
	}
	return uint32(im.data[addr]) | uint32(im.data[addr+1])<<8 | uint32(im.data[addr+2])<<16 | uint32(im.data[addr+3])<<24, nil
}

func requireDisjointAndSorted(t *testing.T, blocks []Block) {
	t.Helper()
	seen := make(map[uint32]bool)
	for i, b := range blocks {
		require.True(t, b.Closed(), "block %d (%+v) must be closed (P4)", i, b)
		require.Greater(t, b.End, b.Start, "block %d (%+v): end must exceed start (P4)", i, b)
		require.False(t, seen[b.Start], "duplicate start 0x%x (P2)", b.Start)
		seen[b.Start] = true
		if i > 0 {
			require.LessOrEqual(t, blocks[i-1].End, b.Start, "blocks %d,%d overlap (P1/P3)", i-1, i)
			require.Less(t, blocks[i-1].Start, b.Start, "blocks not sorted by start (P3)")
		}
	}
}

// Scenario 1: straight line.
func TestDiscoverStraightLine(t *testing.T) {
	img := newTestImage(t, `
		addi x1, x0, 5
		addi x2, x1, 3
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Equal(t, []Block{{Start: 0, End: 12}}, blocks)
}

// Scenario 2: forward branch.
func TestDiscoverForwardBranch(t *testing.T) {
	img := newTestImage(t, `
		beq x0, x0, 8
		addi x1, x0, 1
		addi x2, x0, 2
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Equal(t, []Block{{Start: 0, End: 4}, {Start: 4, End: 8}, {Start: 8, End: 16}}, blocks)
}

// Scenario 3: unconditional jump leaves a dead instruction unscanned.
func TestDiscoverUnconditionalJump(t *testing.T) {
	img := newTestImage(t, `
		jal x0, 8
		addi x1, x0, 1
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Equal(t, []Block{{Start: 0, End: 4}, {Start: 8, End: 12}}, blocks)
}

// Scenario 4: indirect jump requires interpreter fallback at runtime;
// static discovery only sees fall-through blocks around the jalr.
func TestDiscoverIndirectJump(t *testing.T) {
	img := newTestImage(t, `
		addi x1, x0, 16
		jalr x0, 0(x1)
		addi x2, x0, 7
		ebreak
		addi x3, x0, 9
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Equal(t, []Block{
		{Start: 0, End: 8}, {Start: 8, End: 16}, {Start: 16, End: 24},
	}, blocks)
}

// Scenario 5: a jump to the very next instruction. The jal closes
// [0,4) before its target is started, so the target lands on that
// block's end rather than strictly inside it and opens [4,12) of its
// own; startBlock's split path is not reached by this program.
func TestDiscoverBlockSplit(t *testing.T) {
	img := newTestImage(t, `
		jal x0, 4
		addi x1, x0, 1
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Equal(t, []Block{{Start: 0, End: 4}, {Start: 4, End: 12}}, blocks)
}

// Boundary: a branch target outside the image is silently dropped.
func TestDiscoverOutOfRangeTargetDropped(t *testing.T) {
	img := newTestImage(t, `
		beq x0, x0, 4096
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Len(t, blocks, 2)
	require.Equal(t, uint32(0), blocks[0].Start)
}

// Boundary: a new start equal to an existing block's End does not
// split it (half-open interval).
func TestDiscoverStartAtExistingEndDoesNotSplit(t *testing.T) {
	img := newTestImage(t, `
		jal x0, 4
		ebreak
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Equal(t, []Block{{Start: 0, End: 4}, {Start: 4, End: 8}, {Start: 8, End: 12}}, blocks)
}

// Boundary: a compressed instruction at the last two bytes of the
// image must decode without discovery over-reading the buffer.
func TestDiscoverCompressedTailDoesNotOverread(t *testing.T) {
	img := &testImage{data: []byte{
		0x01, 0x00, // c.nop (quadrant1, funct3=0, rd=0, imm=0)
		0x02, 0x90, // c.ebreak
	}}
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	requireDisjointAndSorted(t, blocks)
	require.Equal(t, []Block{{Start: 0, End: 4}}, blocks)
}
