//go:build integration

package rv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCompileLoadAndCallRoundTrip is a real end-to-end smoke test: it
// invokes the system C compiler and dlopen/dlsym's the result to
// sanity-check the ABI before trusting the hybrid driver with it.
// Gated behind the "integration" build tag since it requires a working
// "cc" on PATH; not run by a plain `go test`.
func TestCompileLoadAndCallRoundTrip(t *testing.T) {
	img := newTestImage(t, `
		addi x1, x0, 5
		addi x2, x1, 3
		ebreak
	`)
	blocks, err := Discover(img, uint32(len(img.data)), 0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	comp := NewCompiler()
	defer comp.Close()
	require.NoError(t, comp.Build(img, blocks))

	fn, ok := comp.BlockMap()[0]
	require.True(t, ok, "compiled block for entry 0 must resolve")

	cpu := NewCPUState(img.data, 0)
	fn(cpu)
	require.Equal(t, uint32(5), cpu.Reg(1))
	require.Equal(t, uint32(8), cpu.Reg(2))
	require.Equal(t, uint32(8), cpu.NextPC)
}
