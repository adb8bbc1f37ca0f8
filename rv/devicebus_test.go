package rv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEcallBusDispatchesToRegisteredDevice(t *testing.T) {
	var out bytes.Buffer
	bus := NewEcallBus()
	bus.Register(&ConsoleDevice{Writer: &out})
	defer bus.Close()

	mem := []byte("hi\x00\x00")
	resp := bus.Dispatch(EcallRequest{Device: 1, Args: [3]uint32{0, 2, 0}}, mem)
	require.NoError(t, resp.Err)
	require.Equal(t, uint32(2), resp.Result)
	require.Equal(t, "hi", out.String())
}

func TestEcallBusUnregisteredDeviceErrors(t *testing.T) {
	bus := NewEcallBus()
	defer bus.Close()

	resp := bus.Dispatch(EcallRequest{Device: 99}, nil)
	require.ErrorIs(t, resp.Err, errDeviceNotFound)
}

func TestPowerDeviceRecordsShutdownRequest(t *testing.T) {
	bus := NewEcallBus()
	power := &PowerDevice{}
	bus.Register(power)
	defer bus.Close()

	_ = bus.Dispatch(EcallRequest{Device: 2, Args: [3]uint32{1, 0, 0}}, nil)
	require.True(t, power.ShutdownRequested)
}

// TestHybridDriverServicesEcallThroughBus exercises the full path: an
// ecall traps the CPU, the driver drains it through the bus, writes the
// console device's byte count into a0, and resumes past the ecall
// instruction without the caller ever observing an unserviced trap.
func TestHybridDriverServicesEcallThroughBus(t *testing.T) {
	img := newTestImage(t, `
		addi x17, x0, 1
		addi x10, x0, 0
		addi x11, x0, 3
		ecall
		ebreak
	`)
	// a0=0 / a1=3 makes the console device write out the first three
	// bytes of the image: the program's own encoded addi bytes double as
	// arbitrary memory here.
	cpu := NewCPUState(img.data, 0)

	var out bytes.Buffer
	bus := NewEcallBus()
	bus.Register(&ConsoleDevice{Writer: &out})
	defer bus.Close()

	driver := NewHybridDriver(cpu, map[uint32]BlockFunc{}, img, img)
	driver.Bus = bus
	require.NoError(t, driver.Run())

	require.True(t, cpu.IsTrapped())
	require.Equal(t, CauseEbreak, TrapCause(cpu.Cause))
	require.Equal(t, uint32(3), cpu.Reg(10), "a0 must hold the console device's written byte count")
	require.Len(t, out.String(), 3)
}
