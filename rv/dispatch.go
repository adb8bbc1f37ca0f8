package rv

import "github.com/sirupsen/logrus"

// HybridDriver implements spec.md §4.4's loop: alternate between
// invoking a native block and falling back to the interpreter,
// re-synchronizing against the block map whenever the fallback
// reaches a discovered block boundary.
type HybridDriver struct {
	CPU    *CPUState
	Blocks map[uint32]BlockFunc
	Img    reader
	Mem    memAccess
	Log    *logrus.Logger
	Bus    *EcallBus
	interp *Interp
}

// NewHybridDriver builds a driver over cpu, the resolved block map,
// and the image used both for interpreter fetches and (through mem)
// interpreter loads.
func NewHybridDriver(cpu *CPUState, blocks map[uint32]BlockFunc, img reader, mem memAccess) *HybridDriver {
	return &HybridDriver{
		CPU:    cpu,
		Blocks: blocks,
		Img:    img,
		Mem:    mem,
		Log:    logrus.StandardLogger(),
		interp: NewInterp(cpu, mem),
	}
}

// Run executes until the CPU traps, per spec.md §4.4/§5: "the dispatch
// loop terminates only when the CPU reports a trap."
func (d *HybridDriver) Run() error {
	for {
		if d.CPU.IsTrapped() {
			if d.Bus != nil && TrapCause(d.CPU.Cause) == CauseEcall {
				d.serviceEcall()
				continue
			}
			return nil
		}
		if fn, ok := d.Blocks[d.CPU.PC]; ok {
			fn(d.CPU)
			d.CPU.Transfer()
			continue
		}
		d.Log.WithField("pc", d.CPU.PC).Debug("hybrid driver: entering interpreter fallback")
		if err := d.runInterpreterUntilBlock(); err != nil {
			return err
		}
	}
}

// serviceEcall drains one environment call through the device bus,
// following the RISC-V convention this system adopts for a7/a0-a2: the
// device id lives in x17, its three arguments in x10-x12, and its
// result is written back into x10. The bus is drained synchronously
// here and only here — never polled concurrently with instruction
// execution — so by the time this returns the CPU is no longer
// trapped and the dispatch loop resumes exactly where it left off.
func (d *HybridDriver) serviceEcall() {
	req := EcallRequest{
		Device: d.CPU.Reg(17),
		Args:   [3]uint32{d.CPU.Reg(10), d.CPU.Reg(11), d.CPU.Reg(12)},
	}
	resp := d.Bus.Dispatch(req, memoryView(d.CPU))
	if resp.Err != nil {
		d.Log.WithError(resp.Err).WithField("device", req.Device).Debug("ecall device error")
	}
	d.CPU.SetReg(10, resp.Result)
	d.CPU.ClearTrap()
}

// runInterpreterUntilBlock steps the interpreter until either the CPU
// traps or the current PC lands on a known block start, matching
// spec.md §4.4's miss-path: "repeatedly fetch one instruction ...
// before the next fetch, probe the block map at the CPU's current
// program counter."
func (d *HybridDriver) runInterpreterUntilBlock() error {
	for {
		if err := d.interp.Step(d.Img); err != nil {
			return err
		}
		if d.CPU.IsTrapped() {
			return nil
		}
		if _, ok := d.Blocks[d.CPU.PC]; ok {
			d.Log.WithField("pc", d.CPU.PC).Debug("hybrid driver: resynchronized with block map")
			return nil
		}
	}
}
