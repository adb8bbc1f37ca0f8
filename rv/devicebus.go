package rv

import "sync/atomic"

// nonBlockingChan is a single-producer, multi-consumer bounded channel
// that reports back pressure instead of blocking the sender past
// capacity. Adapted, generic shape and all, from the teacher's hardware
// device simulation (vm/devices.go) into the environment-call bus
// below: each simulated device still runs its own goroutine reading
// requests off a channel, the way the teacher's system timer and power
// controller do, but the bus's Dispatch calls block on the matching
// response channel so an ecall is serviced synchronously with the
// dispatch loop per this system's concurrency model.
type nonBlockingChan[T any] struct {
	channel  chan T
	count    atomic.Int32
	capacity int32
}

func newNonBlockingChan[T any](capacity int32) *nonBlockingChan[T] {
	return &nonBlockingChan[T]{channel: make(chan T, capacity), capacity: capacity}
}

func (nc *nonBlockingChan[T]) send(v T) bool {
	n := nc.count.Add(1)
	if n > nc.capacity {
		nc.count.Add(-1)
		return false
	}
	nc.channel <- v
	return true
}

func (nc *nonBlockingChan[T]) receive() (T, bool) {
	v, ok := <-nc.channel
	if ok {
		nc.count.Add(-1)
	}
	return v, ok
}

func (nc *nonBlockingChan[T]) close() {
	nc.count.Store(nc.capacity + 1)
	close(nc.channel)
}

// EcallRequest carries the RISC-V syscall-style argument convention
// this bus expects: a7 selects the device, a0-a2 are its arguments.
type EcallRequest struct {
	Device uint32
	Args   [3]uint32
}

// EcallResponse is written back into a0 after a request is serviced.
type EcallResponse struct {
	Result uint32
	Err    error
}

// EcallDevice is the capability a simulated device presents to the
// bus: given a request and the CPU's bound memory (for devices that
// read/write buffers by address, like console output), produce a
// response.
type EcallDevice interface {
	ID() uint32
	Handle(req EcallRequest, mem []byte) EcallResponse
}

type ecallJob struct {
	req  EcallRequest
	mem  []byte
	resp *nonBlockingChan[EcallResponse]
}

// EcallBus routes ecall requests (device id in a7) to registered
// EcallDevice implementations, each serviced on its own goroutine the
// way the teacher's devices are, but Dispatch blocks for the response
// so the hybrid driver only ever sees ecall as a synchronous step.
type EcallBus struct {
	devices map[uint32]*registeredDevice
}

type registeredDevice struct {
	dev  EcallDevice
	jobs *nonBlockingChan[ecallJob]
	done chan struct{}
}

// NewEcallBus builds an empty bus; devices are attached with Register.
func NewEcallBus() *EcallBus {
	return &EcallBus{devices: make(map[uint32]*registeredDevice)}
}

// Register attaches dev and starts its service goroutine.
func (b *EcallBus) Register(dev EcallDevice) {
	rd := &registeredDevice{dev: dev, jobs: newNonBlockingChan[ecallJob](8), done: make(chan struct{})}
	b.devices[dev.ID()] = rd
	go rd.run()
}

func (rd *registeredDevice) run() {
	defer close(rd.done)
	for {
		job, ok := rd.jobs.receive()
		if !ok {
			return
		}
		job.resp.send(rd.dev.Handle(job.req, job.mem))
	}
}

// Close stops every registered device's goroutine.
func (b *EcallBus) Close() {
	for _, rd := range b.devices {
		rd.jobs.close()
		<-rd.done
	}
}

// Dispatch routes req to the device named by req.Device and blocks for
// its response. An unregistered device id yields errDeviceNotFound.
func (b *EcallBus) Dispatch(req EcallRequest, mem []byte) EcallResponse {
	rd, ok := b.devices[req.Device]
	if !ok {
		return EcallResponse{Err: errDeviceNotFound}
	}
	resp := newNonBlockingChan[EcallResponse](1)
	if !rd.jobs.send(ecallJob{req: req, mem: mem, resp: resp}) {
		return EcallResponse{Err: errDeviceBusy}
	}
	v, _ := resp.receive()
	return v
}

// ConsoleDevice is device id 1: every request writes Args[1] bytes from
// memory address Args[0] to Writer (there is no command selector), emulating a minimal console-write
// syscall in the teacher's style of a small fixed device set (compare
// vm/devices.go's systemTimer/powerController).
type ConsoleDevice struct {
	Writer interface{ Write([]byte) (int, error) }
}

func (c *ConsoleDevice) ID() uint32 { return 1 }

func (c *ConsoleDevice) Handle(req EcallRequest, mem []byte) EcallResponse {
	addr, length := req.Args[0], req.Args[1]
	if uint64(addr)+uint64(length) > uint64(len(mem)) {
		return EcallResponse{Err: newMemoryReadError(addr)}
	}
	n, err := c.Writer.Write(mem[addr : addr+length])
	return EcallResponse{Result: uint32(n), Err: err}
}

// PowerDevice is device id 2: command 1 requests a clean shutdown,
// recorded on ShutdownRequested for the caller to check once the
// hybrid driver's Run returns; the driver itself does not stop on it.
type PowerDevice struct {
	ShutdownRequested bool
}

func (p *PowerDevice) ID() uint32 { return 2 }

func (p *PowerDevice) Handle(req EcallRequest, mem []byte) EcallResponse {
	if req.Args[0] == 1 {
		p.ShutdownRequested = true
	}
	return EcallResponse{}
}
