package rv

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// Image is the raw byte buffer backing one program: code starting at
// offset 0, per spec.md §6's image layout contract. It is read-only
// and mapped rather than copied, so translating a large image stays
// cheap and the mapping can be shared by every discovery/emission pass
// over it. It is never bound into a CPUState directly — see Clone.
type Image struct {
	data mmap.MMap
	file *os.File
}

// OpenImage maps path read-only and returns an Image over its contents.
func OpenImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Image{data: m, file: f}, nil
}

// Close unmaps the image and releases its file handle.
func (im *Image) Close() error {
	if err := im.data.Unmap(); err != nil {
		im.file.Close()
		return err
	}
	return im.file.Close()
}

// Bytes exposes the mapped image as a plain []byte for instruction
// fetches during discovery and emission. It is backed by a
// PROT_READ-only mapping: never bind it into a CPUState's MemPtr or
// hand it to a HybridDriver as its reader/memAccess during execution,
// since any sb/sh/sw (interpreted or compiled) would fault the whole
// process instead of raising StoreAccessFault. Use Clone to run a
// program.
func (im *Image) Bytes() []byte {
	return im.data
}

// Clone copies the mapped image into a Memory: a freshly allocated,
// writable backing buffer that a CPUState and a HybridDriver can safely
// share for a full execution run, so a store is visible to every later
// load at that address instead of silently diverging from a read-only
// view of the original image.
func (im *Image) Clone() *Memory {
	out := make([]byte, len(im.data))
	copy(out, im.data)
	return &Memory{data: out}
}

// Len reports the image size in bytes.
func (im *Image) Len() int {
	return len(im.data)
}

// FetchWord reads one instruction-sized unit from addr for decoding.
// It returns a 32-bit word when a full word is available; when only
// two bytes remain before the end of the image (the final instruction
// is a 2-byte compressed form at the image's tail), it zero-extends
// the trailing half-word into the low 16 bits so Decode can still
// classify it by its low two bits without reading past the buffer.
//
// A read entirely out of bounds fails with MemoryReadError, matching
// spec.md §4.1's "Failures" contract for the instruction reader.
func (im *Image) FetchWord(addr uint32) (uint32, error) { return fetchWord(im.data, addr) }

// ReadByte, ReadHalf and ReadWord implement the little-endian load side
// of the interpreter's memory ABI (the same ABI the generated C blocks
// use against rv_cpu_t's MemPtr/MemLen, per spec.md §5).
func (im *Image) ReadByte(addr uint32) (uint8, error)  { return readByte(im.data, addr) }
func (im *Image) ReadHalf(addr uint32) (uint16, error) { return readHalf(im.data, addr) }
func (im *Image) ReadWord(addr uint32) (uint32, error) { return readWord(im.data, addr) }

// Memory is an owned, writable address space for one execution run:
// the same backing array serves instruction fetches, interpreter
// loads, and every store (interpreted or through a compiled block's
// MemPtr), so the three never disagree about what a given address
// holds. Produced by Image.Clone; the image's own mapping stays
// read-only and is only ever read from, during discovery and emission.
type Memory struct {
	data []byte
}

// Bytes exposes the owned backing array, for binding into a CPUState
// via NewCPUState/BindMemory.
func (m *Memory) Bytes() []byte { return m.data }

// Len reports the memory size in bytes.
func (m *Memory) Len() int { return len(m.data) }

func (m *Memory) FetchWord(addr uint32) (uint32, error) { return fetchWord(m.data, addr) }
func (m *Memory) ReadByte(addr uint32) (uint8, error)   { return readByte(m.data, addr) }
func (m *Memory) ReadHalf(addr uint32) (uint16, error)  { return readHalf(m.data, addr) }
func (m *Memory) ReadWord(addr uint32) (uint32, error)  { return readWord(m.data, addr) }

func fetchWord(data []byte, addr uint32) (uint32, error) {
	a := int(addr)
	n := len(data)
	if a < 0 || a >= n {
		return 0, newMemoryReadError(addr)
	}
	if a+4 <= n {
		return uint32(data[a]) |
			uint32(data[a+1])<<8 |
			uint32(data[a+2])<<16 |
			uint32(data[a+3])<<24, nil
	}
	if a+2 <= n {
		return uint32(data[a]) | uint32(data[a+1])<<8, nil
	}
	return 0, newMemoryReadError(addr)
}

func readByte(data []byte, addr uint32) (uint8, error) {
	if int(addr) >= len(data) {
		return 0, newMemoryReadError(addr)
	}
	return data[addr], nil
}

func readHalf(data []byte, addr uint32) (uint16, error) {
	if int(addr)+2 > len(data) {
		return 0, newMemoryReadError(addr)
	}
	return uint16(data[addr]) | uint16(data[addr+1])<<8, nil
}

func readWord(data []byte, addr uint32) (uint32, error) {
	if int(addr)+4 > len(data) {
		return 0, newMemoryReadError(addr)
	}
	return uint32(data[addr]) |
		uint32(data[addr+1])<<8 |
		uint32(data[addr+2])<<16 |
		uint32(data[addr+3])<<24, nil
}
