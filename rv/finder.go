package rv

import "sort"

// openSentinel marks a Block not yet closed by discovery (spec.md §3's
// "a block that has been created but not yet closed is marked by
// end = 0"). It is reserved, not ambiguous: discovery never produces a
// genuine zero-length block ending at address 0, since address 0 can
// only ever be a block's start.
const openSentinel = 0

// Block is a half-open byte-address interval [Start, End).
type Block struct {
	Start uint32
	End   uint32
}

// Closed reports whether discovery has assigned a real end address.
func (b Block) Closed() bool {
	return b.End != openSentinel
}

// reader is the instruction-fetch side of an image, satisfied by *Image
// and by anything else that can hand back a raw 32-bit fetch word.
type reader interface {
	FetchWord(addr uint32) (uint32, error)
}

// BlockFinder implements Visitor to discover the complete set of basic
// blocks reachable through static control flow from a set of entry
// addresses, per spec.md §4.1's worklist algorithm.
type BlockFinder struct {
	img    reader
	imgLen uint32

	blocks []Block
	index  map[uint32]int // Start -> index into blocks, for duplicate/split lookups
	open   []int          // indices into blocks awaiting a body scan

	cur int // index of the block currently being scanned
}

// NewBlockFinder builds a finder over an image of the given byte length.
func NewBlockFinder(img reader, imgLen uint32) *BlockFinder {
	return &BlockFinder{
		img:    img,
		imgLen: imgLen,
		index:  make(map[uint32]int),
	}
}

// Discover runs the worklist algorithm from the given entry addresses
// and returns the known blocks sorted by Start.
func Discover(img reader, imgLen uint32, entries ...uint32) ([]Block, error) {
	f := NewBlockFinder(img, imgLen)
	for _, e := range entries {
		f.startBlock(e)
	}
	for len(f.open) > 0 {
		n := len(f.open)
		idx := f.open[n-1]
		f.open = f.open[:n-1]
		if err := f.scan(idx); err != nil {
			return nil, err
		}
	}
	out := make([]Block, len(f.blocks))
	copy(out, f.blocks)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// startBlock applies spec.md §4.1's start-block policy: ignore
// out-of-range addresses, suppress duplicates, split an existing
// closed block if the new start falls strictly inside it, otherwise
// push a fresh open block.
func (f *BlockFinder) startBlock(addr uint32) {
	if addr >= f.imgLen {
		return
	}
	if _, exists := f.index[addr]; exists {
		return
	}
	for i := range f.blocks {
		b := f.blocks[i]
		if b.Closed() && b.Start < addr && addr < b.End {
			f.blocks[i].End = addr
			break
		}
	}
	idx := len(f.blocks)
	f.blocks = append(f.blocks, Block{Start: addr, End: openSentinel})
	f.index[addr] = idx
	f.open = append(f.open, idx)
}

// endBlock applies spec.md §4.1's end-block policy.
func (f *BlockFinder) endBlock(idx int, end uint32) {
	f.blocks[idx].End = end
}

func (f *BlockFinder) scan(idx int) error {
	f.cur = idx
	addr := f.blocks[idx].Start
	for f.blocks[idx].End == openSentinel && addr < f.imgLen {
		// A straight-line scan that reaches another block's already-known
		// start must stop here rather than read through it: the other
		// block may be scanned before or after this one depending on
		// worklist order, and P1 (disjoint intervals) must hold either way.
		if other, exists := f.index[addr]; exists && other != idx {
			f.endBlock(idx, addr)
			break
		}
		raw, err := f.img.FetchWord(addr)
		if err != nil {
			return err
		}
		ins, err := Decode(raw)
		if err != nil {
			ins = Instruction{Op: OpIllegal, Width: instructionWidth(raw)}
		}
		if err := Dispatch(f, addr, ins); err != nil {
			return err
		}
		addr += ins.Width
	}
	return nil
}

func instructionWidth(raw uint32) uint32 {
	if raw&3 == 3 {
		return 4
	}
	return 2
}

func (f *BlockFinder) StraightLine(addr uint32, ins Instruction) error {
	return nil
}

func (f *BlockFinder) ConditionalBranch(addr uint32, ins Instruction) error {
	fallthroughAddr := addr + ins.Width
	target := addr + uint32(ins.Imm)
	f.endBlock(f.cur, fallthroughAddr)
	f.startBlock(fallthroughAddr)
	f.startBlock(target)
	return nil
}

func (f *BlockFinder) DirectJump(addr uint32, ins Instruction) error {
	fallthroughAddr := addr + ins.Width
	target := addr + uint32(ins.Imm)
	f.endBlock(f.cur, fallthroughAddr)
	f.startBlock(target)
	return nil
}

func (f *BlockFinder) IndirectJump(addr uint32, ins Instruction) error {
	fallthroughAddr := addr + ins.Width
	f.endBlock(f.cur, fallthroughAddr)
	f.startBlock(fallthroughAddr)
	return nil
}

func (f *BlockFinder) EnvironmentTrap(addr uint32, ins Instruction) error {
	fallthroughAddr := addr + ins.Width
	f.endBlock(f.cur, fallthroughAddr)
	f.startBlock(fallthroughAddr)
	return nil
}
