package rv

// Visitor is the callback contract spec.md §4.1 describes as "dispatch
// it to self as a visitor": one method per instruction category, each
// given the address the instruction was fetched from and the decoded
// Instruction itself. BlockFinder, BlockWriter and Interp are the three
// implementations that need per-instruction behavior.
type Visitor interface {
	StraightLine(addr uint32, ins Instruction) error
	ConditionalBranch(addr uint32, ins Instruction) error
	DirectJump(addr uint32, ins Instruction) error
	IndirectJump(addr uint32, ins Instruction) error
	EnvironmentTrap(addr uint32, ins Instruction) error
}

// Dispatch plays the role of spec.md §2's "instruction dispatcher": an
// external collaborator named by the spec but not otherwise provided
// by this system. Given a decoded instruction, it invokes the matching
// callback on v, grounded on the teacher's single dense switch over
// Bytecode in vm/exec.go/vm/vm.go generalized to five buckets instead
// of one-switch-per-opcode.
func Dispatch(v Visitor, addr uint32, ins Instruction) error {
	switch ins.Op.Category() {
	case CatConditionalBranch:
		return v.ConditionalBranch(addr, ins)
	case CatDirectJump:
		return v.DirectJump(addr, ins)
	case CatIndirectJump:
		return v.IndirectJump(addr, ins)
	case CatEnvironmentTrap:
		return v.EnvironmentTrap(addr, ins)
	default:
		return v.StraightLine(addr, ins)
	}
}
