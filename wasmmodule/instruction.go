package wasmmodule

// Instruction is a single decoded WebAssembly instruction together with
// whatever immediate operands its opcode carries. Only the fields relevant
// to Op are meaningful; the rest are zero.
type Instruction struct {
	Op Op

	// BlockType holds the result type of a block/loop/if: BlockTypeEmpty or
	// one of the ValType constants widened to int64.
	BlockType int64

	// Depth is the branch-depth operand of br / br_if (0 targets the
	// innermost enclosing control frame).
	Depth uint32

	// Targets and Default hold br_table's label vector and default label.
	Targets []uint32
	Default uint32

	// Index holds call's function index, call_indirect's type index,
	// local.get/set/tee's local index, or global.get/set's global index.
	Index uint32

	// MemAlign and MemOffset hold a memory instruction's alignment hint and
	// byte offset.
	MemAlign  uint32
	MemOffset uint32

	I32 int32
	I64 int64
	F32 float32
	F64 float64
}

// NewI32Const builds an i32.const instruction.
func NewI32Const(v int32) Instruction { return Instruction{Op: OpI32Const, I32: v} }

// NewCall builds a call instruction targeting funcIdx.
func NewCall(funcIdx uint32) Instruction { return Instruction{Op: OpCall, Index: funcIdx} }

// NewLocalGet builds a local.get instruction.
func NewLocalGet(idx uint32) Instruction { return Instruction{Op: OpLocalGet, Index: idx} }

// IsCall reports whether the instruction is a direct call.
func (i Instruction) IsCall() bool { return i.Op == OpCall }

// IsCallIndirect reports whether the instruction is an indirect call.
func (i Instruction) IsCallIndirect() bool { return i.Op == OpCallIndir }

// IsMemoryGrow reports whether the instruction is memory.grow.
func (i Instruction) IsMemoryGrow() bool { return i.Op == OpMemoryGrow }
