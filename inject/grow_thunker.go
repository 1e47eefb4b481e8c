package inject

import "github.com/near/wasm-utils/wasmmodule"

// GrowThunker replaces every memory.grow with a call to a synthesized thunk
// that charges gas for the pages requested before performing the real grow.
// memory.grow's static cost (the plain per-instruction charge already paid
// by its enclosing metered block) only covers executing the opcode itself;
// the thunk covers the additional cost proportional to how much memory it
// actually grows, which cannot be known until runtime.
type GrowThunker struct {
	gasFuncIndex    uint32
	growCostPerPage uint32
}

// NewGrowThunker builds a thunker that charges growCostPerPage per page by
// calling the imported gas function at gasFuncIndex. A growCostPerPage of 0
// disables dynamic grow metering entirely: Apply then leaves memory.grow
// untouched, since the static per-instruction charge already paid for it.
func NewGrowThunker(gasFuncIndex, growCostPerPage uint32) *GrowThunker {
	return &GrowThunker{gasFuncIndex: gasFuncIndex, growCostPerPage: growCostPerPage}
}

// Apply scans every function body in m for memory.grow. If none is present,
// or dynamic grow metering is disabled, m is left untouched. Otherwise it
// appends a (i32)->(i32) thunk function to m and rewrites every
// memory.grow into a call to it. Reports whether a thunk was installed.
func (g *GrowThunker) Apply(m *wasmmodule.Module) bool {
	if g.growCostPerPage == 0 {
		return false
	}

	found := false
	for _, body := range m.CodeBodies {
		for _, instr := range body.Instructions {
			if instr.IsMemoryGrow() {
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return false
	}

	thunkIdx := g.installThunk(m)
	for bi := range m.CodeBodies {
		instrs := m.CodeBodies[bi].Instructions
		for i := range instrs {
			if instrs[i].IsMemoryGrow() {
				instrs[i] = wasmmodule.NewCall(thunkIdx)
			}
		}
	}
	return true
}

// installThunk appends the grow-gas thunk function to m and returns its
// function index. The thunk is never itself metered by the block injector:
// it runs once per memory.grow call site, and its own cost is folded into
// the dynamic per-page charge it computes, not into any static block.
//
//	local.get 0
//	local.get 0
//	i32.const <growCostPerPage>
//	i32.mul
//	call <gas>
//	memory.grow
//	end
func (g *GrowThunker) installThunk(m *wasmmodule.Module) uint32 {
	typeIdx := m.AppendSignature(wasmmodule.FuncType{
		Params:  []wasmmodule.ValType{wasmmodule.ValI32},
		Results: []wasmmodule.ValType{wasmmodule.ValI32},
	})

	body := wasmmodule.CodeBody{
		Instructions: []wasmmodule.Instruction{
			wasmmodule.NewLocalGet(0),
			wasmmodule.NewLocalGet(0),
			wasmmodule.NewI32Const(int32(g.growCostPerPage)),
			{Op: wasmmodule.OpI32Mul},
			wasmmodule.NewCall(g.gasFuncIndex),
			{Op: wasmmodule.OpMemoryGrow},
			{Op: wasmmodule.OpEnd},
		},
	}
	return m.AppendFunction(typeIdx, body)
}
