package inject

import "github.com/near/wasm-utils/wasmmodule"

// IndexRewriter patches every function-index reference in a module after a
// new function import has been prepended to the end of the import section.
// Prepending an import shifts the function index space: every function
// defined in the code section (as opposed to imported) moves up by one.
// call_indirect's operand is a type index, never a function index, and is
// never touched.
type IndexRewriter struct {
	oldImportFuncCount uint32
}

// NewIndexRewriter builds a rewriter given the module's imported function
// count before the gas import was appended.
func NewIndexRewriter(oldImportFuncCount uint32) *IndexRewriter {
	return &IndexRewriter{oldImportFuncCount: oldImportFuncCount}
}

// Shift maps a pre-injection function index to its post-injection value: an
// index that referred to an already-imported function is unaffected, and an
// index that referred to a module-defined function moves up by one to make
// room for the newly prepended import.
func (r *IndexRewriter) Shift(idx uint32) uint32 {
	if idx < r.oldImportFuncCount {
		return idx
	}
	return idx + 1
}

// RewriteModule patches every call instruction's target, every function
// export's index, every element segment's function indices, and the start
// section index (if present), in place.
func (r *IndexRewriter) RewriteModule(m *wasmmodule.Module) {
	for bi := range m.CodeBodies {
		r.rewriteBody(m.CodeBodies[bi].Instructions)
	}
	for ei := range m.Exports {
		if m.Exports[ei].Kind == wasmmodule.KindFunc {
			m.Exports[ei].Index = r.Shift(m.Exports[ei].Index)
		}
	}
	for si := range m.Elements {
		for fi := range m.Elements[si].FuncIndices {
			m.Elements[si].FuncIndices[fi] = r.Shift(m.Elements[si].FuncIndices[fi])
		}
	}
	if m.HasStart {
		m.StartFuncIndex = r.Shift(m.StartFuncIndex)
	}
}

func (r *IndexRewriter) rewriteBody(instrs []wasmmodule.Instruction) {
	for i := range instrs {
		if instrs[i].IsCall() {
			instrs[i].Index = r.Shift(instrs[i].Index)
		}
		// call_indirect's Index is a type index; never shifted.
	}
}
