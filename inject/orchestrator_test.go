package inject

import (
	"testing"

	"github.com/near/wasm-utils/rules"
	"github.com/near/wasm-utils/wasmmodule"
)

// buildSimpleModule returns a module with one pre-existing function import
// and one defined function (get_global; end), exported as "main".
func buildSimpleModule() *wasmmodule.Module {
	m := &wasmmodule.Module{}
	voidType := m.AppendSignature(wasmmodule.FuncType{})
	m.AppendImportFunc("env", "helper", voidType)
	fnType := m.AppendSignature(wasmmodule.FuncType{})
	fnIdx := m.AppendFunction(fnType, wasmmodule.CodeBody{
		Instructions: []wasmmodule.Instruction{gg(0), op(wasmmodule.OpEnd)},
	})
	m.Exports = append(m.Exports, wasmmodule.Export{Name: "main", Kind: wasmmodule.KindFunc, Index: fnIdx})
	return m
}

func TestOrchestratorInjectsAndShiftsIndices(t *testing.T) {
	input := buildSimpleModule()
	out, err := NewOrchestrator(rules.NewDefault()).Inject(input)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}

	if len(out.Imports) != 2 {
		t.Fatalf("len(Imports) = %d, want 2 (helper + gas)", len(out.Imports))
	}
	gasImport := out.Imports[1]
	if gasImport.Module != "env" || gasImport.Name != "gas" {
		t.Fatalf("gas import = %+v, want env.gas", gasImport)
	}
	gasFuncIdx := uint32(1) // last of the function imports

	// The defined function's export index must shift past the new import.
	if out.Exports[0].Index != 2 {
		t.Fatalf("export Index = %d, want 2 (shifted past gas import)", out.Exports[0].Index)
	}

	body := out.CodeBodies[0].Instructions
	if body[0].Op != wasmmodule.OpI32Const || body[0].I32 != 1 {
		t.Fatalf("body[0] = %+v, want i32.const 1", body[0])
	}
	if body[1].Op != wasmmodule.OpCall || body[1].Index != gasFuncIdx {
		t.Fatalf("body[1] = %+v, want call %d", body[1], gasFuncIdx)
	}
	if body[2].Op != wasmmodule.OpGlobalGet {
		t.Fatalf("body[2] = %+v, want get_global", body[2])
	}
	if body[3].Op != wasmmodule.OpEnd {
		t.Fatalf("body[3] = %+v, want end", body[3])
	}

	// The original module must be untouched.
	if len(input.Imports) != 1 {
		t.Fatalf("input was mutated: len(Imports) = %d, want 1", len(input.Imports))
	}
}

func TestOrchestratorReturnsOriginalOnFailure(t *testing.T) {
	m := &wasmmodule.Module{}
	fnType := m.AppendSignature(wasmmodule.FuncType{})
	m.AppendFunction(fnType, wasmmodule.CodeBody{
		Instructions: []wasmmodule.Instruction{br(9), op(wasmmodule.OpEnd)}, // depth overflow
	})

	out, err := NewOrchestrator(rules.NewDefault()).Inject(m)
	if err == nil {
		t.Fatalf("Inject succeeded, want error")
	}
	if out != m {
		t.Fatalf("Inject returned a different module on failure; caller must get its original back unchanged")
	}
	if len(out.Imports) != 0 {
		t.Fatalf("returned module was mutated: len(Imports) = %d, want 0", len(out.Imports))
	}
}

func TestOrchestratorInstallsGrowThunk(t *testing.T) {
	m := &wasmmodule.Module{}
	fnType := m.AppendSignature(wasmmodule.FuncType{})
	m.AppendFunction(fnType, wasmmodule.CodeBody{
		Instructions: []wasmmodule.Instruction{
			wasmmodule.NewI32Const(1), {Op: wasmmodule.OpMemoryGrow}, op(wasmmodule.OpDrop), op(wasmmodule.OpEnd),
		},
	})

	out, err := NewOrchestrator(rules.NewDefault().WithGrowCost(3)).Inject(m)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if len(out.CodeBodies) != 2 {
		t.Fatalf("len(CodeBodies) = %d, want 2 (original + thunk)", len(out.CodeBodies))
	}
	for _, instr := range out.CodeBodies[0].Instructions {
		if instr.Op == wasmmodule.OpMemoryGrow {
			t.Fatalf("memory.grow survived injection unrewritten")
		}
	}
}
