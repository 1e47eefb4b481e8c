package inject

import (
	"github.com/near/wasm-utils/rules"
	"github.com/near/wasm-utils/wasmmodule"
)

// Orchestrator runs the full gas-metering transformation: prepend a gas
// import, shift every function index that now refers past it, meter every
// function body, and install a dynamic-cost thunk for memory.grow if the
// rule set charges for it.
type Orchestrator struct {
	oracle rules.Oracle
}

// NewOrchestrator builds an orchestrator that charges per oracle.
func NewOrchestrator(oracle rules.Oracle) *Orchestrator {
	return &Orchestrator{oracle: oracle}
}

// Inject transforms input and returns the metered module. input is never
// mutated: the orchestrator works against a clone, and on any failure it
// discards that clone entirely and returns input itself, unchanged, so a
// caller can never observe a partially-injected module.
func (o *Orchestrator) Inject(input *wasmmodule.Module) (*wasmmodule.Module, error) {
	work := input.Clone()

	oldImportFuncCount := uint32(work.ImportFuncCount())
	gasType := work.AppendSignature(wasmmodule.FuncType{
		Params: []wasmmodule.ValType{wasmmodule.ValI32},
	})
	gasFuncIndex := work.AppendImportFunc("env", "gas", gasType)

	NewIndexRewriter(oldImportFuncCount).RewriteModule(work)

	origBodyCount := len(work.CodeBodies)

	analyzer := NewControlStackAnalyzer(o.oracle)
	injector := NewBlockInjector(gasFuncIndex)
	for i := 0; i < origBodyCount; i++ {
		body := work.CodeBodies[i].Instructions
		blocks, err := analyzer.Analyze(body)
		if err != nil {
			return input, err
		}
		metered, err := injector.Inject(body, blocks)
		if err != nil {
			return input, err
		}
		work.CodeBodies[i].Instructions = metered
	}

	NewGrowThunker(gasFuncIndex, o.oracle.GrowCostPerPage()).Apply(work)

	return work, nil
}
