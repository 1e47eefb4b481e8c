package inject

import (
	"math"

	"github.com/near/wasm-utils/wasmmodule"
)

// BlockInjector merges a function body with its metered blocks, inserting
// i32.const <cost>; call <gasFuncIndex> at every block whose cost is
// nonzero. It is a single merge of two already-sorted streams -- the
// original instructions and the block start positions -- into a pre-sized
// output buffer, linear in the size of the body.
type BlockInjector struct {
	gasFuncIndex uint32
}

// NewBlockInjector builds an injector that charges gas by calling the
// imported function at gasFuncIndex.
func NewBlockInjector(gasFuncIndex uint32) *BlockInjector {
	return &BlockInjector{gasFuncIndex: gasFuncIndex}
}

// Inject returns body with a charge instruction pair spliced in before each
// nonzero-cost block. blocks must be in increasing StartPos order and must
// partition body exactly as produced by ControlStackAnalyzer.Analyze; any
// other relationship between the two streams is a programmer error and
// returns errDesync rather than silently producing a malformed body.
func (bi *BlockInjector) Inject(body []wasmmodule.Instruction, blocks []MeteredBlock) ([]wasmmodule.Instruction, error) {
	out := make([]wasmmodule.Instruction, 0, len(body)+2*len(blocks))

	idx := 0
	for p, instr := range body {
		for idx < len(blocks) && blocks[idx].StartPos == p {
			if blocks[idx].Cost > 0 {
				out = append(out, chargeSequence(blocks[idx].Cost, bi.gasFuncIndex)...)
			}
			idx++
		}
		out = append(out, instr)
	}
	if idx != len(blocks) {
		return nil, errDesync
	}
	return out, nil
}

// chargeSequence builds the two-instruction prepayment a metered block is
// charged with: i32.const cost; call gas. cost is clamped to the i32.const
// immediate's range the same way the reference implementation's gas meter
// accepts it -- static block costs are small by construction (bounded by
// body length times a per-instruction cost), so this never saturates in
// practice.
func chargeSequence(cost uint64, gasFuncIndex uint32) []wasmmodule.Instruction {
	if cost > math.MaxInt32 {
		cost = math.MaxInt32
	}
	return []wasmmodule.Instruction{
		wasmmodule.NewI32Const(int32(cost)),
		wasmmodule.NewCall(gasFuncIndex),
	}
}
