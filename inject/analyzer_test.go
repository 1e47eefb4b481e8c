package inject

import (
	"testing"

	"github.com/near/wasm-utils/rules"
	"github.com/near/wasm-utils/wasmmodule"
)

func gg(idx uint32) wasmmodule.Instruction {
	return wasmmodule.Instruction{Op: wasmmodule.OpGlobalGet, Index: idx}
}

func op(o wasmmodule.Op) wasmmodule.Instruction { return wasmmodule.Instruction{Op: o} }

func block() wasmmodule.Instruction {
	return wasmmodule.Instruction{Op: wasmmodule.OpBlock, BlockType: wasmmodule.BlockTypeEmpty}
}

func loop() wasmmodule.Instruction {
	return wasmmodule.Instruction{Op: wasmmodule.OpLoop, BlockType: wasmmodule.BlockTypeEmpty}
}

func ifOp() wasmmodule.Instruction {
	return wasmmodule.Instruction{Op: wasmmodule.OpIf, BlockType: wasmmodule.BlockTypeEmpty}
}

func br(depth uint32) wasmmodule.Instruction  { return wasmmodule.Instruction{Op: wasmmodule.OpBr, Depth: depth} }
func brIf(depth uint32) wasmmodule.Instruction {
	return wasmmodule.Instruction{Op: wasmmodule.OpBrIf, Depth: depth}
}

func wantBlocks(t *testing.T, got []MeteredBlock, want []MeteredBlock) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("block count = %d, want %d (got %+v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i].StartPos != want[i].StartPos || got[i].Cost != want[i].Cost {
			t.Fatalf("block[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// S1: a single get_global with no control flow is one block, cost 1.
func TestAnalyzeSimple(t *testing.T) {
	body := []wasmmodule.Instruction{gg(0), op(wasmmodule.OpEnd)}
	blocks, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	wantBlocks(t, blocks, []MeteredBlock{{StartPos: 0, Cost: 1}})
}

// S2: a branch-free nested block merges entirely into the enclosing block.
func TestAnalyzeNestedBlockMerges(t *testing.T) {
	body := []wasmmodule.Instruction{
		gg(0), block(), gg(0), gg(0), gg(0), op(wasmmodule.OpEnd), gg(0), op(wasmmodule.OpEnd),
	}
	blocks, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	wantBlocks(t, blocks, []MeteredBlock{{StartPos: 0, Cost: 6}})
}

// S3: if/else always forks into two independently charged blocks, and the
// outer block resumes once the if/else closes.
func TestAnalyzeIfElse(t *testing.T) {
	body := []wasmmodule.Instruction{
		gg(0),                    // 0
		ifOp(),                   // 1
		gg(0), gg(0), gg(0),      // 2,3,4 (then)
		op(wasmmodule.OpElse),    // 5
		gg(0), gg(0),             // 6,7 (else)
		op(wasmmodule.OpEnd),     // 8 (closes if)
		gg(0),                    // 9
		op(wasmmodule.OpEnd),     // 10 (closes function)
	}
	blocks, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	wantBlocks(t, blocks, []MeteredBlock{
		{StartPos: 0, Cost: 3}, // gg0 + if + trailing gg0
		{StartPos: 2, Cost: 3}, // then: three gg0
		{StartPos: 6, Cost: 2}, // else: two gg0
	})
}

// S4: an unconditional branch forces a fresh block for the dead tail that
// follows it, even though that tail is unreachable by fallthrough.
func TestAnalyzeBranchSplitsTail(t *testing.T) {
	body := []wasmmodule.Instruction{
		block(),                  // 0
		gg(0),                    // 1
		op(wasmmodule.OpDrop),    // 2
		br(0),                    // 3
		gg(0),                    // 4
		op(wasmmodule.OpDrop),    // 5
		op(wasmmodule.OpEnd),     // 6 (closes block)
		op(wasmmodule.OpEnd),     // 7 (closes function)
	}
	blocks, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	wantBlocks(t, blocks, []MeteredBlock{
		{StartPos: 0, Cost: 4}, // block + gg0 + drop + br
		{StartPos: 4, Cost: 2}, // dead tail: gg0 + drop
		{StartPos: 7, Cost: 0}, // trailing, suppressed at injection
	})
}

// S5: a loop nested if/else with conditional branches targeting both the
// if's own exit and the loop's re-entry point.
func TestAnalyzeLoopWithConditionalBranches(t *testing.T) {
	body := []wasmmodule.Instruction{
		loop(),                // 0
		gg(0),                 // 1
		ifOp(),                // 2
		gg(0),                 // 3 (then)
		brIf(0),               // 4 (then: exit the if)
		op(wasmmodule.OpElse), // 5
		gg(0), gg(0),          // 6,7 (else)
		op(wasmmodule.OpDrop), // 8
		brIf(1),               // 9 (else: re-enter the loop)
		op(wasmmodule.OpEnd),  // 10 (closes if/else)
		gg(0),                 // 11
		op(wasmmodule.OpDrop), // 12
		op(wasmmodule.OpEnd),  // 13 (closes loop)
		op(wasmmodule.OpEnd),  // 14 (closes function)
	}
	blocks, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	wantBlocks(t, blocks, []MeteredBlock{
		{StartPos: 0, Cost: 1},  // loop opener itself
		{StartPos: 1, Cost: 2},  // loop body prefix: gg0 + if
		{StartPos: 3, Cost: 2},  // then: gg0 + br_if
		{StartPos: 5, Cost: 0},  // suppressed
		{StartPos: 6, Cost: 4},  // else: gg0 + gg0 + drop + br_if
		{StartPos: 10, Cost: 0}, // suppressed
		{StartPos: 11, Cost: 2}, // loop tail: gg0 + drop
		{StartPos: 14, Cost: 0}, // suppressed
	})
}

func TestAnalyzeForbiddenInstruction(t *testing.T) {
	oracle := rules.NewDefault().WithForbidden(wasmmodule.OpF32Load)
	body := []wasmmodule.Instruction{op(wasmmodule.OpF32Load), op(wasmmodule.OpEnd)}
	_, err := NewControlStackAnalyzer(oracle).Analyze(body)
	if err != ErrForbiddenInstruction {
		t.Fatalf("err = %v, want ErrForbiddenInstruction", err)
	}
}

func TestAnalyzeBranchDepthOverflow(t *testing.T) {
	body := []wasmmodule.Instruction{br(5), op(wasmmodule.OpEnd)}
	_, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != ErrMalformedControlFlow {
		t.Fatalf("err = %v, want ErrMalformedControlFlow", err)
	}
}

func TestAnalyzeUnbalancedElse(t *testing.T) {
	body := []wasmmodule.Instruction{op(wasmmodule.OpElse), op(wasmmodule.OpEnd)}
	_, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != ErrMalformedControlFlow {
		t.Fatalf("err = %v, want ErrMalformedControlFlow", err)
	}
}

func TestAnalyzeDanglingFrame(t *testing.T) {
	body := []wasmmodule.Instruction{block(), gg(0)}
	_, err := NewControlStackAnalyzer(rules.NewDefault()).Analyze(body)
	if err != ErrMalformedControlFlow {
		t.Fatalf("err = %v, want ErrMalformedControlFlow", err)
	}
}
