package inject

import (
	"github.com/near/wasm-utils/rules"
	"github.com/near/wasm-utils/wasmmodule"
)

// MeteredBlock is one maximal straight-line run of instructions that the
// injector prepays with a single i32.const <cost>; call <gas> pair at
// StartPos. Blocks are reported in increasing StartPos order and their spans
// partition the function body: every instruction belongs to exactly one
// block.
type MeteredBlock struct {
	// StartPos is the index into the function's flat instruction slice where
	// this block begins.
	StartPos int
	// Cost is the summed static cost of every instruction in the block.
	Cost uint64
	// Depth is the control-frame stack depth the block was opened at,
	// carried for diagnostics only; injection never branches on it.
	Depth int
}

type frameKind int

const (
	frameFunction frameKind = iota
	frameBlock
	frameLoop
	frameIf
	frameElse
)

// controlFrame tracks one entry of the control-frame stack the analyzer
// walks the function body with. activeBlock is the index into blocks that
// instructions under this frame currently accumulate their cost into. A
// plain block inherits its enclosing frame's activeBlock outright -- it
// never owns a block of its own -- while if/loop/else always open a fresh
// one, since their bodies are independently charged regardless of what
// happens around them.
//
// childForcedSplit is set on a frame when, while it was the innermost
// frame, something forced a fresh block to open (a branch, a return, an
// unreachable, or a nested frame that itself closed forced). A frame whose
// childForcedSplit never flips closes transparently: the code that follows
// it resumes accumulating into whatever block its enclosing frame already
// had active before it was entered, merging across the frame's span
// instead of forking a new block for it.
type controlFrame struct {
	kind             frameKind
	activeBlock      int
	childForcedSplit bool
}

// ControlStackAnalyzer partitions a decoded function body into metered
// blocks. It is the single linear pass the injector's cost model rests on:
// one control-frame stack, blocks addressed by index so a frame can resume
// accumulating into a block that was opened by an enclosing frame, amortized
// O(1) work per instruction.
type ControlStackAnalyzer struct {
	oracle rules.Oracle
}

// NewControlStackAnalyzer builds an analyzer that queries oracle for cost
// and forbidden-instruction decisions.
func NewControlStackAnalyzer(oracle rules.Oracle) *ControlStackAnalyzer {
	return &ControlStackAnalyzer{oracle: oracle}
}

// Analyze walks body and returns its metered blocks in StartPos order. It
// fails on a forbidden instruction, a branch depth that exceeds the current
// frame stack, unbalanced else/end, or instructions left dangling after the
// function's closing end.
func (a *ControlStackAnalyzer) Analyze(body []wasmmodule.Instruction) ([]MeteredBlock, error) {
	var blocks []MeteredBlock
	newBlock := func(startPos, depth int) int {
		blocks = append(blocks, MeteredBlock{StartPos: startPos, Depth: depth})
		return len(blocks) - 1
	}

	stack := []controlFrame{{kind: frameFunction, activeBlock: newBlock(0, 1)}}

	closed := false
	for p, instr := range body {
		if closed {
			return nil, ErrMalformedControlFlow
		}
		if a.oracle.IsForbidden(instr) {
			return nil, ErrForbiddenInstruction
		}
		top := len(stack) - 1
		blocks[stack[top].activeBlock].Cost += uint64(a.oracle.Cost(instr))

		switch {
		case instr.Op == wasmmodule.OpBlock:
			stack = append(stack, controlFrame{kind: frameBlock, activeBlock: stack[top].activeBlock})

		case instr.Op == wasmmodule.OpLoop:
			idx := newBlock(p+1, len(stack))
			stack = append(stack, controlFrame{kind: frameLoop, activeBlock: idx})

		case instr.Op == wasmmodule.OpIf:
			idx := newBlock(p+1, len(stack))
			stack = append(stack, controlFrame{kind: frameIf, activeBlock: idx})

		case instr.Op == wasmmodule.OpElse:
			if top < 0 || stack[top].kind != frameIf {
				return nil, ErrMalformedControlFlow
			}
			stack[top].kind = frameElse
			stack[top].activeBlock = newBlock(p+1, len(stack))

		case wasmmodule.IsBranch(instr.Op):
			if err := checkDepth(instr, len(stack)); err != nil {
				return nil, err
			}
			stack[top].activeBlock = newBlock(p+1, len(stack))
			stack[top].childForcedSplit = true

		case instr.Op == wasmmodule.OpReturn || instr.Op == wasmmodule.OpUnreachable:
			stack[top].activeBlock = newBlock(p+1, len(stack))
			stack[top].childForcedSplit = true

		case instr.Op == wasmmodule.OpEnd:
			if top < 0 {
				return nil, ErrMalformedControlFlow
			}
			frame := stack[top]
			stack = stack[:top]

			if len(stack) == 0 {
				// Closing the synthetic function frame: must be the last
				// instruction in the body.
				if p != len(body)-1 {
					return nil, ErrMalformedControlFlow
				}
				closed = true
				continue
			}

			if !frame.childForcedSplit {
				// Transparent exit: nothing inside this frame ever forced a
				// split, so it never forked from its surroundings -- true
				// for a plain block, but equally for an if/else/loop whose
				// body never branched, returned, or nested another split.
				// The enclosing frame's activeBlock was never touched while
				// this frame was on top, so resuming it just keeps
				// accumulating into the same block this frame folded into.
				continue
			}
			parent := len(stack) - 1
			stack[parent].activeBlock = newBlock(p+1, len(stack))
			stack[parent].childForcedSplit = true

		default:
			// plain instruction, cost already accounted for
		}
	}

	if !closed {
		return nil, ErrMalformedControlFlow
	}
	return blocks, nil
}

func checkDepth(instr wasmmodule.Instruction, stackLen int) error {
	switch instr.Op {
	case wasmmodule.OpBr, wasmmodule.OpBrIf:
		if int(instr.Depth) >= stackLen {
			return ErrMalformedControlFlow
		}
	case wasmmodule.OpBrTable:
		if int(instr.Default) >= stackLen {
			return ErrMalformedControlFlow
		}
		for _, t := range instr.Targets {
			if int(t) >= stackLen {
				return ErrMalformedControlFlow
			}
		}
	}
	return nil
}
