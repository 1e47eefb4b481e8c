// Package rules provides the cost/forbidden-instruction oracle the inject
// package queries while partitioning a function body into metered blocks.
package rules

import (
	"github.com/holiman/uint256"

	"github.com/near/wasm-utils/wasmmodule"
)

// Oracle answers, per instruction, its static cost and whether the policy
// forbids it, and exposes the cost of memory.grow per page.
type Oracle interface {
	// Cost returns the non-negative static cost of instr.
	Cost(instr wasmmodule.Instruction) uint32
	// IsForbidden reports whether the policy disallows instr outright.
	IsForbidden(instr wasmmodule.Instruction) bool
	// GrowCostPerPage returns the per-page cost charged dynamically by the
	// grow thunk; 0 disables dynamic grow metering.
	GrowCostPerPage() uint32
}

// Default is the built-in Oracle implementation: a uniform per-instruction
// cost with optional per-opcode overrides, an optional forbidden-opcode
// set, and a configurable grow cost. Construct one with NewDefault and
// compose it with the With* builder methods, mirroring the rule-set builder
// of the reference implementation this package was distilled from
// (Set::default().with_grow_cost(n).with_forbidden_floats()).
type Default struct {
	defaultCost uint32
	overrides   map[wasmmodule.Op]uint32
	forbidden   map[wasmmodule.Op]bool
	forbidFloat bool
	growCost    uint32
}

// NewDefault returns a Default rule set charging 1 per instruction and
// disabling dynamic grow metering, matching the reference implementation's
// defaults.
func NewDefault() *Default {
	return &Default{defaultCost: 1}
}

// WithCost overrides the cost of a specific opcode. Returns the receiver
// for chaining.
func (d *Default) WithCost(op wasmmodule.Op, cost uint32) *Default {
	if d.overrides == nil {
		d.overrides = make(map[wasmmodule.Op]uint32)
	}
	d.overrides[op] = cost
	return d
}

// WithForbidden marks a specific opcode as forbidden. Returns the receiver
// for chaining.
func (d *Default) WithForbidden(op wasmmodule.Op) *Default {
	if d.forbidden == nil {
		d.forbidden = make(map[wasmmodule.Op]bool)
	}
	d.forbidden[op] = true
	return d
}

// WithForbiddenFloats forbids every f32/f64 instruction. Returns the
// receiver for chaining.
func (d *Default) WithForbiddenFloats() *Default {
	d.forbidFloat = true
	return d
}

// WithGrowCost sets the per-page cost charged by the grow thunk. Returns
// the receiver for chaining.
func (d *Default) WithGrowCost(cost uint32) *Default {
	d.growCost = cost
	return d
}

// Cost implements Oracle. end and else are structural markers, not
// executed work, so they cost 0 unless a caller explicitly overrides them;
// every other opcode -- including block/loop/if openers and branches --
// costs like any other instruction.
func (d *Default) Cost(instr wasmmodule.Instruction) uint32 {
	if d.overrides != nil {
		if c, ok := d.overrides[instr.Op]; ok {
			return c
		}
	}
	if instr.Op == wasmmodule.OpEnd || instr.Op == wasmmodule.OpElse {
		return 0
	}
	return d.defaultCost
}

// IsForbidden implements Oracle.
func (d *Default) IsForbidden(instr wasmmodule.Instruction) bool {
	if d.forbidFloat && wasmmodule.IsFloat(instr.Op) {
		return true
	}
	if d.forbidden != nil && d.forbidden[instr.Op] {
		return true
	}
	return false
}

// GrowCostPerPage implements Oracle.
func (d *Default) GrowCostPerPage() uint32 {
	return d.growCost
}

// DynamicGrowCost computes the overflow-checked dynamic charge for growing
// memory by pages pages under this rule set's GrowCostPerPage. The product
// is formed in 256 bits and saturates at math.MaxUint64 rather than
// wrapping; with both factors being uint32, the product always fits in a
// uint64, so the result is the exact product for every input.
func DynamicGrowCost(o Oracle, pages uint32) uint64 {
	p := uint256.NewInt(uint64(pages))
	c := uint256.NewInt(uint64(o.GrowCostPerPage()))
	total := new(uint256.Int).Mul(p, c)
	if !total.IsUint64() {
		return ^uint64(0)
	}
	return total.Uint64()
}
