package main

import (
	"fmt"

	"github.com/near/wasm-utils/rules"
)

// profile builds a named rules.Oracle. The name also serves as the cache's
// ruleSetID, and so feeds the digest printed by -digest; the grow cost is
// not part of it. Each run builds a fresh cache, so entries are not shared
// between runs.
func profile(name string, growCostPerPage uint32) (rules.Oracle, error) {
	switch name {
	case "default", "":
		return rules.NewDefault().WithGrowCost(growCostPerPage), nil
	case "no-floats":
		return rules.NewDefault().WithForbiddenFloats().WithGrowCost(growCostPerPage), nil
	case "strict":
		return rules.NewDefault().
			WithForbiddenFloats().
			WithForbidden(0xFF). // reserved/invalid opcode guard
			WithGrowCost(growCostPerPage), nil
	default:
		return nil, fmt.Errorf("gasinject: unknown profile %q", name)
	}
}
