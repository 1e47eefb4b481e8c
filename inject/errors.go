// Package inject implements the gas-metering transformer: partitioning a
// function body into metered blocks, inserting the charge for each, shifting
// function indices after a new import is prepended, and synthesizing a
// dynamic-cost thunk for memory.grow.
package inject

import "errors"

// ErrForbiddenInstruction is returned when the configured rule oracle
// disallows an instruction encountered during analysis. The whole injection
// is aborted; the caller's original module is returned unchanged.
var ErrForbiddenInstruction = errors.New("inject: forbidden instruction")

// ErrMalformedControlFlow covers unbalanced end/else, a branch depth that
// exceeds the current control-frame stack, and dangling frames left open
// after the function's final end.
var ErrMalformedControlFlow = errors.New("inject: malformed control flow")

// errDesync is a defensive error: the block injector reached the end of an
// instruction stream with metered blocks left unconsumed, meaning the
// analyzer and injector disagree about block boundaries. This indicates an
// analyzer bug, not malformed input.
var errDesync = errors.New("inject: analyzer/injector desynchronization")
