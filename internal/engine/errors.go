package engine

import "errors"

// Engine error taxonomy. Every non-fatal error is returned before any bin
// or position state is committed; ErrStateCorruption additionally halts
// the pool.
var (
	// ErrSlippageExceeded means the swap output fell below the caller's
	// floor. Recoverable: retry with a fresh quote.
	ErrSlippageExceeded = errors.New("engine: slippage exceeded")

	// ErrInsufficientLiquidity means the walk exhausted every bin with
	// liquidity before the input was consumed and partial fills were not
	// allowed.
	ErrInsufficientLiquidity = errors.New("engine: insufficient liquidity")

	// ErrAmountMismatch means a liquidity deposit does not match the
	// per-bin token split required by the current active bin.
	ErrAmountMismatch = errors.New("engine: deposit amounts do not match required split")

	// ErrInvalidRange means the bin range is inverted or outside the
	// safety bounds. Caller bug, not retryable.
	ErrInvalidRange = errors.New("engine: invalid bin range")

	// ErrOverflow means a fixed-point operation would exceed the
	// representable range. Fatal for the operation, state is unchanged.
	ErrOverflow = errors.New("engine: fixed-point overflow")

	// ErrStateCorruption means an internal invariant check failed. The
	// pool halts and rejects all further mutation.
	ErrStateCorruption = errors.New("engine: state corruption detected")

	// ErrPoolHalted is returned by every mutating call after the pool
	// observed ErrStateCorruption.
	ErrPoolHalted = errors.New("engine: pool is halted")

	ErrPositionNotFound = errors.New("engine: position not found")
	ErrPositionClosed   = errors.New("engine: position is closed")
	ErrZeroAmount       = errors.New("engine: amount is zero")
)
