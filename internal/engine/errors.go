package engine

import "errors"

// Rejection categories. All rejections happen before any book mutation (FOK
// rejections roll nothing back because the check precedes the commit), so a
// rejected order never leaves partial state behind. Cancellation of an unknown
// id is not an error; Cancel returns false instead.
var (
	// ErrValidation covers structural rejections: non-positive quantity,
	// price outside the configured band, malformed order fields, expiry.
	ErrValidation = errors.New("order validation failed")

	// ErrPhaseRejected means the order kind is not permitted in the current
	// trading phase, including any submission while trading is halted.
	ErrPhaseRejected = errors.New("order not permitted in current trading phase")

	// ErrLiquidity means a fill-or-kill order could not be fully satisfied.
	ErrLiquidity = errors.New("insufficient liquidity for fill-or-kill order")
)
