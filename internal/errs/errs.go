// Package errs defines the settlement engine's error taxonomy.
//
// Every settlement operation returns one of these sentinel errors (or
// wraps one with %w). Callers branch with errors.Is; the HTTP layer
// maps families to status codes via Status.
package errs

import "errors"

// InvalidInput family: locally recoverable, caller corrects and retries.
var (
	ErrInvalidUsername      = errors.New("invalid username: must be 3-30 chars [A-Za-z0-9_-]")
	ErrInvalidKycLevel      = errors.New("invalid kyc level: must be 0-2")
	ErrInvalidRegion        = errors.New("invalid region: must be 0-4")
	ErrInvalidFeePercentage = errors.New("invalid fee: must be 0-1000 basis points")
	ErrInvalidChoice        = errors.New("invalid choice: must be 1 or 2")
	ErrInvalidAmount        = errors.New("invalid amount: must be positive")
	ErrInvalidDuration      = errors.New("invalid duration: must be positive")
)

// StateConflict family: a legitimate race or stale read. Re-fetch state
// before deciding to retry; retrying blindly on AlreadyClaimed is never
// correct.
var (
	ErrAlreadyInitialized = errors.New("platform already initialized")
	ErrAlreadyFinalized   = errors.New("match already finalized")
	ErrAlreadyClaimed     = errors.New("winnings already claimed")
	ErrMatchClosed        = errors.New("match is not open for betting")
	ErrMatchExpired       = errors.New("match betting window has expired")
	ErrMatchNotFinalized  = errors.New("match is not finalized")
	ErrEscrowLocked       = errors.New("escrow is locked by a concurrent operation")
	ErrPlatformPaused     = errors.New("platform is paused")
)

// AuthorizationFailure: never retried, surfaced as a security event.
var ErrUnauthorized = errors.New("unauthorized")

// ResourceLimit family: business-rule rejections with a specific reason.
var (
	ErrBetAmountOutOfRange = errors.New("bet amount outside allowed range")
	ErrKycLimitExceeded    = errors.New("bet amount exceeds kyc tier limit")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrComplianceRejected  = errors.New("rejected by compliance screening")
	ErrNotAWinner          = errors.New("bet did not win")
)

// ArithmeticFault family: always fail closed, no partial mutation.
// Logged as operator-attention events.
var (
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Status maps an error to its HTTP status code. Unknown errors are
// treated as system faults.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrInvalidUsername),
		errors.Is(err, ErrInvalidKycLevel),
		errors.Is(err, ErrInvalidRegion),
		errors.Is(err, ErrInvalidFeePercentage),
		errors.Is(err, ErrInvalidChoice),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidDuration):
		return 400
	case errors.Is(err, ErrUnauthorized):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrMatchClosed),
		errors.Is(err, ErrMatchExpired),
		errors.Is(err, ErrMatchNotFinalized),
		errors.Is(err, ErrEscrowLocked),
		errors.Is(err, ErrPlatformPaused):
		return 409
	case errors.Is(err, ErrBetAmountOutOfRange),
		errors.Is(err, ErrKycLimitExceeded),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrComplianceRejected),
		errors.Is(err, ErrNotAWinner):
		return 422
	default:
		return 500
	}
}
