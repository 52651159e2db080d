package ledger

import "errors"

var (
	// ErrInsufficientCallerFunds is returned by Deposit when the caller holds less than
	// a requested amount.
	ErrInsufficientCallerFunds = errors.New("insufficient caller funds")
	// ErrInsufficientPoolReserves is returned when the pool cannot cover a withdrawal or swap payout.
	ErrInsufficientPoolReserves = errors.New("insufficient pool reserves")
	// ErrArithmetic covers overflow, underflow and division by zero.
	ErrArithmetic = errors.New("arithmetic failure")
	// ErrTransfer wraps a rejection from the asset ledger. The original error stays matchable.
	ErrTransfer = errors.New("transfer failed")
	// ErrUnauthenticated is returned by Submit when the request cannot be attributed to an account.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// resultLabel maps an operation error to a bounded metrics label.
func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientCallerFunds):
		return "insufficient_caller_funds"
	case errors.Is(err, ErrInsufficientPoolReserves):
		return "insufficient_pool_reserves"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
