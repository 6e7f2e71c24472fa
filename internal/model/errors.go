package model

import "errors"

// Error taxonomy. Callers classify with errors.Is; every returned error wraps
// exactly one of these.
var (
	// ErrNotFound is returned for an unknown account or asset.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument covers non-positive quantities and amounts, unknown
	// trade kinds and malformed symbols.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when an asset symbol is already listed.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict rejects a change the current state does not allow, such as
	// deleting an account that has trade history.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientFunds rejects a BUY costing more than the cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHoldings rejects a SELL of more than is owned.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrExternalSource marks a market price fetch failure. It is logged and
	// skipped by ingestion and never surfaces to a trade caller.
	ErrExternalSource = errors.New("external price source")

	// ErrStorage wraps persistence failures.
	ErrStorage = errors.New("storage failure")
)

// IsClientError reports whether err is a rejection caused by the request
// rather than by the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientHoldings)
}
