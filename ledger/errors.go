package ledger

import "errors"

var (
	// ErrValidation marks malformed or semantically invalid input (blank names, non-positive amounts, transfer
	// parties that are not members). The caller can retry with corrected input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to a user or room that does not exist.
	ErrNotFound = errors.New("not found")
)
