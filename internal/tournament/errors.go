package tournament

import "errors"

var (
	// ErrValidation covers malformed create/join input. The wrapped
	// message carries the specific reason.
	ErrValidation = errors.New("invalid tournament request")
	// ErrGameNotAvailable means the game is unknown, not approved, or
	// does not support the requested mode.
	ErrGameNotAvailable = errors.New("game is not available for tournaments")
	// ErrNotAuthorized means the caller has no standing for the
	// operation, for example submitting a score without a playing entry.
	ErrNotAuthorized = errors.New("not authorized for this operation")
)
