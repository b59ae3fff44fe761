package checkpoint

import "github.com/pkg/errors"

// Sentinel errors of the checkpoint layer. Match them with errors.Is; the
// wrapped messages carry the details. Storage failures are not translated:
// they surface from the tensorstore package unmodified, so the orchestrating
// caller owns the retry policy.
var (
	// ErrUnknownType: no registered handler's predicate accepted the type.
	ErrUnknownType = errors.New("no handler registered for type")

	// ErrAlreadyRegistered: a handler already resolves for the type and the
	// registration didn't ask to override it.
	ErrAlreadyRegistered = errors.New("a handler is already registered for type")

	// ErrValidation: a handler was called with arguments missing or invalid
	// for its class. This is a programming error of the caller, not a
	// recoverable condition.
	ErrValidation = errors.New("invalid arguments")
)
