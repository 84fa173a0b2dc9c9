package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrStaleTransition    = errors.New("job state changed since it was read")
	ErrAlreadyTerminal    = errors.New("job is already in a terminal state")
	ErrNoActiveSession    = errors.New("no active session for this chat")
	ErrDuplicateName      = errors.New("session name already in use")
	ErrPathNotAllowed     = errors.New("working directory outside allowed roots")
	ErrChatBusy           = errors.New("another session operation is in progress for this chat")
	ErrInvalidExecContext = errors.New("invalid executor context type")

	// Poll validation errors
	ErrNoQuestion      = errors.New("poll question missing or does not end with '?'")
	ErrTooFewOptions   = errors.New("poll needs at least 2 distinct options")
	ErrTooManyOptions  = errors.New("poll allows at most 10 options")
	ErrEmptyOption     = errors.New("poll option is empty")
	ErrAlreadyResolved = errors.New("poll is already resolved")
)
