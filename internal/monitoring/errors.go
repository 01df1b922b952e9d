package monitoring

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStorageFailure    = errors.New("storage failure")
)
