package repository

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrSeatsUnavailable = errors.New("some seats unavailable")
	ErrBlockingExpired  = errors.New("blocking expired")
	ErrAlreadyFinalized = errors.New("blocking already finalized")
	ErrNotHeld          = errors.New("seats not held by blocking")
)
