package reservation

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrBusNotFound      = errors.New("bus not found")
	ErrBlockingNotFound = errors.New("blocking not found")
	ErrSeatsUnavailable = errors.New("no seat set could be claimed")
	ErrBlockingExpired  = errors.New("blocking is expired")
	ErrAlreadyFinalized = errors.New("blocking already finalized")
	ErrRateLimited      = errors.New("rate limited")
)
