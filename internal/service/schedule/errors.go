package schedule

import "errors"

var (
	ErrBusNotFound   = errors.New("bus not found")
	ErrStopNotFound  = errors.New("stop not found")
	ErrBusConflict   = errors.New("bus already exists")
	ErrInvalidLayout = errors.New("invalid bus layout")
)
