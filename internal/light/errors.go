package light

import "errors"

var (
	ErrNotFound             = errors.New("light not found")
	ErrDuplicateID          = errors.New("duplicate light id")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrDeviceUnreachable    = errors.New("device unreachable")
)
