package training

import "errors"

var (
	// ErrInvalidArgument covers bad weights, shapes, and chunk layouts
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoSamples is returned when an average is requested before any
	// update was recorded
	ErrNoSamples = errors.New("no samples recorded")

	// ErrNotBound is returned when an epoch is started before devices
	// were bound
	ErrNotBound = errors.New("devices not bound")
)
