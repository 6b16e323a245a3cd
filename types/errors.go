package types

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a scan is requested while one is active
	ErrAlreadyRunning = errors.New("already processing")

	// ErrDeviceUnavailable means the compute backend is missing or a kernel failed to compile
	ErrDeviceUnavailable = errors.New("compute device unavailable")

	// ErrExtractionFailed marks a per-image decode, texture or kernel failure
	ErrExtractionFailed = errors.New("feature extraction failed")

	// ErrInvalidFeatureShape marks a feature buffer with the wrong length
	ErrInvalidFeatureShape = errors.New("invalid feature shape")

	// ErrCache marks a cache serialization failure; callers treat it as a miss
	ErrCache = errors.New("feature cache error")

	// ErrTextureAllocation is returned when a device texture cannot be created
	ErrTextureAllocation = errors.New("texture allocation failed")
)

// ExtractionError records which image failed and at which stage
type ExtractionError struct {
	Identity string
	Stage    string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Identity, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is makes every ExtractionError match ErrExtractionFailed
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}
