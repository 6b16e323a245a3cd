// Package kernels holds the data-parallel feature and similarity kernels.
// Every kernel writes into a caller-provided buffer of fixed length and
// rejects buffers of any other size.
package kernels

import (
	"fmt"

	"simfinder/types"
)

// Dispatch labels, also used as kernel names in the compiled library
const (
	KernelHistogram   = "histogram"
	KernelDescriptors = "descriptors"
	KernelFingerprint = "fingerprint"
	KernelSimilarity  = "similarity"
)

func checkLen(kernel string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s buffer has %d elements, want %d", types.ErrInvalidFeatureShape, kernel, got, want)
	}
	return nil
}
