package kernels

import (
	"fmt"
	"math"

	"simfinder/types"
)

// PackedStride is the number of float32 values per image in a packed buffer:
// histogram, descriptors and the fingerprint split into two 32-bit halves.
const PackedStride = types.HistogramLength + types.DescriptorLength + 2

const (
	packedDescriptorOffset  = types.HistogramLength
	packedFingerprintOffset = types.HistogramLength + types.DescriptorLength
)

// PackFeatures flattens feature vectors into one contiguous buffer.
// The fingerprint halves carry their bit patterns, not numeric values.
func PackFeatures(features []*types.FeatureVector) ([]float32, error) {
	packed := make([]float32, len(features)*PackedStride)
	for i, f := range features {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("pack feature %d: %w", i, err)
		}
		row := packed[i*PackedStride : (i+1)*PackedStride]
		copy(row, f.ColorHistogram)
		copy(row[packedDescriptorOffset:], f.LocalDescriptors)
		row[packedFingerprintOffset] = math.Float32frombits(uint32(f.PerceptualFingerprint))
		row[packedFingerprintOffset+1] = math.Float32frombits(uint32(f.PerceptualFingerprint >> 32))
	}
	return packed, nil
}

// packedFingerprint restores the 64-bit fingerprint of one packed row
func packedFingerprint(row []float32) uint64 {
	lo := uint64(math.Float32bits(row[packedFingerprintOffset]))
	hi := uint64(math.Float32bits(row[packedFingerprintOffset+1]))
	return hi<<32 | lo
}
