// Package similarity turns feature vectors into a fused similarity matrix
// and groups images whose scores clear a threshold.
package similarity

import (
	"context"

	"simfinder/compute"
	"simfinder/kernels"
	"simfinder/types"
)

// Backend computes the full pairwise similarity matrix for a batch
type Backend interface {
	Name() string
	Compute(ctx context.Context, features []*types.FeatureVector) (*types.SimilarityMatrix, error)
}

// DeviceBackend runs the similarity kernel on a compute device
type DeviceBackend struct {
	device *compute.Device
}

// NewDeviceBackend wraps a device whose kernels are already compiled
func NewDeviceBackend(device *compute.Device) *DeviceBackend {
	return &DeviceBackend{device: device}
}

func (b *DeviceBackend) Name() string {
	return "device:" + b.device.Name()
}

func (b *DeviceBackend) Compute(ctx context.Context, features []*types.FeatureVector) (*types.SimilarityMatrix, error) {
	n := len(features)
	packed, err := kernels.PackFeatures(features)
	if err != nil {
		return nil, err
	}

	out := make([]float32, n*n)
	if err := kernels.Similarity(ctx, b.device, packed, n, out); err != nil {
		return nil, err
	}
	return types.NewSimilarityMatrix(n, out)
}

// CPUBackend evaluates the same formulas sequentially in float64
type CPUBackend struct{}

func (CPUBackend) Name() string {
	return "cpu"
}

func (CPUBackend) Compute(ctx context.Context, features []*types.FeatureVector) (*types.SimilarityMatrix, error) {
	n := len(features)
	out := make([]float32, n*n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i*n+i] = 1
		for j := i + 1; j < n; j++ {
			s := float32(Score(features[i], features[j]).Fused)
			out[i*n+j] = s
			out[j*n+i] = s
		}
	}
	return types.NewSimilarityMatrix(n, out)
}
