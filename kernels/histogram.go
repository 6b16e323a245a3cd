package kernels

import (
	"context"
	"sync/atomic"

	"simfinder/compute"
	"simfinder/types"
)

// quantize maps a normalized channel value to one of 256 bins
func quantize(v float32) int {
	bin := int(v*255 + 0.5)
	if bin < 0 {
		return 0
	}
	if bin > types.HistogramBins-1 {
		return types.HistogramBins - 1
	}
	return bin
}

// Histogram counts every pixel into three independent 256-bin channel
// histograms (R, then G, then B). out must hold exactly 768 values and
// receives raw counts.
func Histogram(ctx context.Context, d *compute.Device, tex *compute.Texture, out []float32) error {
	if err := checkLen(KernelHistogram, len(out), types.HistogramLength); err != nil {
		return err
	}

	counts := make([]uint32, types.HistogramLength)
	err := d.Dispatch2D(ctx, KernelHistogram, tex.Width, tex.Height, func(x, y int) {
		r, g, b := tex.RGB(x, y)
		atomic.AddUint32(&counts[quantize(r)], 1)
		atomic.AddUint32(&counts[types.HistogramBins+quantize(g)], 1)
		atomic.AddUint32(&counts[2*types.HistogramBins+quantize(b)], 1)
	})
	if err != nil {
		return err
	}

	for i, c := range counts {
		out[i] = float32(c)
	}
	return nil
}
