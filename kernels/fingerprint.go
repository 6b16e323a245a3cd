package kernels

import (
	"context"

	"gonum.org/v1/gonum/dsp/fourier"

	"simfinder/compute"
)

const fingerprintGrid = 8

// cellBounds returns the pixel range [lo, hi) covered by grid cell c.
// Cells of images smaller than the grid collapse onto the nearest pixel.
func cellBounds(c, size int) (int, int) {
	lo := c * size / fingerprintGrid
	hi := (c + 1) * size / fingerprintGrid
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// Fingerprint computes the 64-bit perceptual fingerprint of a texture.
// Pass 1 averages the luma of each cell of an 8x8 grid, one thread per cell.
// Pass 2 runs on a single thread once every cell is written: it applies a
// 2D DCT-I and sets bit i when coefficient i (row-major, DC at
// bit 0) exceeds the mean of the 63 non-DC coefficients.
func Fingerprint(ctx context.Context, d *compute.Device, tex *compute.Texture) (uint64, error) {
	var cells [fingerprintGrid * fingerprintGrid]float64

	err := d.Dispatch1D(ctx, KernelFingerprint+"/reduce", len(cells), func(i int) {
		cx, cy := i%fingerprintGrid, i/fingerprintGrid
		x0, x1 := cellBounds(cx, tex.Width)
		y0, y1 := cellBounds(cy, tex.Height)

		var sum float64
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				sum += float64(tex.Luma(x, y))
			}
		}
		cells[i] = sum / float64((x1-x0)*(y1-y0))
	})
	if err != nil {
		return 0, err
	}

	var hash uint64
	err = d.Dispatch1D(ctx, KernelFingerprint+"/hash", 1, func(int) {
		hash = hashCells(cells[:])
	})
	if err != nil {
		return 0, err
	}
	return hash, nil
}

// transformCells applies a separable 2D DCT-I (gonum fourier.DCT, unnormalized)
// to an 8x8 row-major grid, rows then columns
func transformCells(cells []float64) []float64 {
	dct := fourier.NewDCT(fingerprintGrid)
	coef := make([]float64, len(cells))

	// Rows
	for r := 0; r < fingerprintGrid; r++ {
		dct.Transform(coef[r*fingerprintGrid:(r+1)*fingerprintGrid], cells[r*fingerprintGrid:(r+1)*fingerprintGrid])
	}

	// Columns
	col := make([]float64, fingerprintGrid)
	out := make([]float64, fingerprintGrid)
	for c := 0; c < fingerprintGrid; c++ {
		for r := 0; r < fingerprintGrid; r++ {
			col[r] = coef[r*fingerprintGrid+c]
		}
		dct.Transform(out, col)
		for r := 0; r < fingerprintGrid; r++ {
			coef[r*fingerprintGrid+c] = out[r]
		}
	}
	return coef
}

// hashCells transforms an 8x8 row-major grid and thresholds the coefficients
func hashCells(cells []float64) uint64 {
	coef := transformCells(cells)

	var mean float64
	for _, v := range coef[1:] {
		mean += v
	}
	mean /= float64(len(coef) - 1)

	var hash uint64
	for i, v := range coef {
		if v > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}
