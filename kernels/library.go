package kernels

import (
	"context"
	"fmt"
	"math"

	"simfinder/compute"
	"simfinder/types"
)

// Library returns the known-answer self test of every kernel, keyed by
// kernel name, for Device.Compile
func Library() map[string]func(*compute.Device) error {
	return map[string]func(*compute.Device) error{
		KernelHistogram:   checkHistogram,
		KernelDescriptors: checkDescriptors,
		KernelFingerprint: checkFingerprint,
		KernelSimilarity:  checkSimilarity,
	}
}

// SolidRGBA returns w*h pixels of one opaque colour
func SolidRGBA(w, h int, r, g, b byte) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 255
	}
	return pix
}

// CheckerRGBA returns a checkerboard of two colours with square cells
func CheckerRGBA(w, h, cell int, a, b [3]byte) []byte {
	pix := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			i := (y*w + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = c[0], c[1], c[2], 255
		}
	}
	return pix
}

func checkHistogram(d *compute.Device) error {
	tex, err := d.NewTexture(SolidRGBA(4, 4, 255, 0, 128), 4, 4)
	if err != nil {
		return err
	}
	out := make([]float32, types.HistogramLength)
	if err := Histogram(context.Background(), d, tex, out); err != nil {
		return err
	}
	if out[255] != 16 || out[types.HistogramBins] != 16 || out[2*types.HistogramBins+128] != 16 {
		return fmt.Errorf("unexpected bin counts %v/%v/%v", out[255], out[types.HistogramBins], out[2*types.HistogramBins+128])
	}
	return nil
}

func checkDescriptors(d *compute.Device) error {
	ctx := context.Background()
	out := make([]float32, types.DescriptorLength)

	flat, err := d.NewTexture(SolidRGBA(16, 16, 90, 90, 90), 16, 16)
	if err != nil {
		return err
	}
	if err := Descriptors(ctx, d, flat, out); err != nil {
		return err
	}
	for _, v := range out {
		if v != 0 {
			return fmt.Errorf("flat texture produced keypoints")
		}
	}

	checker, err := d.NewTexture(CheckerRGBA(16, 16, 4, [3]byte{255, 255, 255}, [3]byte{0, 0, 0}), 16, 16)
	if err != nil {
		return err
	}
	if err := Descriptors(ctx, d, checker, out); err != nil {
		return err
	}
	f := types.FeatureVector{LocalDescriptors: out}
	if f.ValidSlots() == 0 {
		return fmt.Errorf("checkerboard produced no keypoints")
	}
	return nil
}

func checkFingerprint(d *compute.Device) error {
	ctx := context.Background()
	tex, err := d.NewTexture(CheckerRGBA(16, 16, 2, [3]byte{255, 255, 255}, [3]byte{0, 0, 0}), 16, 16)
	if err != nil {
		return err
	}
	first, err := Fingerprint(ctx, d, tex)
	if err != nil {
		return err
	}
	second, err := Fingerprint(ctx, d, tex)
	if err != nil {
		return err
	}
	if first != second {
		return fmt.Errorf("fingerprint not deterministic: %x != %x", first, second)
	}
	if first&1 == 0 {
		return fmt.Errorf("DC bit not set for a bright texture")
	}
	return nil
}

func checkSimilarity(d *compute.Device) error {
	f := types.NewFeatureVector("self-test", 1, 1)
	f.ColorHistogram[10] = 5
	f.PerceptualFingerprint = 0xF0F0

	packed, err := PackFeatures([]*types.FeatureVector{f, f})
	if err != nil {
		return err
	}
	out := make([]float32, 4)
	if err := Similarity(context.Background(), d, packed, 2, out); err != nil {
		return err
	}

	// identical histogram and fingerprint, no descriptors
	want := types.WeightHistogram + types.WeightFingerprint
	if out[0] != 1 || out[3] != 1 || math.Abs(float64(out[1])-want) > 1e-4 || out[1] != out[2] {
		return fmt.Errorf("unexpected matrix %v", out)
	}
	return nil
}
