package kernels

import (
	"context"
	"math"
	"sync/atomic"

	"simfinder/compute"
	"simfinder/types"
)

const (
	// CornerThreshold is the minimum ring response for a keypoint
	CornerThreshold = 0.8

	cornerRadius  = 3
	cornerSamples = 8
	binaryRadius  = 6
	binaryBits    = types.DescriptorSize - 3

	unclaimed = math.MaxInt64
)

// cornerResponse sums the absolute luma difference between the pixel and
// eight samples on a ring of radius 3
func cornerResponse(tex *compute.Texture, x, y int) float32 {
	center := tex.Luma(x, y)
	var response float32
	for k := 0; k < cornerSamples; k++ {
		angle := float64(k) * 2 * math.Pi / cornerSamples
		v := tex.LumaAt(float64(x)+cornerRadius*math.Cos(angle), float64(y)+cornerRadius*math.Sin(angle))
		diff := v - center
		if diff < 0 {
			diff = -diff
		}
		response += diff
	}
	return response
}

// atomicMin lowers *addr to v if v is smaller
func atomicMin(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v >= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// Descriptors detects corner keypoints and writes up to 500 fixed-size
// descriptors into out (500 x 32 values). Each pixel maps to a slot by its
// raster position; the first active pixel of a slot's range wins it, so the
// result does not depend on thread scheduling. Unclaimed slots are zeroed.
//
// Slot layout: x/width, y/height, response/8, then 29 binary intensity tests
// on a ring of radius 6 against the centre luma.
func Descriptors(ctx context.Context, d *compute.Device, tex *compute.Texture, out []float32) error {
	if err := checkLen(KernelDescriptors, len(out), types.DescriptorLength); err != nil {
		return err
	}

	w, h := tex.Width, tex.Height
	total := int64(w) * int64(h)

	claims := make([]int64, types.DescriptorSlots)
	for i := range claims {
		claims[i] = unclaimed
	}

	// Pass 1: detect and claim
	err := d.Dispatch2D(ctx, KernelDescriptors+"/detect", w, h, func(x, y int) {
		if cornerResponse(tex, x, y) <= CornerThreshold {
			return
		}
		raster := int64(y)*int64(w) + int64(x)
		slot := raster * types.DescriptorSlots / total
		atomicMin(&claims[slot], raster)
	})
	if err != nil {
		return err
	}

	// Pass 2: describe claimed slots
	return d.Dispatch1D(ctx, KernelDescriptors+"/describe", types.DescriptorSlots, func(s int) {
		slot := out[s*types.DescriptorSize : (s+1)*types.DescriptorSize]
		raster := claims[s]
		if raster == unclaimed {
			for i := range slot {
				slot[i] = 0
			}
			return
		}

		x := int(raster % int64(w))
		y := int(raster / int64(w))
		center := tex.Luma(x, y)

		slot[0] = float32(x) / float32(w)
		slot[1] = float32(y) / float32(h)
		slot[2] = cornerResponse(tex, x, y) / cornerSamples

		for k := 0; k < binaryBits; k++ {
			angle := float64(k) * 2 * math.Pi / binaryBits
			v := tex.LumaAt(float64(x)+binaryRadius*math.Cos(angle), float64(y)+binaryRadius*math.Sin(angle))
			if v > center {
				slot[3+k] = 1
			} else {
				slot[3+k] = 0
			}
		}
	})
}
