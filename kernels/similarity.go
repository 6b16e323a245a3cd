package kernels

import (
	"context"
	"math"
	"math/bits"

	"github.com/viterin/vek/vek32"

	"simfinder/compute"
	"simfinder/types"
)

// DescriptorMatchCorrelation is the Pearson correlation above which two
// descriptors in the same slot count as a match
const DescriptorMatchCorrelation = 0.8

// prepared holds per-image values the pair kernel reuses for every pair
type prepared struct {
	sqrtHist []float32
	centered []float32
	norms    []float32
	valid    []bool
	hash     uint64
}

// Similarity computes the fused similarity matrix of n packed images into
// out (n*n values, row-major). The pair kernel runs one thread per (i, j)
// and only threads with j >= i do work; each writes both (i, j) and (j, i).
func Similarity(ctx context.Context, d *compute.Device, packed []float32, n int, out []float32) error {
	if err := checkLen(KernelSimilarity, len(packed), n*PackedStride); err != nil {
		return err
	}
	if err := checkLen(KernelSimilarity, len(out), n*n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	prep := make([]prepared, n)
	err := d.Dispatch1D(ctx, KernelSimilarity+"/prepare", n, func(i int) {
		prep[i] = prepare(packed[i*PackedStride : (i+1)*PackedStride])
	})
	if err != nil {
		return err
	}

	return d.Dispatch2D(ctx, KernelSimilarity, n, n, func(j, i int) {
		if j < i {
			return
		}
		if i == j {
			out[i*n+i] = 1
			return
		}
		score := float32(types.Fuse(
			histogramScore(&prep[i], &prep[j]),
			descriptorScore(&prep[i], &prep[j]),
			fingerprintScore(prep[i].hash, prep[j].hash),
		))
		out[i*n+j] = score
		out[j*n+i] = score
	})
}

func prepare(row []float32) prepared {
	p := prepared{
		sqrtHist: make([]float32, types.HistogramLength),
		centered: make([]float32, types.DescriptorLength),
		norms:    make([]float32, types.DescriptorSlots),
		valid:    make([]bool, types.DescriptorSlots),
		hash:     packedFingerprint(row),
	}

	copy(p.sqrtHist, row[:types.HistogramLength])
	if sum := vek32.Sum(p.sqrtHist); sum > 0 {
		vek32.MulNumber_Inplace(p.sqrtHist, 1/sum)
		vek32.Sqrt_Inplace(p.sqrtHist)
	}

	desc := row[packedDescriptorOffset:packedFingerprintOffset]
	for s := 0; s < types.DescriptorSlots; s++ {
		src := desc[s*types.DescriptorSize : (s+1)*types.DescriptorSize]
		dst := p.centered[s*types.DescriptorSize : (s+1)*types.DescriptorSize]
		copy(dst, src)

		for _, v := range src {
			if v != 0 {
				p.valid[s] = true
				break
			}
		}
		if !p.valid[s] {
			continue
		}

		vek32.AddNumber_Inplace(dst, -vek32.Sum(dst)/types.DescriptorSize)
		p.norms[s] = float32(math.Sqrt(float64(vek32.Dot(dst, dst))))
	}
	return p
}

// histogramScore is the Bhattacharyya coefficient of the two normalized histograms
func histogramScore(a, b *prepared) float64 {
	bc := float64(vek32.Dot(a.sqrtHist, b.sqrtHist))
	if bc < 0 {
		return 0
	}
	if bc > 1 {
		return 1
	}
	return bc
}

// descriptorScore is the fraction of slots valid in both images whose
// descriptors correlate above DescriptorMatchCorrelation
func descriptorScore(a, b *prepared) float64 {
	mutual, matches := 0, 0
	for s := 0; s < types.DescriptorSlots; s++ {
		if !a.valid[s] || !b.valid[s] {
			continue
		}
		mutual++

		na, nb := a.norms[s], b.norms[s]
		if na == 0 || nb == 0 {
			continue
		}
		lo, hi := s*types.DescriptorSize, (s+1)*types.DescriptorSize
		r := vek32.Dot(a.centered[lo:hi], b.centered[lo:hi]) / (na * nb)
		if r > DescriptorMatchCorrelation {
			matches++
		}
	}
	if mutual == 0 {
		return 0
	}
	return float64(matches) / float64(mutual)
}

// fingerprintScore is one minus the normalized Hamming distance
func fingerprintScore(a, b uint64) float64 {
	return float64(types.FingerprintBits-bits.OnesCount64(a^b)) / types.FingerprintBits
}
