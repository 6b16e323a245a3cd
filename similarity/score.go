package similarity

import (
	"math"
	"math/bits"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"simfinder/kernels"
	"simfinder/types"
)

// Score compares two validated feature vectors on the host
func Score(a, b *types.FeatureVector) types.PairScores {
	h := HistogramScore(a.ColorHistogram, b.ColorHistogram)
	d := DescriptorScore(a, b)
	f := FingerprintScore(a.PerceptualFingerprint, b.PerceptualFingerprint)
	return types.PairScores{
		Histogram:   h,
		Descriptor:  d,
		Fingerprint: f,
		Fused:       types.Fuse(h, d, f),
	}
}

// HistogramScore is the Bhattacharyya coefficient of the L1-normalized
// histograms, 0 when either is empty
func HistogramScore(a, b []float32) float64 {
	p, q := normalizedRoot(a), normalizedRoot(b)
	if p == nil || q == nil {
		return 0
	}
	return math.Max(0, math.Min(1, floats.Dot(p, q)))
}

func normalizedRoot(h []float32) []float64 {
	v := make([]float64, len(h))
	for i, x := range h {
		v[i] = float64(x)
	}
	sum := floats.Sum(v)
	if sum <= 0 {
		return nil
	}
	floats.Scale(1/sum, v)
	for i := range v {
		v[i] = math.Sqrt(v[i])
	}
	return v
}

// DescriptorScore is the fraction of slots valid in both vectors whose
// descriptors have a Pearson correlation above the match level
func DescriptorScore(a, b *types.FeatureVector) float64 {
	x := make([]float64, types.DescriptorSize)
	y := make([]float64, types.DescriptorSize)

	mutual, matches := 0, 0
	for s := 0; s < types.DescriptorSlots; s++ {
		if !a.SlotValid(s) || !b.SlotValid(s) {
			continue
		}
		mutual++

		for i, v := range a.Slot(s) {
			x[i] = float64(v)
		}
		for i, v := range b.Slot(s) {
			y[i] = float64(v)
		}
		// NaN for zero variance never matches
		if r := stat.Correlation(x, y, nil); r > kernels.DescriptorMatchCorrelation {
			matches++
		}
	}
	if mutual == 0 {
		return 0
	}
	return float64(matches) / float64(mutual)
}

// FingerprintScore is (64 - Hamming distance) / 64
func FingerprintScore(a, b uint64) float64 {
	return float64(types.FingerprintBits-bits.OnesCount64(a^b)) / types.FingerprintBits
}
