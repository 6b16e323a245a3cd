package kernels

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simfinder/compute"
	"simfinder/types"
)

func newDevice(t *testing.T) *compute.Device {
	t.Helper()
	d, err := compute.NewDevice(compute.Options{Workers: 4, MemoryProbe: compute.FixedMemory(8<<30, 4<<30)})
	require.NoError(t, err)
	return d
}

func noiseRGBA(w, h int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	pix := make([]byte, w*h*4)
	rng.Read(pix)
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 255
	}
	return pix
}

func texture(t *testing.T, d *compute.Device, pix []byte, w, h int) *compute.Texture {
	t.Helper()
	tex, err := d.NewTexture(pix, w, h)
	require.NoError(t, err)
	return tex
}

func TestLibraryCompiles(t *testing.T) {
	d := newDevice(t)
	require.NoError(t, d.Compile(Library()))
}

func TestHistogramCountsEveryPixelPerChannel(t *testing.T) {
	d := newDevice(t)
	const w, h = 33, 17
	tex := texture(t, d, noiseRGBA(w, h, 7), w, h)

	out := make([]float32, types.HistogramLength)
	require.NoError(t, Histogram(context.Background(), d, tex, out))

	for c := 0; c < 3; c++ {
		var sum float32
		for _, v := range out[c*types.HistogramBins : (c+1)*types.HistogramBins] {
			sum += v
		}
		assert.Equal(t, float32(w*h), sum, "channel %d", c)
	}
}

func TestHistogramRejectsWrongBuffer(t *testing.T) {
	d := newDevice(t)
	tex := texture(t, d, SolidRGBA(2, 2, 1, 2, 3), 2, 2)
	err := Histogram(context.Background(), d, tex, make([]float32, 100))
	assert.ErrorIs(t, err, types.ErrInvalidFeatureShape)
}

func TestDescriptorsFlatImageHasNoKeypoints(t *testing.T) {
	d := newDevice(t)
	tex := texture(t, d, SolidRGBA(40, 30, 200, 10, 10), 40, 30)

	out := make([]float32, types.DescriptorLength)
	for i := range out {
		out[i] = 9 // stale data must be cleared
	}
	require.NoError(t, Descriptors(context.Background(), d, tex, out))

	f := types.FeatureVector{LocalDescriptors: out}
	assert.Zero(t, f.ValidSlots())
}

func TestDescriptorsAreDeterministic(t *testing.T) {
	d := newDevice(t)
	tex := texture(t, d, noiseRGBA(64, 48, 3), 64, 48)

	first := make([]float32, types.DescriptorLength)
	second := make([]float32, types.DescriptorLength)
	require.NoError(t, Descriptors(context.Background(), d, tex, first))
	require.NoError(t, Descriptors(context.Background(), d, tex, second))

	assert.Equal(t, first, second)
	f := types.FeatureVector{LocalDescriptors: first}
	assert.Greater(t, f.ValidSlots(), 0)
	assert.LessOrEqual(t, f.ValidSlots(), types.DescriptorSlots)
}

func TestDescriptorSlotLayout(t *testing.T) {
	d := newDevice(t)
	const w, h = 32, 32
	tex := texture(t, d, CheckerRGBA(w, h, 8, [3]byte{255, 255, 255}, [3]byte{0, 0, 0}), w, h)

	out := make([]float32, types.DescriptorLength)
	require.NoError(t, Descriptors(context.Background(), d, tex, out))

	f := types.FeatureVector{LocalDescriptors: out}
	for s := 0; s < types.DescriptorSlots; s++ {
		if !f.SlotValid(s) {
			continue
		}
		slot := f.Slot(s)
		assert.GreaterOrEqual(t, slot[0], float32(0))
		assert.Less(t, slot[0], float32(1))
		assert.GreaterOrEqual(t, slot[1], float32(0))
		assert.Less(t, slot[1], float32(1))
		assert.Greater(t, slot[2], float32(CornerThreshold/8))
		for _, bit := range slot[3:] {
			assert.True(t, bit == 0 || bit == 1)
		}
	}
}

func TestFingerprintIdenticalImagesMatch(t *testing.T) {
	d := newDevice(t)
	a := texture(t, d, noiseRGBA(50, 40, 11), 50, 40)
	b := texture(t, d, noiseRGBA(50, 40, 11), 50, 40)
	c := texture(t, d, CheckerRGBA(50, 40, 5, [3]byte{255, 255, 255}, [3]byte{0, 0, 0}), 50, 40)

	fa, err := Fingerprint(context.Background(), d, a)
	require.NoError(t, err)
	fb, err := Fingerprint(context.Background(), d, b)
	require.NoError(t, err)
	fc, err := Fingerprint(context.Background(), d, c)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, fc)
}

func TestFingerprintTinyImage(t *testing.T) {
	d := newDevice(t)
	tex := texture(t, d, SolidRGBA(3, 2, 250, 250, 250), 3, 2)
	hash, err := Fingerprint(context.Background(), d, tex)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hash&1)
}

func TestFingerprintTransformScaling(t *testing.T) {
	cells := make([]float64, fingerprintGrid*fingerprintGrid)
	for i := range cells {
		cells[i] = 1
	}
	coef := transformCells(cells)

	// unnormalized DCT-I: a constant row of n ones has DC 2(n-1)
	dc := 2.0 * (fingerprintGrid - 1)
	assert.InDelta(t, dc*dc, coef[0], 1e-9)
	for i, v := range coef[1:] {
		assert.InDelta(t, 0, v, 1e-9, "coefficient %d", i+1)
	}
}

func TestPackFeaturesLayout(t *testing.T) {
	f := types.NewFeatureVector("a", 10, 10)
	f.ColorHistogram[3] = 7
	f.LocalDescriptors[0] = 0.25
	f.PerceptualFingerprint = 0x0123456789ABCDEF

	packed, err := PackFeatures([]*types.FeatureVector{f, f})
	require.NoError(t, err)
	require.Len(t, packed, 2*PackedStride)

	row := packed[PackedStride:]
	assert.Equal(t, float32(7), row[3])
	assert.Equal(t, float32(0.25), row[types.HistogramLength])
	assert.Equal(t, uint64(0x0123456789ABCDEF), packedFingerprint(row))
}

func TestPackFeaturesRejectsBadShape(t *testing.T) {
	f := types.NewFeatureVector("a", 1, 1)
	f.ColorHistogram = f.ColorHistogram[:10]
	_, err := PackFeatures([]*types.FeatureVector{f})
	assert.ErrorIs(t, err, types.ErrInvalidFeatureShape)
}

func extract(t *testing.T, d *compute.Device, id string, pix []byte, w, h int) *types.FeatureVector {
	t.Helper()
	ctx := context.Background()
	tex := texture(t, d, pix, w, h)
	f := types.NewFeatureVector(id, w, h)
	require.NoError(t, Histogram(ctx, d, tex, f.ColorHistogram))
	require.NoError(t, Descriptors(ctx, d, tex, f.LocalDescriptors))
	hash, err := Fingerprint(ctx, d, tex)
	require.NoError(t, err)
	f.PerceptualFingerprint = hash
	return f
}

func TestSimilarityMatrixProperties(t *testing.T) {
	d := newDevice(t)
	white, red := [3]byte{255, 255, 255}, [3]byte{120, 0, 0}
	features := []*types.FeatureVector{
		extract(t, d, "a", CheckerRGBA(64, 64, 8, white, red), 64, 64),
		extract(t, d, "b", CheckerRGBA(64, 64, 8, white, red), 64, 64),
		extract(t, d, "c", noiseRGBA(64, 64, 42), 64, 64),
		extract(t, d, "d", SolidRGBA(64, 64, 0, 0, 255), 64, 64),
	}
	n := len(features)

	packed, err := PackFeatures(features)
	require.NoError(t, err)
	out := make([]float32, n*n)
	require.NoError(t, Similarity(context.Background(), d, packed, n, out))

	for i := 0; i < n; i++ {
		assert.Equal(t, float32(1), out[i*n+i])
		for j := 0; j < n; j++ {
			assert.Equal(t, out[i*n+j], out[j*n+i])
			assert.GreaterOrEqual(t, out[i*n+j], float32(0))
			assert.LessOrEqual(t, out[i*n+j], float32(1))
		}
	}

	assert.InDelta(t, 1.0, out[0*n+1], 1e-4)
	assert.Less(t, out[0*n+2], float32(0.8))
	assert.Less(t, out[0*n+3], float32(0.8))
}

func TestSimilarityEmptyHistogramScoresZero(t *testing.T) {
	d := newDevice(t)
	a := types.NewFeatureVector("a", 1, 1)
	b := types.NewFeatureVector("b", 1, 1)
	b.ColorHistogram[0] = 1
	b.PerceptualFingerprint = ^uint64(0)

	packed, err := PackFeatures([]*types.FeatureVector{a, b})
	require.NoError(t, err)
	out := make([]float32, 4)
	require.NoError(t, Similarity(context.Background(), d, packed, 2, out))

	// no histogram overlap, no descriptors, every fingerprint bit differs
	assert.Equal(t, float32(0), out[1])
}

func TestSimilarityRejectsWrongSizes(t *testing.T) {
	d := newDevice(t)
	err := Similarity(context.Background(), d, make([]float32, PackedStride), 2, make([]float32, 4))
	assert.ErrorIs(t, err, types.ErrInvalidFeatureShape)

	err = Similarity(context.Background(), d, make([]float32, PackedStride), 1, make([]float32, 2))
	assert.ErrorIs(t, err, types.ErrInvalidFeatureShape)
}

func TestSimilarityOnClosedDevice(t *testing.T) {
	d := newDevice(t)
	d.Close()
	f := types.NewFeatureVector("a", 1, 1)
	packed, err := PackFeatures([]*types.FeatureVector{f})
	require.NoError(t, err)
	err = Similarity(context.Background(), d, packed, 1, make([]float32, 1))
	assert.ErrorIs(t, err, types.ErrDeviceUnavailable)
}
