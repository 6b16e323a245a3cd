package types

import (
	"fmt"
	"time"
)

// Fixed feature shapes shared by the kernels, the cache and the similarity backends
const (
	HistogramBins    = 256
	HistogramLength  = 3 * HistogramBins
	DescriptorSlots  = 500
	DescriptorSize   = 32
	DescriptorLength = DescriptorSlots * DescriptorSize
	FingerprintBits  = 64
)

// MediaKind classifies an asset for scheduling estimates
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaRaw
	MediaVideo
	MediaLivePhoto
)

// String returns the catalog name of the media kind
func (k MediaKind) String() string {
	switch k {
	case MediaRaw:
		return "raw"
	case MediaVideo:
		return "video"
	case MediaLivePhoto:
		return "live_photo"
	default:
		return "image"
	}
}

// ParseMediaKind is the inverse of MediaKind.String
func ParseMediaKind(s string) MediaKind {
	switch s {
	case "raw":
		return MediaRaw
	case "video":
		return MediaVideo
	case "live_photo":
		return MediaLivePhoto
	default:
		return MediaImage
	}
}

// Asset is an opaque handle to one source image supplied by the asset store.
// The engine reads it but never mutates it.
type Asset struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Kind       MediaKind  `json:"kind"`
}

// PixelCount returns width*height
func (a Asset) PixelCount() int64 {
	return int64(a.Width) * int64(a.Height)
}

// Pixels holds raw RGBA8 pixel data for one image
type Pixels struct {
	Width  int
	Height int
	RGBA   []byte
}

// FeatureVector is the fixed-shape record produced for every image
type FeatureVector struct {
	Identity              string    `msgpack:"identity"`
	ColorHistogram        []float32 `msgpack:"histogram"`
	LocalDescriptors      []float32 `msgpack:"descriptors"`
	PerceptualFingerprint uint64    `msgpack:"fingerprint"`
	Width                 int32     `msgpack:"width"`
	Height                int32     `msgpack:"height"`
}

// NewFeatureVector allocates a zero-filled vector with the fixed buffer lengths
func NewFeatureVector(identity string, width, height int) *FeatureVector {
	return &FeatureVector{
		Identity:         identity,
		ColorHistogram:   make([]float32, HistogramLength),
		LocalDescriptors: make([]float32, DescriptorLength),
		Width:            int32(width),
		Height:           int32(height),
	}
}

// Validate rejects vectors whose buffers do not match the fixed shapes.
// Nothing is padded or truncated.
func (f *FeatureVector) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil feature vector", ErrInvalidFeatureShape)
	}
	if len(f.ColorHistogram) != HistogramLength {
		return fmt.Errorf("%w: %s: histogram length %d, want %d",
			ErrInvalidFeatureShape, f.Identity, len(f.ColorHistogram), HistogramLength)
	}
	if len(f.LocalDescriptors) != DescriptorLength {
		return fmt.Errorf("%w: %s: descriptor length %d, want %d",
			ErrInvalidFeatureShape, f.Identity, len(f.LocalDescriptors), DescriptorLength)
	}
	for i, v := range f.ColorHistogram {
		if v < 0 {
			return fmt.Errorf("%w: %s: negative histogram count at bin %d",
				ErrInvalidFeatureShape, f.Identity, i)
		}
	}
	return nil
}

// Slot returns the descriptor values of one slot
func (f *FeatureVector) Slot(i int) []float32 {
	return f.LocalDescriptors[i*DescriptorSize : (i+1)*DescriptorSize]
}

// SlotValid reports whether a keypoint was detected for the slot
func (f *FeatureVector) SlotValid(i int) bool {
	for _, v := range f.Slot(i) {
		if v != 0 {
			return true
		}
	}
	return false
}

// ValidSlots counts the slots holding a descriptor
func (f *FeatureVector) ValidSlots() int {
	n := 0
	for i := 0; i < DescriptorSlots; i++ {
		if f.SlotValid(i) {
			n++
		}
	}
	return n
}

// Fusion weights for the three similarity signals
const (
	WeightHistogram   = 0.3
	WeightDescriptor  = 0.5
	WeightFingerprint = 0.2
)

// PairScores holds the per-signal and fused similarity of two images
type PairScores struct {
	Histogram   float64 `json:"histogram"`
	Descriptor  float64 `json:"descriptor"`
	Fingerprint float64 `json:"fingerprint"`
	Fused       float64 `json:"fused"`
}

// Fuse combines the three signals with the fixed weights
func Fuse(histogram, descriptor, fingerprint float64) float64 {
	return WeightHistogram*histogram + WeightDescriptor*descriptor + WeightFingerprint*fingerprint
}

// SimilarityMatrix is a symmetric NxN matrix of fused scores.
// It is never mutated after construction.
type SimilarityMatrix struct {
	n      int
	values []float32
}

// NewSimilarityMatrix takes ownership of a row-major n*n value slice
func NewSimilarityMatrix(n int, values []float32) (*SimilarityMatrix, error) {
	if n < 0 || len(values) != n*n {
		return nil, fmt.Errorf("%w: matrix of size %d has %d values", ErrInvalidFeatureShape, n, len(values))
	}
	return &SimilarityMatrix{n: n, values: values}, nil
}

// Size returns N
func (m *SimilarityMatrix) Size() int {
	return m.n
}

// At returns the score of the pair (i, j)
func (m *SimilarityMatrix) At(i, j int) float32 {
	return m.values[i*m.n+j]
}

// Row returns a copy of row i
func (m *SimilarityMatrix) Row(i int) []float32 {
	row := make([]float32, m.n)
	copy(row, m.values[i*m.n:(i+1)*m.n])
	return row
}

// BatchComplexityReport summarises an image set for scheduling estimates only
type BatchComplexityReport struct {
	TotalCount          int           `json:"total_count"`
	ImageCount          int           `json:"image_count"`
	RawCount            int           `json:"raw_count"`
	VideoCount          int           `json:"video_count"`
	LivePhotoCount      int           `json:"live_photo_count"`
	TotalPixels         int64         `json:"total_pixels"`
	AveragePixels       float64       `json:"average_pixels"`
	HighResolutionCount int           `json:"high_resolution_count"`
	ComplexityScore     float64       `json:"complexity_score"`
	EstimatedDuration   time.Duration `json:"estimated_duration"`
}

// ScanProgress is the progress part of a result snapshot
type ScanProgress struct {
	Total        int `json:"total"`
	Processed    int `json:"processed"`
	BatchIndex   int `json:"batch_index"`
	TotalBatches int `json:"total_batches"`
	GroupsFound  int `json:"groups_found"`
}

// SimilarityResult is the immutable snapshot emitted after each batch
type SimilarityResult struct {
	ScanID     string       `json:"scan_id"`
	Groups     [][]Asset    `json:"similar_groups"`
	Progress   ScanProgress `json:"progress"`
	IsComplete bool         `json:"is_complete"`
}
