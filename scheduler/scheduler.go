// Package scheduler splits an image set into batches sized for the device,
// and carries the cancellation and library-change flags of a scan.
package scheduler

import (
	"sort"
	"sync/atomic"
	"time"

	"simfinder/compute"
	"simfinder/types"
)

// Sizing defaults. These are tunable policy, not measured limits.
const (
	DefaultBatchSize            = 50
	DefaultIncrementalThreshold = 500
	MaxBatchSize                = 500
	PerImageMemoryBudget        = 10 << 20
	HighTierBatchCap            = 100
	LowTierBatchCap             = 50
	LargeLibraryBatchCap        = 30
	IncrementalSliceCount       = 20
	PerImageOverhead            = 1 << 20
	BytesPerPixel               = 4

	smallLibrary  = 100
	mediumLibrary = 1000

	highResolutionPixels = 12_000_000
	perScoreDuration     = 50 * time.Millisecond
)

// DeviceProbe reports the signals batch sizing depends on
type DeviceProbe interface {
	Memory() compute.MemoryInfo
	Tier() compute.Tier
}

// Scheduler builds batches and holds per-scan flags
type Scheduler struct {
	probe          DeviceProbe
	cancelled      atomic.Bool
	libraryChanged atomic.Bool
}

// New creates a scheduler sized from probe
func New(probe DeviceProbe) *Scheduler {
	return &Scheduler{probe: probe}
}

// Cancel asks the running scan to stop at the next batch boundary
func (s *Scheduler) Cancel() {
	s.cancelled.Store(true)
}

// IsCancelled reports whether Cancel was called since the last Reset
func (s *Scheduler) IsCancelled() bool {
	return s.cancelled.Load()
}

// Reset clears the cancellation flag
func (s *Scheduler) Reset() {
	s.cancelled.Store(false)
}

// MarkLibraryChanged records that the image library was modified outside the engine
func (s *Scheduler) MarkLibraryChanged() {
	s.libraryChanged.Store(true)
}

// ConsumeLibraryChange returns and clears the library-change flag
func (s *Scheduler) ConsumeLibraryChange() bool {
	return s.libraryChanged.Swap(false)
}

// OptimalBatchSize picks a batch size from device memory, device tier and
// the size of the library
func (s *Scheduler) OptimalBatchSize(total int) int {
	size := int(s.probe.Memory().Available / PerImageMemoryBudget)

	tierCap := LowTierBatchCap
	if s.probe.Tier() == compute.TierHigh {
		tierCap = HighTierBatchCap
	}
	size = min(size, tierCap)

	switch {
	case total < smallLibrary:
		size = min(size, total)
	case total < mediumLibrary:
		size = min(size, DefaultBatchSize)
	default:
		size = min(size, LargeLibraryBatchCap)
	}

	return clampBatchSize(size)
}

// MakeBatches partitions assets in order. A threshold <= 0 selects the default.
func (s *Scheduler) MakeBatches(assets []types.Asset, incrementalThreshold int) [][]types.Asset {
	total := len(assets)
	if total == 0 {
		return nil
	}
	if incrementalThreshold <= 0 {
		incrementalThreshold = DefaultIncrementalThreshold
	}

	if total <= DefaultBatchSize {
		return chunk(assets, total)
	}

	var size int
	if total > incrementalThreshold {
		// Large sets get small batches for frequent progress
		size = min(incrementalThreshold/10, DefaultBatchSize)
	} else {
		size = s.OptimalBatchSize(total)
	}
	return chunk(assets, clampBatchSize(size))
}

// MakeIncrementalBatches skips already processed identities. Large
// remainders are ordered by capture time and cut into about twenty slices.
func (s *Scheduler) MakeIncrementalBatches(assets []types.Asset, processed map[string]bool, incrementalThreshold int) [][]types.Asset {
	if incrementalThreshold <= 0 {
		incrementalThreshold = DefaultIncrementalThreshold
	}

	remaining := make([]types.Asset, 0, len(assets))
	for _, a := range assets {
		if !processed[a.ID] {
			remaining = append(remaining, a)
		}
	}

	if len(remaining) <= incrementalThreshold {
		return s.MakeBatches(remaining, incrementalThreshold)
	}

	sort.SliceStable(remaining, func(i, j int) bool {
		return capturedBefore(remaining[i], remaining[j])
	})
	size := (len(remaining) + IncrementalSliceCount - 1) / IncrementalSliceCount
	return chunk(remaining, clampBatchSize(size))
}

// capturedBefore orders by timestamp; a missing timestamp is never less than another
func capturedBefore(a, b types.Asset) bool {
	if a.CapturedAt == nil {
		return false
	}
	if b.CapturedAt == nil {
		return true
	}
	return a.CapturedAt.Before(*b.CapturedAt)
}

// EstimateMemory approximates the bytes needed to process one asset
func EstimateMemory(a types.Asset) int64 {
	return a.PixelCount()*BytesPerPixel + PerImageOverhead
}

// SplitByMemory re-splits any batch whose estimate exceeds budget, packing
// greedily. A single asset over budget gets a batch of its own.
func (s *Scheduler) SplitByMemory(batches [][]types.Asset, budget int64) [][]types.Asset {
	if budget <= 0 {
		return batches
	}

	var out [][]types.Asset
	for _, batch := range batches {
		var total int64
		for _, a := range batch {
			total += EstimateMemory(a)
		}
		if total <= budget {
			out = append(out, batch)
			continue
		}

		var current []types.Asset
		var used int64
		for _, a := range batch {
			need := EstimateMemory(a)
			if len(current) > 0 && used+need > budget {
				out = append(out, current)
				current, used = nil, 0
			}
			current = append(current, a)
			used += need
		}
		if len(current) > 0 {
			out = append(out, current)
		}
	}
	return out
}

// Analyze summarises an image set for duration estimates
func (s *Scheduler) Analyze(assets []types.Asset) types.BatchComplexityReport {
	var r types.BatchComplexityReport
	r.TotalCount = len(assets)

	for _, a := range assets {
		switch a.Kind {
		case types.MediaRaw:
			r.RawCount++
		case types.MediaVideo:
			r.VideoCount++
		case types.MediaLivePhoto:
			r.LivePhotoCount++
		default:
			r.ImageCount++
		}
		pixels := a.PixelCount()
		r.TotalPixels += pixels
		if pixels >= highResolutionPixels {
			r.HighResolutionCount++
		}
	}

	if r.TotalCount > 0 {
		r.AveragePixels = float64(r.TotalPixels) / float64(r.TotalCount)
	}
	r.ComplexityScore = float64(r.TotalCount) +
		r.AveragePixels/1_000_000*10 +
		float64(r.HighResolutionCount)*2 +
		float64(r.VideoCount)*5
	r.EstimatedDuration = time.Duration(r.ComplexityScore * float64(perScoreDuration))
	return r
}

func clampBatchSize(size int) int {
	if size > MaxBatchSize {
		return MaxBatchSize
	}
	if size < 1 {
		return 1
	}
	return size
}

// chunk cuts assets into fresh slices of at most size elements
func chunk(assets []types.Asset, size int) [][]types.Asset {
	batches := make([][]types.Asset, 0, (len(assets)+size-1)/size)
	for start := 0; start < len(assets); start += size {
		end := min(start+size, len(assets))
		batch := make([]types.Asset, end-start)
		copy(batch, assets[start:end])
		batches = append(batches, batch)
	}
	return batches
}
