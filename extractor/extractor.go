// Package extractor turns image handles into feature vectors. Cached
// vectors are returned directly; misses are loaded, uploaded to the compute
// device and run through the histogram, descriptor and fingerprint kernels.
package extractor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"simfinder/compute"
	"simfinder/featurecache"
	"simfinder/kernels"
	"simfinder/logging"
	"simfinder/types"
)

// DefaultMaxInFlight bounds how many images are on the device at once
const DefaultMaxInFlight = 4

// Extraction stages reported in ExtractionError
const (
	StageLoad        = "load"
	StageTexture     = "texture"
	StageHistogram   = "histogram"
	StageDescriptors = "descriptors"
	StageFingerprint = "fingerprint"
	StageValidate    = "validate"
)

// PixelLoader supplies decoded RGBA pixels for an image handle
type PixelLoader interface {
	LoadPixels(ctx context.Context, asset types.Asset) (*types.Pixels, error)
}

// Options tunes the extractor. Zero values select defaults.
type Options struct {
	MaxInFlight int
	Workers     int
}

// Stats holds extractor counters
type Stats struct {
	Extracted    uint64 `json:"extracted"`
	CacheHits    uint64 `json:"cache_hits"`
	Failures     uint64 `json:"failures"`
	PeakInFlight int64  `json:"peak_in_flight"`
}

// Extractor produces feature vectors on a compute device
type Extractor struct {
	device *compute.Device
	loader PixelLoader
	cache  *featurecache.Cache
	tokens *semaphore.Weighted

	workers int

	extracted atomic.Uint64
	hits      atomic.Uint64
	failures  atomic.Uint64
	inFlight  atomic.Int64
	peak      atomic.Int64
}

// New compiles the kernel library on the device and returns an extractor.
// A nil cache gets a default-sized one.
func New(device *compute.Device, loader PixelLoader, cache *featurecache.Cache, opts Options) (*Extractor, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: no device", types.ErrDeviceUnavailable)
	}
	if loader == nil {
		return nil, fmt.Errorf("extractor needs a pixel loader")
	}
	if err := device.Compile(kernels.Library()); err != nil {
		return nil, err
	}

	if cache == nil {
		var err error
		cache, err = featurecache.New(featurecache.Options{})
		if err != nil {
			return nil, err
		}
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	return &Extractor{
		device:  device,
		loader:  loader,
		cache:   cache,
		tokens:  semaphore.NewWeighted(int64(opts.MaxInFlight)),
		workers: opts.Workers,
	}, nil
}

// Cache returns the cache the extractor reads and fills
func (e *Extractor) Cache() *featurecache.Cache {
	return e.cache
}

// Extract returns one feature vector per asset, in input order. The first
// failing image fails the whole call.
func (e *Extractor) Extract(ctx context.Context, assets []types.Asset) ([]*types.FeatureVector, error) {
	out := make([]*types.FeatureVector, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, asset := range assets {
		g.Go(func() error {
			f, err := e.extract(gctx, asset)
			if err != nil {
				return err
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractOne extracts a single asset
func (e *Extractor) ExtractOne(ctx context.Context, asset types.Asset) (*types.FeatureVector, error) {
	return e.extract(ctx, asset)
}

// Stats returns a snapshot of the counters
func (e *Extractor) Stats() Stats {
	return Stats{
		Extracted:    e.extracted.Load(),
		CacheHits:    e.hits.Load(),
		Failures:     e.failures.Load(),
		PeakInFlight: e.peak.Load(),
	}
}

func (e *Extractor) extract(ctx context.Context, asset types.Asset) (*types.FeatureVector, error) {
	if f, ok := e.cache.Get(asset.ID); ok {
		e.hits.Add(1)
		return f, nil
	}

	// Acquire a device token
	if err := e.tokens.Acquire(ctx, 1); err != nil {
		return nil, &types.ExtractionError{Identity: asset.ID, Stage: StageLoad, Err: err}
	}
	e.trackInFlight(e.inFlight.Add(1))

	f, err := e.run(ctx, asset)

	e.inFlight.Add(-1)
	e.tokens.Release(1)

	if err != nil {
		e.failures.Add(1)
		logging.LogImageProcessed(asset.Path, false, err.Error())
		return nil, err
	}

	if err := e.cache.Put(f); err != nil {
		logging.LogWarning("feature vector not cached", "identity", asset.ID, "error", err)
	}
	e.extracted.Add(1)
	logging.LogImageProcessed(asset.Path, true, "")
	return f, nil
}

// run loads one image and executes the kernel sequence on it
func (e *Extractor) run(ctx context.Context, asset types.Asset) (*types.FeatureVector, error) {
	fail := func(stage string, err error) (*types.FeatureVector, error) {
		return nil, &types.ExtractionError{Identity: asset.ID, Stage: stage, Err: err}
	}

	pixels, err := e.loader.LoadPixels(ctx, asset)
	if err != nil {
		return fail(StageLoad, err)
	}
	if pixels == nil {
		return fail(StageLoad, fmt.Errorf("loader returned no pixels"))
	}

	tex, err := e.device.NewTexture(pixels.RGBA, pixels.Width, pixels.Height)
	if err != nil {
		return fail(StageTexture, err)
	}

	// Record source dimensions when the handle knows them
	width, height := asset.Width, asset.Height
	if width <= 0 || height <= 0 {
		width, height = pixels.Width, pixels.Height
	}
	f := types.NewFeatureVector(asset.ID, width, height)

	if err := kernels.Histogram(ctx, e.device, tex, f.ColorHistogram); err != nil {
		return fail(StageHistogram, err)
	}
	if err := kernels.Descriptors(ctx, e.device, tex, f.LocalDescriptors); err != nil {
		return fail(StageDescriptors, err)
	}
	hash, err := kernels.Fingerprint(ctx, e.device, tex)
	if err != nil {
		return fail(StageFingerprint, err)
	}
	f.PerceptualFingerprint = hash

	if err := f.Validate(); err != nil {
		return fail(StageValidate, err)
	}
	return f, nil
}

func (e *Extractor) trackInFlight(n int64) {
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}
