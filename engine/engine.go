// Package engine runs similarity scans: it batches the image set, extracts
// and compares features batch by batch, and streams cumulative groups to the
// caller. An Engine runs at most one scan at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"simfinder/compute"
	"simfinder/extractor"
	"simfinder/featurecache"
	"simfinder/logging"
	"simfinder/scheduler"
	"simfinder/similarity"
	"simfinder/types"
)

// DefaultGroupingThreshold is the fused score that puts two images in one group
const DefaultGroupingThreshold = 0.8

// Dependencies are the collaborators an engine is built from
type Dependencies struct {
	Device *compute.Device
	Loader extractor.PixelLoader
}

// Options tunes an engine. Zero values select defaults.
type Options struct {
	GroupingThreshold    float64
	IncrementalThreshold int
	MaxInFlight          int
	Workers              int
	CacheMaxEntries      int
	CacheMaxBytes        int64
	BatchMemoryBudget    int64
	ForceCPU             bool
}

// Engine owns the cache, extractor, similarity engine and scheduler of one
// isolated instance
type Engine struct {
	opts       Options
	cache      *featurecache.Cache
	extractor  *extractor.Extractor
	similarity *similarity.Engine
	scheduler  *scheduler.Scheduler
	tracer     trace.Tracer

	mu      sync.Mutex
	current *Scan
}

// New builds an engine. It fails with ErrDeviceUnavailable when there is
// no device or its kernels do not compile.
func New(deps Dependencies, opts Options) (*Engine, error) {
	if deps.Device == nil {
		return nil, fmt.Errorf("%w: no compute device", types.ErrDeviceUnavailable)
	}
	if opts.GroupingThreshold <= 0 {
		opts.GroupingThreshold = DefaultGroupingThreshold
	}
	if opts.IncrementalThreshold <= 0 {
		opts.IncrementalThreshold = scheduler.DefaultIncrementalThreshold
	}

	cache, err := featurecache.New(featurecache.Options{
		MaxEntries: opts.CacheMaxEntries,
		MaxBytes:   opts.CacheMaxBytes,
	})
	if err != nil {
		return nil, err
	}

	ext, err := extractor.New(deps.Device, deps.Loader, cache, extractor.Options{
		MaxInFlight: opts.MaxInFlight,
		Workers:     opts.Workers,
	})
	if err != nil {
		return nil, err
	}

	var backend similarity.Backend
	if !opts.ForceCPU {
		backend = similarity.NewDeviceBackend(deps.Device)
	}
	sim, err := similarity.NewEngine(backend, similarity.Options{})
	if err != nil {
		return nil, err
	}

	logging.LogInfo("engine ready",
		"device", deps.Device.Name(),
		"tier", deps.Device.Tier().String(),
		"backend", sim.Backend())

	return &Engine{
		opts:       opts,
		cache:      cache,
		extractor:  ext,
		similarity: sim,
		scheduler:  scheduler.New(deps.Device),
		tracer:     otel.Tracer("simfinder/engine"),
	}, nil
}

// Start scans assets. It returns ErrAlreadyRunning while another scan runs.
// Cancelling ctx cancels the scan.
func (e *Engine) Start(ctx context.Context, assets []types.Asset) (*Scan, error) {
	return e.start(ctx, func() [][]types.Asset {
		return e.scheduler.MakeBatches(assets, e.opts.IncrementalThreshold)
	})
}

// StartIncremental scans only the assets whose identity is not in processed
func (e *Engine) StartIncremental(ctx context.Context, assets []types.Asset, processed map[string]bool) (*Scan, error) {
	return e.start(ctx, func() [][]types.Asset {
		return e.scheduler.MakeIncrementalBatches(assets, processed, e.opts.IncrementalThreshold)
	})
}

func (e *Engine) start(ctx context.Context, plan func() [][]types.Asset) (*Scan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		return nil, types.ErrAlreadyRunning
	}

	if e.scheduler.ConsumeLibraryChange() {
		logging.LogInfo("library changed, clearing feature cache")
		e.clearCaches()
	}
	e.scheduler.Reset()

	batches := e.scheduler.SplitByMemory(plan(), e.opts.BatchMemoryBudget)
	scan := newScan(uuid.NewString(), len(batches))
	e.current = scan

	go e.run(ctx, scan, batches)
	return scan, nil
}

// Cancel stops the running scan at the next batch boundary
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.scheduler.Cancel()
	}
}

// IsRunning reports whether a scan is in progress
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// State returns Running while a scan is in progress and Idle otherwise
func (e *Engine) State() State {
	if e.IsRunning() {
		return StateRunning
	}
	return StateIdle
}

// ClearCache drops every cached feature vector and memoized pair score
func (e *Engine) ClearCache() {
	e.clearCaches()
}

func (e *Engine) clearCaches() {
	e.cache.Clear()
	e.similarity.ClearMemo()
}

// LibraryChanged schedules a cache clear before the next scan
func (e *Engine) LibraryChanged() {
	e.scheduler.MarkLibraryChanged()
}

// CacheStats returns the feature cache counters
func (e *Engine) CacheStats() featurecache.Stats {
	return e.cache.Stats()
}

// ExtractorStats returns the extractor counters
func (e *Engine) ExtractorStats() extractor.Stats {
	return e.extractor.Stats()
}

// Analyze returns the complexity report of an image set
func (e *Engine) Analyze(assets []types.Asset) types.BatchComplexityReport {
	return e.scheduler.Analyze(assets)
}

// Backend names the similarity backend in use
func (e *Engine) Backend() string {
	return e.similarity.Backend()
}

// Pairwise extracts two assets and scores them against each other
func (e *Engine) Pairwise(ctx context.Context, a, b types.Asset) (types.PairScores, error) {
	features, err := e.extractor.Extract(ctx, []types.Asset{a, b})
	if err != nil {
		return types.PairScores{}, err
	}
	return e.similarity.Pairwise(features[0], features[1])
}

// run drives the batch loop of one scan until it reaches a terminal state
func (e *Engine) run(ctx context.Context, scan *Scan, batches [][]types.Asset) {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	ctx, span := e.tracer.Start(ctx, "scan", trace.WithAttributes(
		attribute.String("scan.id", scan.id),
		attribute.Int("scan.images", total),
		attribute.Int("scan.batches", len(batches)),
	))
	defer span.End()

	startTime := time.Now()
	logging.LogInfo("scan started", "scan", scan.id, "images", total, "batches", len(batches))

	var groups [][]types.Asset
	processed := 0

	finish := func(state State, err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("scan.state", state.String()))

		// reset under the lock so a scan started right after cannot lose its Cancel
		e.mu.Lock()
		e.scheduler.Reset()
		e.current = nil
		e.mu.Unlock()

		scan.finish(state, err)
		close(scan.done)

		logging.LogInfo("scan finished",
			"scan", scan.id,
			"state", state.String(),
			"processed", processed,
			"groups", len(groups),
			"duration", time.Since(startTime).String())
		if err != nil {
			logging.LogError("scan failed", "scan", scan.id, "error", err)
		}
	}

	emit := func(batchIndex int, complete bool) {
		// fresh outer slice; inner groups are never modified after creation
		snapshotGroups := make([][]types.Asset, len(groups))
		copy(snapshotGroups, groups)

		snapshot := types.SimilarityResult{
			ScanID: scan.id,
			Groups: snapshotGroups,
			Progress: types.ScanProgress{
				Total:        total,
				Processed:    processed,
				BatchIndex:   batchIndex,
				TotalBatches: len(batches),
				GroupsFound:  len(groups),
			},
			IsComplete: complete,
		}
		scan.results <- snapshot
	}

	if len(batches) == 0 {
		emit(0, true)
		finish(StateCompleted, nil)
		return
	}

	for i, batch := range batches {
		if e.stopped(ctx) {
			finish(StateCancelled, nil)
			return
		}

		batchGroups, err := e.processBatch(ctx, i, batch)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				finish(StateCancelled, nil)
			} else {
				finish(StateFailed, err)
			}
			return
		}

		groups = append(groups, batchGroups...)
		processed += len(batch)

		// A cancel during the batch suppresses its snapshot
		if e.stopped(ctx) {
			finish(StateCancelled, nil)
			return
		}
		emit(i, i == len(batches)-1)
	}

	finish(StateCompleted, nil)
}

func (e *Engine) stopped(ctx context.Context) bool {
	return e.scheduler.IsCancelled() || ctx.Err() != nil
}

// processBatch extracts, compares and clusters one batch
func (e *Engine) processBatch(ctx context.Context, index int, batch []types.Asset) ([][]types.Asset, error) {
	ctx, span := e.tracer.Start(ctx, "batch", trace.WithAttributes(
		attribute.Int("batch.index", index),
		attribute.Int("batch.size", len(batch)),
	))
	defer span.End()

	fail := func(err error) ([][]types.Asset, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	features, err := e.extractor.Extract(ctx, batch)
	if err != nil {
		return fail(fmt.Errorf("batch %d: %w", index, err))
	}

	matrix, err := e.similarity.Similarities(ctx, features)
	if err != nil {
		return fail(fmt.Errorf("batch %d: %w", index, err))
	}

	clusters := similarity.Clusters(matrix, e.opts.GroupingThreshold)
	groups := make([][]types.Asset, 0, len(clusters))
	for _, members := range clusters {
		group := make([]types.Asset, len(members))
		for k, idx := range members {
			group[k] = batch[idx]
		}
		groups = append(groups, group)
	}

	span.SetAttributes(attribute.Int("batch.groups", len(groups)))
	logging.DebugLog("batch complete", "batch", index, "images", len(batch), "groups", len(groups))
	return groups, nil
}
