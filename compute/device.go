// Package compute provides the data-parallel device the feature kernels run on.
// A Device executes a kernel function once per grid position on a fixed pool of
// worker goroutines. Dispatches are serialized through a single command queue and
// each call returns only after every thread has finished.
package compute

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"simfinder/logging"
	"simfinder/types"
)

// Tier is a coarse guess at how capable the device is
type Tier int

const (
	TierLow Tier = iota
	TierHigh
)

func (t Tier) String() string {
	if t == TierHigh {
		return "high"
	}
	return "low"
}

const (
	// DefaultMaxTextureBytes bounds a single texture allocation
	DefaultMaxTextureBytes = 256 << 20

	// ThreadgroupSize is the number of 1D threads a worker claims at a time
	ThreadgroupSize = 64

	highTierMemory  = 16 << 30
	highTierWorkers = 8
)

// MemoryInfo reports system memory in bytes
type MemoryInfo struct {
	Total     uint64
	Available uint64
}

// Options configures a Device. Zero values select defaults.
type Options struct {
	Name            string
	Workers         int
	MaxTextureBytes int64
	MemoryProbe     func() MemoryInfo
}

// Device is a grid executor with a serialized command queue
type Device struct {
	name            string
	workers         int
	maxTextureBytes int64
	memory          func() MemoryInfo

	queue      sync.Mutex
	closed     atomic.Bool
	dispatches atomic.Int64
}

// NewDevice creates a device backed by a pool of worker goroutines
func NewDevice(opts Options) (*Device, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers <= 0 {
		return nil, fmt.Errorf("%w: no workers available", types.ErrDeviceUnavailable)
	}

	maxTexture := opts.MaxTextureBytes
	if maxTexture <= 0 {
		maxTexture = DefaultMaxTextureBytes
	}

	probe := opts.MemoryProbe
	if probe == nil {
		probe = systemMemory
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("cpu-grid-%d", workers)
	}

	return &Device{
		name:            name,
		workers:         workers,
		maxTextureBytes: maxTexture,
		memory:          probe,
	}, nil
}

// Name identifies the device in logs
func (d *Device) Name() string {
	return d.name
}

// Workers returns the size of the worker pool
func (d *Device) Workers() int {
	return d.workers
}

// Memory returns the current memory snapshot
func (d *Device) Memory() MemoryInfo {
	return d.memory()
}

// Tier guesses the device class from memory size and parallelism
func (d *Device) Tier() Tier {
	if d.memory().Total >= highTierMemory && d.workers >= highTierWorkers {
		return TierHigh
	}
	return TierLow
}

// Dispatches returns how many kernels have been executed
func (d *Device) Dispatches() int64 {
	return d.dispatches.Load()
}

// Close makes every later dispatch fail with ErrDeviceUnavailable
func (d *Device) Close() {
	d.closed.Store(true)
}

// Available reports whether the device accepts work
func (d *Device) Available() bool {
	return !d.closed.Load()
}

// Compile runs the known-answer self test of every kernel in lib.
// A failing kernel makes the whole device unusable.
func (d *Device) Compile(lib map[string]func(*Device) error) error {
	if !d.Available() {
		return fmt.Errorf("%w: %s is closed", types.ErrDeviceUnavailable, d.name)
	}

	names := make([]string, 0, len(lib))
	for name := range lib {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := lib[name](d); err != nil {
			return fmt.Errorf("%w: kernel %s: %v", types.ErrDeviceUnavailable, name, err)
		}
		logging.DebugLog("kernel compiled", "device", d.name, "kernel", name)
	}
	return nil
}

// Dispatch2D runs fn for every (x, y) in a width x height grid
func (d *Device) Dispatch2D(ctx context.Context, label string, width, height int, fn func(x, y int)) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	return d.run(ctx, label, height, func(row int) {
		for x := 0; x < width; x++ {
			fn(x, row)
		}
	}, 1)
}

// Dispatch1D runs fn for every index in [0, n)
func (d *Device) Dispatch1D(ctx context.Context, label string, n int, fn func(i int)) error {
	if n <= 0 {
		return nil
	}
	return d.run(ctx, label, n, fn, ThreadgroupSize)
}

// run hands out work items in chunks of group to the worker pool and waits
func (d *Device) run(ctx context.Context, label string, items int, fn func(i int), group int) error {
	if !d.Available() {
		return fmt.Errorf("%w: %s is closed", types.ErrDeviceUnavailable, d.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.queue.Lock()
	defer d.queue.Unlock()
	d.dispatches.Add(1)

	workers := d.workers
	if chunks := (items + group - 1) / group; chunks < workers {
		workers = chunks
	}

	var (
		next     atomic.Int64
		wg       sync.WaitGroup
		panicMu  sync.Mutex
		panicErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicMu.Lock()
					if panicErr == nil {
						panicErr = fmt.Errorf("kernel %s panicked: %v", label, r)
					}
					panicMu.Unlock()
				}
			}()

			for {
				start := int(next.Add(int64(group))) - group
				if start >= items {
					return
				}
				end := start + group
				if end > items {
					end = items
				}
				for i := start; i < end; i++ {
					fn(i)
				}
			}
		}()
	}
	wg.Wait()

	return panicErr
}
