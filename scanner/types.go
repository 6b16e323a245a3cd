package scanner

import (
	"io"
	"sync"
	"time"
)

// ScanOptions defines the options for scanning
type ScanOptions struct {
	FolderPath   string
	SourcePrefix string
	ForceRewrite bool
	DebugMode    bool
	MaxWorkers   int       // zero selects DefaultMaxWorkers
	Output       io.Writer // progress lines; nil discards them
	Metadata     MetadataReader
}

// DefaultMaxWorkers bounds concurrent file probes
const DefaultMaxWorkers = 8

// ProcessImageResult holds the result of processing an image
type ProcessImageResult struct {
	Path    string
	Success bool
	Skipped bool
	Error   error
	IsRaw   bool
	IsTif   bool
}

// FileStats tracks information about files to be processed
type FileStats struct {
	totalFiles int
	rawFiles   int
	tifFiles   int
}

// ScanSummary reports the outcome of ScanAndStoreFolder
type ScanSummary struct {
	Total     int
	Processed int
	Skipped   int
	Errors    int
	RawFiles  int
	RawErrors int
	TifFiles  int
	Elapsed   time.Duration
}

// ProgressTracker tracks progress of the scan operation
type ProgressTracker struct {
	processed    int
	skipped      int
	errors       int
	rawProcessed int
	rawErrors    int
	tifProcessed int
	tifErrors    int
	ticker       *time.Ticker
	done         chan struct{}
	drained      chan struct{}
	out          io.Writer
	mu           sync.Mutex
	totalFiles   int
	rawFiles     int
	tifFiles     int
}
