// Package scanner indexes a folder tree into the asset catalog and watches it for changes
package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"simfinder/database"
	"simfinder/imageprocessor"
	"simfinder/logging"
)

// ScanAndStoreFolder walks options.FolderPath and catalogs every image.
// Unchanged files are skipped unless ForceRewrite is set. Per-file failures
// are counted in the summary; only walk and context errors are returned.
func ScanAndStoreFolder(ctx context.Context, db *sql.DB, options ScanOptions) (ScanSummary, error) {
	startTime := time.Now()

	contents, err := collectFiles(options.FolderPath)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("cannot walk %s: %w", options.FolderPath, err)
	}
	PrintStartupInfo(contents.stats, options)

	workers := options.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	sem := semaphore.NewWeighted(int64(workers))
	resultsChan := make(chan ProcessImageResult, 100)
	tracker := NewProgressTracker(contents.stats, resultsChan, options.Output)

	var wg sync.WaitGroup
	var runErr error
	for _, path := range contents.images {
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			break
		}
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			defer sem.Release(1)
			resultsChan <- processAndStoreImage(db, p, contents.movies, options)
		}(path)
	}

	wg.Wait()
	close(resultsChan)
	tracker.Stop()

	summary := tracker.Summary()
	summary.Elapsed = time.Since(startTime)
	PrintCompletionStats(summary, options)
	return summary, runErr
}

// processAndStoreImage probes a single image and stores it in the catalog
func processAndStoreImage(db *sql.DB, path string, movies map[string]bool, options ScanOptions) ProcessImageResult {
	result := ProcessImageResult{
		Path:  path,
		IsRaw: imageprocessor.IsRawFormat(path),
		IsTif: imageprocessor.GetFileFormat(path) == imageprocessor.FormatTIFF,
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Errorf("cannot stat file %s: %w", path, err)
		return result
	}

	if !options.ForceRewrite {
		if skip := checkAndSkipIfUnchanged(db, path, fileInfo, options); skip != nil {
			skip.IsRaw, skip.IsTif = result.IsRaw, result.IsTif
			return *skip
		}
	}

	rec := database.AssetRecord{
		Path:         path,
		SourcePrefix: options.SourcePrefix,
		Format:       formatName(path),
		Kind:         imageprocessor.MediaKindFor(path, movies),
		ModifiedAt:   fileInfo.ModTime().UTC().Format(time.RFC3339),
		Size:         fileInfo.Size(),
	}

	if options.Metadata != nil {
		md, err := options.Metadata.ReadMetadata(path)
		if err != nil {
			logging.DebugLog("no metadata", "path", path, "error", err)
		} else {
			rec.CapturedAt = md.CapturedAt
			// the embedded preview of a RAW file is smaller than the sensor image
			if result.IsRaw {
				rec.Width, rec.Height = md.Width, md.Height
			}
		}
	}

	if rec.Width == 0 || rec.Height == 0 {
		w, h, err := imageprocessor.ProbeDimensions(path)
		if err != nil {
			result.Error = fmt.Errorf("cannot read dimensions of %s: %w", path, err)
			return result
		}
		rec.Width, rec.Height = w, h
	}

	if err := database.StoreAsset(db, rec, options.ForceRewrite); err != nil {
		result.Error = err
		return result
	}

	logging.DebugLog("indexed image", "path", path, "kind", rec.Kind.String(), "width", rec.Width, "height", rec.Height)
	result.Success = true
	return result
}
