package scanner

import (
	"fmt"
	"io"
	"time"

	"simfinder/logging"
)

// NewProgressTracker starts consuming results and printing progress to out
func NewProgressTracker(stats FileStats, resultsChan <-chan ProcessImageResult, out io.Writer) *ProgressTracker {
	if out == nil {
		out = io.Discard
	}
	tracker := &ProgressTracker{
		ticker:     time.NewTicker(500 * time.Millisecond),
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
		out:        out,
		totalFiles: stats.totalFiles,
		rawFiles:   stats.rawFiles,
		tifFiles:   stats.tifFiles,
	}

	go tracker.displayProgress()
	go tracker.processResults(resultsChan)

	return tracker
}

func (p *ProgressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			if p.errors > 0 {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (Errors: %d, RAW: %d/%d, TIF: %d/%d)",
					p.processed, p.totalFiles, p.errors, p.rawProcessed, p.rawFiles, p.tifProcessed, p.tifFiles)
			} else {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (RAW: %d/%d, TIF: %d/%d)",
					p.processed, p.totalFiles, p.rawProcessed, p.rawFiles, p.tifProcessed, p.tifFiles)
			}
			p.mu.Unlock()
		}
	}
}

func (p *ProgressTracker) processResults(resultsChan <-chan ProcessImageResult) {
	defer close(p.drained)
	for result := range resultsChan {
		p.mu.Lock()
		p.processed++
		if result.Skipped {
			p.skipped++
		}
		if result.IsRaw {
			p.rawProcessed++
		}
		if result.IsTif {
			p.tifProcessed++
		}

		if !result.Success {
			p.errors++
			if result.IsRaw {
				p.rawErrors++
			}
			if result.IsTif {
				p.tifErrors++
			}
			if result.Error != nil {
				logging.LogImageProcessed(result.Path, false, result.Error.Error())
			}
		} else if !result.Skipped {
			logging.LogImageProcessed(result.Path, true, "")
		}
		p.mu.Unlock()
	}
}

// Stop waits for the results channel to drain, then ends progress output.
// The results channel must be closed first.
func (p *ProgressTracker) Stop() {
	<-p.drained
	p.ticker.Stop()
	close(p.done)
}

// Summary snapshots the counters
func (p *ProgressTracker) Summary() ScanSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ScanSummary{
		Total:     p.totalFiles,
		Processed: p.processed,
		Skipped:   p.skipped,
		Errors:    p.errors,
		RawFiles:  p.rawFiles,
		RawErrors: p.rawErrors,
		TifFiles:  p.tifFiles,
	}
}

// PrintStartupInfo displays information about the scan before starting
func PrintStartupInfo(stats FileStats, options ScanOptions) {
	out := options.Output
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "Starting image indexing...\nTotal image files to process: %d (including %d RAW files and %d TIF files)\n",
		stats.totalFiles, stats.rawFiles, stats.tifFiles)
	fmt.Fprintf(out, "Force rewrite mode: %v\n", options.ForceRewrite)

	if options.SourcePrefix != "" {
		fmt.Fprintf(out, "Source prefix: %s\n", options.SourcePrefix)
	}

	logging.DebugLog("scan starting",
		"folder", options.FolderPath, "files", stats.totalFiles, "raw", stats.rawFiles, "tif", stats.tifFiles)
}

// PrintCompletionStats displays statistics after scan completion
func PrintCompletionStats(summary ScanSummary, options ScanOptions) {
	logging.LogInfo("scan completed",
		"elapsed", summary.Elapsed, "processed", summary.Processed, "skipped", summary.Skipped,
		"errors", summary.Errors, "raw_errors", summary.RawErrors)

	out := options.Output
	if out == nil {
		return
	}

	fmt.Fprintln(out, "\nIndexing complete.")
	fmt.Fprintf(out, "Processed %d images in %v (%d unchanged).\n",
		summary.Processed, summary.Elapsed.Round(time.Second), summary.Skipped)

	if summary.RawFiles > 0 {
		fmt.Fprintf(out, "Successfully processed %d/%d RAW image files.\n",
			summary.RawFiles-summary.RawErrors, summary.RawFiles)
	}

	if summary.Errors > 0 {
		fmt.Fprintf(out, "Encountered %d errors during indexing.\n", summary.Errors)
		fmt.Fprintln(out, "Check the log file for details.")
	}
}
