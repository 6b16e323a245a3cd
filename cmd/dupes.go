package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"simfinder/database"
	"simfinder/engine"
	"simfinder/logging"
	"simfinder/scanner"
	"simfinder/signalhandler"
	"simfinder/types"
	"simfinder/utils"
)

var (
	dupesPrefix      string
	dupesThreshold   string
	dupesIncremental bool
	dupesReset       bool
	dupesWatch       string
	dupesBackend     string
	dupesJSON        bool
)

var dupesCmd = &cobra.Command{
	Use:   "dupes",
	Short: "Group near-duplicate images of the catalog",
	Long: `Extract visual features for every catalogued image and group images
whose fused similarity reaches the threshold. Results are printed as each
batch completes. Ctrl-C stops after the current batch and prints the
groups found so far.

With --incremental only images not included in an earlier completed run are
compared. With --watch the folder is re-indexed and compared again whenever
images in it change.`,
	Example: `  simfinder dupes --prefix laptop
  simfinder dupes --threshold 0.9 --json
  simfinder dupes --incremental --watch ~/Pictures`,
	RunE: runDupes,
}

func init() {
	flags := dupesCmd.Flags()
	flags.StringVar(&dupesPrefix, "prefix", "", "only compare images of this source prefix")
	flags.StringVar(&dupesThreshold, "threshold", "", "grouping threshold in [0,1] (default from config)")
	flags.BoolVar(&dupesIncremental, "incremental", false, "skip images already compared in a completed run")
	flags.BoolVar(&dupesReset, "reset", false, "forget which images were compared before")
	flags.StringVar(&dupesWatch, "watch", "", "keep running and re-check when images in this folder change")
	flags.StringVar(&dupesBackend, "backend", "", "similarity backend: auto or cpu (default from config)")
	flags.BoolVar(&dupesJSON, "json", false, "print the final snapshot as JSON")
	rootCmd.AddCommand(dupesCmd)
}

func runDupes(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if cmd.Flags().Changed("threshold") {
		threshold, err := utils.ParseThreshold(dupesThreshold)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
		// zero would group every pair
		if threshold <= 0 {
			return fmt.Errorf("grouping threshold must be greater than 0, got %s", dupesThreshold)
		}
		settings.Engine.GroupingThreshold = threshold
	}

	db, err := openCatalog(dupesWatch != "")
	if err != nil {
		return err
	}
	defer db.Close()

	if dupesReset {
		if err := database.ResetCompared(db, dupesPrefix); err != nil {
			return err
		}
	}

	eng, device, err := newEngine(dupesBackend)
	if err != nil {
		return err
	}
	defer device.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stop := signalhandler.SetupHandler(func(os.Signal) {
		eng.Cancel()
		cancel()
	})
	defer stop()

	if err := findDuplicates(ctx, out, db, eng); err != nil {
		return err
	}
	if dupesWatch == "" || ctx.Err() != nil {
		return nil
	}
	return watchLibrary(ctx, out, db, eng)
}

// findDuplicates runs one scan over the catalog and prints its final snapshot
func findDuplicates(ctx context.Context, out io.Writer, db *sql.DB, eng *engine.Engine) error {
	assets, err := database.ListAssets(db, dupesPrefix)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		fmt.Fprintln(out, "No images catalogued. Run scan first.")
		return nil
	}

	report := eng.Analyze(assets)
	if !dupesJSON {
		fmt.Fprintf(out, "Comparing %d images (%d RAW) on %s, estimated %v\n",
			report.TotalCount, report.RawCount, eng.Backend(), report.EstimatedDuration.Round(time.Second))
	}

	var scan *engine.Scan
	if dupesIncremental {
		compared, err := database.ComparedIdentities(db, dupesPrefix)
		if err != nil {
			return err
		}
		scan, err = eng.StartIncremental(ctx, assets, compared)
		if err != nil {
			return err
		}
	} else {
		scan, err = eng.Start(ctx, assets)
		if err != nil {
			return err
		}
	}

	var last types.SimilarityResult
	for res := range scan.Results() {
		last = res
		if !dupesJSON {
			fmt.Fprintf(out, "\rBatch %d/%d: %d/%d images, %d groups",
				res.Progress.BatchIndex+1, res.Progress.TotalBatches,
				res.Progress.Processed, res.Progress.Total, res.Progress.GroupsFound)
		}
	}
	if !dupesJSON {
		fmt.Fprintln(out)
	}

	state, err := scan.Wait()
	switch state {
	case engine.StateFailed:
		return fmt.Errorf("scan failed: %w", err)
	case engine.StateCancelled:
		fmt.Fprintln(out, "Scan cancelled, showing partial results.")
	case engine.StateCompleted:
		ids := make([]string, len(assets))
		for i, a := range assets {
			ids[i] = a.ID
		}
		if err := database.MarkCompared(db, ids); err != nil {
			logging.LogWarning("cannot record compared images", "error", err)
		}
	}

	return writeResult(out, last, dupesJSON)
}

// watchLibrary re-indexes and re-compares after every burst of changes
func watchLibrary(ctx context.Context, out io.Writer, db *sql.DB, eng *engine.Engine) error {
	changed := make(chan []string, 1)
	w, err := scanner.NewWatcher(dupesWatch, scanner.DefaultDebounce, func(paths []string) {
		select {
		case changed <- paths:
		default:
			// a rescan is already pending and will pick these up
		}
	})
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", dupesWatch, err)
	}
	defer w.Close()

	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			logging.LogError("watcher stopped", "error", err)
		}
	}()

	fmt.Fprintf(out, "Watching %s for changes (Ctrl-C to stop)...\n", dupesWatch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case paths := <-changed:
			fmt.Fprintf(out, "\n%d images changed, re-indexing...\n", len(paths))
			if _, err := indexFolder(ctx, db, dupesWatch, dupesPrefix, false, io.Discard); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if _, err := database.RemoveMissing(db, dupesPrefix); err != nil {
				return err
			}
			eng.LibraryChanged()
			if err := findDuplicates(ctx, out, db, eng); err != nil {
				return err
			}
		}
	}
}
