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
	"simfinder/logging"
	"simfinder/scanner"
	"simfinder/signalhandler"
)

var (
	scanFolder  string
	scanPrefix  string
	scanForce   bool
	scanPrune   bool
	scanWorkers int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Catalog the images of a folder",
	Long: `Walk a folder tree and record every supported image (JPEG, PNG, TIFF,
WebP, HEIC and camera RAW) in the catalog. Unchanged files are skipped
unless --force is given.`,
	Example: `  simfinder scan --folder /mnt/card --prefix card1
  simfinder scan --folder ~/Pictures --force --prune`,
	RunE: runScan,
}

func init() {
	flags := scanCmd.Flags()
	flags.StringVar(&scanFolder, "folder", "", "folder to scan (required)")
	flags.StringVar(&scanPrefix, "prefix", "", "source prefix distinguishing libraries or drives")
	flags.BoolVar(&scanForce, "force", false, "re-index files even when unchanged")
	flags.BoolVar(&scanPrune, "prune", false, "remove catalog entries whose file is gone")
	flags.IntVar(&scanWorkers, "workers", 0, "concurrent file probes (default: 3/4 of the CPUs)")
	_ = scanCmd.MarkFlagRequired("folder")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	info, err := os.Stat(scanFolder)
	if err != nil {
		return fmt.Errorf("cannot access folder %s: %w", scanFolder, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", scanFolder)
	}

	db, err := openCatalog(true)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stop := signalhandler.SetupHandler(func(os.Signal) { cancel() })
	defer stop()

	out := cmd.OutOrStdout()
	start := time.Now()
	summary, err := indexFolder(ctx, db, scanFolder, scanPrefix, scanForce, out)
	if err != nil {
		return fmt.Errorf("error scanning folder: %w", err)
	}

	if scanPrune {
		removed, err := database.RemoveMissing(db, scanPrefix)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d missing files from the catalog.\n", removed)
	}

	fmt.Fprintf(out, "\nScan completed in %v.\nDatabase: %s\n", time.Since(start).Round(time.Millisecond), settings.Database)
	if stats, err := database.GetScanStats(db, scanPrefix); err == nil {
		fmt.Fprintf(out, "\nSummary:\n")
		fmt.Fprintf(out, "- Catalogued images: %d\n", stats.TotalAssets)
		fmt.Fprintf(out, "- RAW images: %d\n", stats.RawAssets)
		fmt.Fprintf(out, "- Already compared: %d\n", stats.ComparedAssets)
		fmt.Fprintf(out, "- Errors this run: %d\n", summary.Errors)
	}
	return nil
}

// indexFolder runs the scanner with exiftool metadata when available
func indexFolder(ctx context.Context, db *sql.DB, folder, prefix string, force bool, out io.Writer) (scanner.ScanSummary, error) {
	opts := scanner.ScanOptions{
		FolderPath:   folder,
		SourcePrefix: prefix,
		ForceRewrite: force,
		DebugMode:    settings.Debug,
		MaxWorkers:   scanWorkers,
		Output:       out,
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = signalhandler.GetOptimalProcs()
	}

	exif, err := scanner.NewExifReader()
	if err != nil {
		logging.LogWarning("capture times unavailable", "error", err)
		fmt.Fprintln(out, "Warning: exiftool not found, capture times will not be recorded.")
	} else {
		defer exif.Close()
		opts.Metadata = exif
	}

	return scanner.ScanAndStoreFolder(ctx, db, opts)
}
