package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"simfinder/database"
	"simfinder/utils"
)

var cacheInfoPrefix string

var cacheInfoCmd = &cobra.Command{
	Use:   "cache-info",
	Short: "Show the effective configuration, compute device and catalog",
	RunE:  runCacheInfo,
}

func init() {
	cacheInfoCmd.Flags().StringVar(&cacheInfoPrefix, "prefix", "", "limit catalog statistics to a source prefix")
	rootCmd.AddCommand(cacheInfoCmd)
}

func runCacheInfo(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Configuration (%s):\n%s\n", configPath, data)

	eng, device, err := newEngine("")
	if err != nil {
		return err
	}
	defer device.Close()

	mem := device.Memory()
	fmt.Fprintf(out, "Device: %s (%s tier, %d workers)\n", device.Name(), device.Tier(), device.Workers())
	fmt.Fprintf(out, "Memory: %s available of %s\n", utils.FormatBytes(int64(mem.Available)), utils.FormatBytes(int64(mem.Total)))
	fmt.Fprintf(out, "Similarity backend: %s\n", eng.Backend())
	stats := eng.CacheStats()
	fmt.Fprintf(out, "Feature cache: up to %d entries, %s\n\n", settings.Engine.CacheMaxEntries, utils.FormatBytes(stats.MaxBytes))

	if _, err := os.Stat(settings.Database); err != nil {
		fmt.Fprintf(out, "Catalog: %s (not created yet)\n", settings.Database)
		return nil
	}
	db, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog, err := database.GetScanStats(db, cacheInfoPrefix)
	if err != nil {
		return err
	}
	assets, err := database.ListAssets(db, cacheInfoPrefix)
	if err != nil {
		return err
	}
	report := eng.Analyze(assets)

	fmt.Fprintf(out, "Catalog: %s\n", settings.Database)
	fmt.Fprintf(out, "  images: %d (%d RAW, %d live photos, %d high resolution)\n",
		catalog.TotalAssets, report.RawCount, report.LivePhotoCount, report.HighResolutionCount)
	fmt.Fprintf(out, "  already compared: %d\n", catalog.ComparedAssets)
	fmt.Fprintf(out, "  estimated full comparison: %v\n", report.EstimatedDuration.Round(time.Second))
	return nil
}
