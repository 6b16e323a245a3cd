package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"simfinder/database"
	"simfinder/types"
	"simfinder/utils"
)

var (
	compareBackend   string
	compareThreshold string

	searchImage     string
	searchPrefix    string
	searchThreshold string
	searchLimit     int
)

var compareCmd = &cobra.Command{
	Use:   "compare <image> <image>",
	Short: "Score the similarity of two image files",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find catalogued images similar to a query image",
	Example: `  simfinder search --image query.jpg
  simfinder search --image query.jpg --threshold 0.7 --limit 10`,
	RunE: runSearch,
}

func init() {
	compareCmd.Flags().StringVar(&compareBackend, "backend", "", "similarity backend: auto or cpu")
	compareCmd.Flags().StringVar(&compareThreshold, "threshold", "", "threshold for the verdict (default from config)")
	rootCmd.AddCommand(compareCmd)

	flags := searchCmd.Flags()
	flags.StringVar(&searchImage, "image", "", "query image (required)")
	flags.StringVar(&searchPrefix, "prefix", "", "only search images of this source prefix")
	flags.StringVar(&searchThreshold, "threshold", "", "minimum fused score in [0,1] (default from config)")
	flags.IntVar(&searchLimit, "limit", 5, "maximum number of matches to print")
	_ = searchCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(searchCmd)
}

// thresholdFlag resolves a threshold flag against the configured similarity threshold
func thresholdFlag(cmd *cobra.Command, name, value string) float64 {
	if !cmd.Flags().Changed(name) {
		return settings.Engine.SimilarityThreshold
	}
	threshold, err := utils.ParseThreshold(value)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	return threshold
}

// fileAsset builds an uncatalogued asset handle for a path
func fileAsset(path string) (types.Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.Asset{}, err
	}
	if _, err := os.Stat(abs); err != nil {
		return types.Asset{}, fmt.Errorf("cannot access %s: %w", path, err)
	}
	return types.Asset{ID: abs, Path: abs}, nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	threshold := thresholdFlag(cmd, "threshold", compareThreshold)

	a, err := fileAsset(args[0])
	if err != nil {
		return err
	}
	b, err := fileAsset(args[1])
	if err != nil {
		return err
	}

	eng, device, err := newEngine(compareBackend)
	if err != nil {
		return err
	}
	defer device.Close()

	scores, err := eng.Pairwise(cmd.Context(), a, b)
	if err != nil {
		return err
	}
	writeScores(cmd.OutOrStdout(), a.Path, b.Path, scores, threshold)
	return nil
}

type match struct {
	asset  types.Asset
	scores types.PairScores
}

func runSearch(cmd *cobra.Command, _ []string) error {
	threshold := thresholdFlag(cmd, "threshold", searchThreshold)
	out := cmd.OutOrStdout()

	query, err := fileAsset(searchImage)
	if err != nil {
		return err
	}

	db, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer db.Close()

	assets, err := database.ListAssets(db, searchPrefix)
	if err != nil {
		return err
	}

	eng, device, err := newEngine("")
	if err != nil {
		return err
	}
	defer device.Close()

	fmt.Fprintf(out, "Searching %d images for matches of %s...\n", len(assets), query.Path)
	var matches []match
	for _, a := range assets {
		if a.Path == query.Path {
			continue
		}
		scores, err := eng.Pairwise(cmd.Context(), query, a)
		if err != nil {
			if cmd.Context().Err() != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: skipping %s: %v\n", a.Path, err)
			continue
		}
		if scores.Fused >= threshold {
			matches = append(matches, match{asset: a, scores: scores})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].scores.Fused > matches[j].scores.Fused
	})

	fmt.Fprintln(out, "\nTop Matches:")
	if len(matches) == 0 {
		fmt.Fprintln(out, "No matches found.")
		return nil
	}
	for i := 0; i < searchLimit && i < len(matches); i++ {
		m := matches[i]
		fmt.Fprintf(out, "%d. Image: %s\n", i+1, m.asset.Path)
		if prefix, ok := sourcePrefix(m.asset); ok {
			fmt.Fprintf(out, "   Source: %s\n", prefix)
		}
		fmt.Fprintf(out, "   Score: %.4f (histogram %.2f, features %.2f, fingerprint %.2f)\n",
			m.scores.Fused, m.scores.Histogram, m.scores.Descriptor, m.scores.Fingerprint)
	}
	return nil
}

// sourcePrefix recovers the source prefix from a catalog identity
func sourcePrefix(a types.Asset) (string, bool) {
	if a.ID == a.Path || len(a.ID) <= len(a.Path) {
		return "", false
	}
	return a.ID[:len(a.ID)-len(a.Path)-1], true
}
