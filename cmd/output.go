package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"simfinder/types"
)

// writeResult prints a similarity snapshot as text or indented JSON
func writeResult(out io.Writer, res types.SimilarityResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if len(res.Groups) == 0 {
		fmt.Fprintln(out, "No similar images found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d groups of similar images:\n", len(res.Groups))
	for i, group := range res.Groups {
		fmt.Fprintf(out, "\nGroup %d (%d images):\n", i+1, len(group))
		for _, a := range group {
			fmt.Fprintf(out, "  %s", a.Path)
			if a.Width > 0 && a.Height > 0 {
				fmt.Fprintf(out, " (%dx%d", a.Width, a.Height)
				if a.Kind != types.MediaImage {
					fmt.Fprintf(out, ", %s", a.Kind)
				}
				fmt.Fprint(out, ")")
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}

// writeScores prints the per-signal breakdown of one comparison
func writeScores(out io.Writer, a, b string, s types.PairScores, threshold float64) {
	fmt.Fprintf(out, "%s\n%s\n\n", a, b)
	fmt.Fprintf(out, "  colour histogram: %.4f\n", s.Histogram)
	fmt.Fprintf(out, "  local features:   %.4f\n", s.Descriptor)
	fmt.Fprintf(out, "  fingerprint:      %.4f\n", s.Fingerprint)
	fmt.Fprintf(out, "  fused:            %.4f\n", s.Fused)
	verdict := "different"
	if s.Fused >= threshold {
		verdict = "similar"
	}
	fmt.Fprintf(out, "\nVerdict: %s (threshold %.2f)\n", verdict, threshold)
}
