package cmd

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simfinder/config"
	"simfinder/types"
)

func TestCommandDefinitions(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"scan", "dupes", "compare", "search", "cache-info"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	pflags := rootCmd.PersistentFlags()
	for _, name := range []string{"config", "database", "debug", "logfile"} {
		assert.NotNil(t, pflags.Lookup(name), name)
	}

	for _, name := range []string{"prefix", "threshold", "incremental", "watch", "backend", "json"} {
		assert.NotNil(t, dupesCmd.Flags().Lookup(name), name)
	}
	assert.NotNil(t, scanCmd.Flags().Lookup("folder"))
	assert.Error(t, compareCmd.Args(compareCmd, []string{"only-one"}))
}

func TestApplyGlobalFlags(t *testing.T) {
	c := &cobra.Command{Use: "x"}
	c.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, c.Flags().Parse([]string{"--database", "/tmp/x.db", "--debug"}))

	cfg := config.Default()
	cfg.LogFile = "from-config.log"
	applyGlobalFlags(c, cfg)
	assert.Equal(t, "/tmp/x.db", cfg.Database)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "from-config.log", cfg.LogFile)
}

func TestThresholdFlagDefaultsToSimilarityThreshold(t *testing.T) {
	saved := settings
	t.Cleanup(func() { settings = saved })
	settings = config.Default()

	var value string
	c := &cobra.Command{Use: "x"}
	c.Flags().StringVar(&value, "threshold", "", "")

	assert.Equal(t, 0.75, thresholdFlag(c, "threshold", value))

	settings.Engine.SimilarityThreshold = 0.6
	assert.Equal(t, 0.6, thresholdFlag(c, "threshold", value))

	require.NoError(t, c.Flags().Parse([]string{"--threshold", "0.9"}))
	assert.Equal(t, 0.9, thresholdFlag(c, "threshold", value))
}

func TestDupesRejectsZeroThreshold(t *testing.T) {
	t.Cleanup(func() {
		dupesThreshold = ""
		dupesCmd.Flags().Lookup("threshold").Changed = false
	})
	work := t.TempDir()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"dupes", "--threshold", "0",
		"--config", filepath.Join(work, "absent.yaml"),
		"--database", filepath.Join(work, "catalog.db"),
		"--logfile", filepath.Join(work, "simfinder.log"),
	})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "greater than 0")
}

func TestWriteResultText(t *testing.T) {
	var buf bytes.Buffer
	res := types.SimilarityResult{Groups: [][]types.Asset{{
		{ID: "a", Path: "/p/a.jpg", Width: 4000, Height: 3000},
		{ID: "b", Path: "/p/b.nef", Width: 6000, Height: 4000, Kind: types.MediaRaw},
	}}}
	require.NoError(t, writeResult(&buf, res, false))
	out := buf.String()
	assert.Contains(t, out, "Found 1 groups")
	assert.Contains(t, out, "/p/a.jpg (4000x3000)")
	assert.Contains(t, out, "/p/b.nef (6000x4000, raw)")

	buf.Reset()
	require.NoError(t, writeResult(&buf, types.SimilarityResult{IsComplete: true}, false))
	assert.Contains(t, buf.String(), "No similar images found.")
}

func TestWriteResultJSON(t *testing.T) {
	var buf bytes.Buffer
	res := types.SimilarityResult{ScanID: "s1", IsComplete: true, Groups: [][]types.Asset{{{ID: "a", Path: "/a"}}}}
	require.NoError(t, writeResult(&buf, res, true))

	var decoded types.SimilarityResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "s1", decoded.ScanID)
	assert.True(t, decoded.IsComplete)
	require.Len(t, decoded.Groups, 1)
}

func TestSourcePrefix(t *testing.T) {
	p, ok := sourcePrefix(types.Asset{ID: "card1:/p/a.jpg", Path: "/p/a.jpg"})
	assert.True(t, ok)
	assert.Equal(t, "card1", p)

	_, ok = sourcePrefix(types.Asset{ID: "/p/a.jpg", Path: "/p/a.jpg"})
	assert.False(t, ok)
}

func checkerPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if (x/8+y/8)%2 == 1 {
				c = color.RGBA{128, 0, 0, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	savePNG(t, path, img)
}

func noisePNG(t *testing.T, path string, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	savePNG(t, path, img)
}

func savePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestScanDupesCompareEndToEnd(t *testing.T) {
	work := t.TempDir()
	photos := filepath.Join(work, "photos")
	require.NoError(t, os.MkdirAll(photos, 0o755))
	checkerPNG(t, filepath.Join(photos, "a.png"))
	checkerPNG(t, filepath.Join(photos, "b.png"))
	noisePNG(t, filepath.Join(photos, "c.png"), 7)

	global := []string{
		"--config", filepath.Join(work, "absent.yaml"),
		"--database", filepath.Join(work, "catalog.db"),
		"--logfile", filepath.Join(work, "simfinder.log"),
	}

	out := execute(t, append([]string{"scan", "--folder", photos}, global...)...)
	assert.Contains(t, out, "Catalogued images: 3")

	out = execute(t, append([]string{"dupes", "--json", "--threshold", "0.8", "--backend", "cpu"}, global...)...)
	var res types.SimilarityResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.True(t, res.IsComplete)
	require.Len(t, res.Groups, 1)
	require.Len(t, res.Groups[0], 2)
	paths := []string{filepath.Base(res.Groups[0][0].Path), filepath.Base(res.Groups[0][1].Path)}
	assert.ElementsMatch(t, []string{"a.png", "b.png"}, paths)

	out = execute(t, append([]string{"compare", filepath.Join(photos, "a.png"), filepath.Join(photos, "b.png")}, global...)...)
	assert.Contains(t, out, "Verdict: similar")
	assert.Contains(t, out, "(threshold 0.75)")

	tuned := filepath.Join(work, "tuned.yaml")
	require.NoError(t, os.WriteFile(tuned, []byte("engine:\n  similarity_threshold: 0.99\n"), 0o644))
	out = execute(t, "compare", filepath.Join(photos, "a.png"), filepath.Join(photos, "c.png"),
		"--config", tuned, "--database", filepath.Join(work, "catalog.db"), "--logfile", filepath.Join(work, "simfinder.log"))
	assert.Contains(t, out, "(threshold 0.99)")

	out = execute(t, append([]string{"compare", filepath.Join(photos, "a.png"), filepath.Join(photos, "c.png")}, global...)...)
	assert.Contains(t, out, "Verdict: different")

	out = execute(t, append([]string{"search", "--image", filepath.Join(photos, "a.png"), "--threshold", "0.8"}, global...)...)
	assert.True(t, strings.Contains(out, "b.png"), out)
	assert.False(t, strings.Contains(out, "c.png"), out)

	out = execute(t, append([]string{"cache-info"}, global...)...)
	assert.Contains(t, out, "Similarity backend:")
	assert.Contains(t, out, "images: 3")
}
