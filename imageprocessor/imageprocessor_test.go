package imageprocessor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"simfinder/types"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestFormatDetection(t *testing.T) {
	assert.True(t, IsImageFile("/a/b/IMG_001.JPG"))
	assert.True(t, IsImageFile("x.cr3"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("clip.mov"))

	assert.Equal(t, FormatJPEG, GetFileFormat("a.jpeg"))
	assert.Equal(t, FormatTIFF, GetFileFormat("a.TIF"))
	assert.Equal(t, FormatUnknown, GetFileFormat("a"))

	assert.True(t, IsRawFormat("a.NEF"))
	assert.True(t, IsRawFormat("a.raf"))
	assert.False(t, IsRawFormat("a.png"))

	exts := GetSupportedExtensions()
	assert.True(t, sort.StringsAreSorted(exts))
	assert.Contains(t, exts, ".webp")
}

func TestMediaKindFor(t *testing.T) {
	siblings := map[string]bool{"/p/img_0001.mov": true}
	assert.Equal(t, types.MediaRaw, MediaKindFor("/p/a.dng", siblings))
	assert.Equal(t, types.MediaLivePhoto, MediaKindFor("/p/IMG_0001.HEIC", siblings))
	assert.Equal(t, types.MediaImage, MediaKindFor("/p/IMG_0002.HEIC", siblings))
	assert.Equal(t, types.MediaImage, MediaKindFor("/p/a.jpg", nil))
}

func TestRegistryRoutesByExtension(t *testing.T) {
	r := NewImageLoaderRegistry()
	assert.IsType(t, &RawImageLoader{}, r.GetLoader("/p/a.CR2"))
	assert.IsType(t, &StandardImageLoader{}, r.GetLoader("/p/a.png"))
	assert.IsType(t, &StandardImageLoader{}, r.GetLoader("/p/a.xyz"))
	assert.True(t, r.CanLoadFile("a.tiff"))
	assert.False(t, r.CanLoadFile("a.xyz"))

	r.RegisterLoader(".XYZ", GoImageLoader{})
	assert.IsType(t, GoImageLoader{}, r.GetLoader("/p/a.xyz"))
}

func TestProbeDimensions(t *testing.T) {
	path := writePNG(t, t.TempDir(), "probe.png", solid(40, 30, color.RGBA{1, 2, 3, 255}))
	w, h, err := ProbeDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)

	_, _, err = ProbeDimensions(filepath.Join(t.TempDir(), "absent.png"))
	assert.Error(t, err)
}

func TestFileLoaderDownscales(t *testing.T) {
	path := writePNG(t, t.TempDir(), "wide.png", solid(1024, 512, color.RGBA{255, 0, 0, 255}))
	loader := NewFileLoader(128)

	pix, err := loader.LoadPixels(context.Background(), types.Asset{ID: "wide", Path: path})
	require.NoError(t, err)
	assert.Equal(t, 128, pix.Width)
	assert.Equal(t, 64, pix.Height)
	require.Len(t, pix.RGBA, 128*64*4)
	assert.Equal(t, []byte{255, 0, 0, 255}, pix.RGBA[:4])
}

func TestFileLoaderKeepsSmallImages(t *testing.T) {
	path := writePNG(t, t.TempDir(), "small.png", solid(20, 10, color.RGBA{10, 20, 30, 255}))

	pix, err := NewFileLoader(0).LoadPixels(context.Background(), types.Asset{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 20, pix.Width)
	assert.Equal(t, 10, pix.Height)
	assert.Equal(t, []byte{10, 20, 30, 255}, pix.RGBA[:4])
}

func TestFileLoaderErrors(t *testing.T) {
	loader := NewFileLoader(64)

	_, err := loader.LoadPixels(context.Background(), types.Asset{Path: filepath.Join(t.TempDir(), "none.jpg")})
	var loadErr *ImageLoadError
	require.True(t, errors.As(err, &loadErr))

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a png"), 0o644))
	_, err = loader.LoadPixels(context.Background(), types.Asset{Path: garbage})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.LoadPixels(ctx, types.Asset{Path: garbage})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGoImageLoaderDecodesTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.tiff")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, solid(12, 9, color.RGBA{0, 200, 0, 255}), nil))
	require.NoError(t, f.Close())

	loader := GoImageLoader{}
	assert.True(t, loader.CanLoad(path))

	img, err := loader.LoadImage(context.Background(), path)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, 12, img.Cols())
	assert.Equal(t, 9, img.Rows())

	pix, err := Thumbnail(img, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 200, 0, 255}, pix.RGBA[:4])
}

func TestMatFromImageRejectsEmpty(t *testing.T) {
	_, err := MatFromImage(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)
}
