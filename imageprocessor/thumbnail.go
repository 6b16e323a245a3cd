package imageprocessor

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"simfinder/types"
)

// DefaultThumbnailSize bounds the longest side of a decoded thumbnail
const DefaultThumbnailSize = 512

// Thumbnail downsizes src so its longest side is at most maxSide and returns
// RGBA8 pixels. maxSide <= 0 keeps the original size.
func Thumbnail(src gocv.Mat, maxSide int) (*types.Pixels, error) {
	if src.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	w, h := src.Cols(), src.Rows()
	scaled := src
	if longest := max(w, h); maxSide > 0 && longest > maxSide {
		scale := float64(maxSide) / float64(longest)
		size := image.Pt(
			max(1, int(math.Round(float64(w)*scale))),
			max(1, int(math.Round(float64(h)*scale))),
		)
		dst := gocv.NewMat()
		defer dst.Close()
		gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationArea)
		if dst.Empty() {
			return nil, fmt.Errorf("resize to %dx%d failed", size.X, size.Y)
		}
		scaled = dst
	}

	var code gocv.ColorConversionCode
	switch scaled.Channels() {
	case 1:
		code = gocv.ColorGrayToRGBA
	case 3:
		code = gocv.ColorBGRToRGBA
	case 4:
		code = gocv.ColorBGRAToRGBA
	default:
		return nil, fmt.Errorf("unsupported channel count %d", scaled.Channels())
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(scaled, &rgba, code)

	pix := &types.Pixels{Width: rgba.Cols(), Height: rgba.Rows(), RGBA: rgba.ToBytes()}
	if len(pix.RGBA) != pix.Width*pix.Height*4 {
		return nil, fmt.Errorf("unexpected pixel buffer %d bytes for %dx%d", len(pix.RGBA), pix.Width, pix.Height)
	}
	return pix, nil
}

// FileLoader reads assets from disk as RGBA thumbnails
type FileLoader struct {
	registry      *ImageLoaderRegistry
	thumbnailSize int
}

// NewFileLoader returns a loader producing thumbnails of at most thumbnailSize
// pixels on the longest side. Zero selects DefaultThumbnailSize.
func NewFileLoader(thumbnailSize int) *FileLoader {
	if thumbnailSize <= 0 {
		thumbnailSize = DefaultThumbnailSize
	}
	return &FileLoader{
		registry:      NewImageLoaderRegistry(),
		thumbnailSize: thumbnailSize,
	}
}

// Registry exposes the loader registry for custom registrations
func (l *FileLoader) Registry() *ImageLoaderRegistry {
	return l.registry
}

// LoadPixels decodes asset.Path into an RGBA thumbnail
func (l *FileLoader) LoadPixels(ctx context.Context, asset types.Asset) (*types.Pixels, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := l.registry.LoadImage(ctx, asset.Path)
	if err != nil {
		img.Close()
		return nil, err
	}
	defer img.Close()

	pix, err := Thumbnail(img, l.thumbnailSize)
	if err != nil {
		return nil, fmt.Errorf("thumbnail %s: %w", asset.Path, err)
	}
	return pix, nil
}

var probeRegistry = sync.OnceValue(NewImageLoaderRegistry)

// ProbeDimensions returns the pixel size of an image without a full decode
// when a Go decoder understands the header, otherwise by decoding it.
func ProbeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	if err == nil {
		return cfg.Width, cfg.Height, nil
	}

	img, err := probeRegistry().LoadImage(context.Background(), path)
	defer img.Close()
	if err != nil {
		return 0, 0, err
	}
	return img.Cols(), img.Rows(), nil
}
