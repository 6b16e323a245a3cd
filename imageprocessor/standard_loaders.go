package imageprocessor

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"simfinder/logging"
)

// StandardImageLoader handles common image formats like JPEG, PNG, etc.
type StandardImageLoader struct {
	BaseImageLoader
}

// NewStandardImageLoader creates a new loader for standard image formats
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatJPEG,
				FormatPNG,
				FormatGIF,
				FormatBMP,
				FormatWEBP,
				FormatTIFF,
				FormatHEIC,
			},
		},
	}
}

// LoadImage tries OpenCV first and falls back to the Go decoders, which
// cover GIF and the TIFF/WebP variants OpenCV builds often lack.
func (l *StandardImageLoader) LoadImage(ctx context.Context, path string) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.NewMat(), err
	}

	img, err := l.DefaultLoadImage(path)
	if err == nil {
		return img, nil
	}

	logging.DebugLog("opencv decode failed, trying go decoders", "path", path)
	return GoImageLoader{}.LoadImage(ctx, path)
}

// GoImageLoader decodes with image.Decode and the golang.org/x/image formats
type GoImageLoader struct{}

// CanLoad reports whether a Go decoder recognizes the file header
func (GoImageLoader) CanLoad(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _, err = image.DecodeConfig(f)
	return err == nil
}

// LoadImage decodes the file and copies it into a BGR Mat
func (GoImageLoader) LoadImage(ctx context.Context, path string) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.NewMat(), err
	}

	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", newImageLoadError("go decoders could not decode", path), err)
	}
	logging.DebugLog("decoded with go image package", "path", path, "format", format)
	return MatFromImage(img)
}

// MatFromImage converts a Go image into an 8-bit BGR Mat
func MatFromImage(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return gocv.NewMat(), fmt.Errorf("empty image %dx%d", width, height)
	}

	data := make([]byte, 0, width*height*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data = append(data, byte(b>>8), byte(g>>8), byte(r>>8))
		}
	}
	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, data)
}
