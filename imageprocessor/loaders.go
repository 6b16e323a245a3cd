package imageprocessor

import (
	"context"
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// ImageLoader decodes one file into a BGR (or grayscale) Mat owned by the caller
type ImageLoader interface {
	// CanLoad determines if this loader can handle the given file
	CanLoad(path string) bool

	// LoadImage decodes the file; the caller must Close the returned Mat
	LoadImage(ctx context.Context, path string) (gocv.Mat, error)
}

// BaseImageLoader provides common functionality for all image loaders
type BaseImageLoader struct {
	SupportedFormats []FormatType
}

// CanLoad checks if this loader supports the file's format
func (l *BaseImageLoader) CanLoad(path string) bool {
	format := GetFileFormat(path)
	for _, supported := range l.SupportedFormats {
		if format == supported {
			return fileExists(path)
		}
	}
	return false
}

// DefaultLoadImage reads the file with OpenCV in colour
func (l *BaseImageLoader) DefaultLoadImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), newImageLoadError("opencv could not decode", path)
	}
	return img, nil
}

// ImageLoadError is returned when no decoder could read a file
type ImageLoadError struct {
	Path    string
	Message string
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Path)
}

func newImageLoadError(message, path string) error {
	return &ImageLoadError{Path: path, Message: message}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func hasFileContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
