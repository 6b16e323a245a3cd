package imageprocessor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"gocv.io/x/gocv"

	"simfinder/logging"
)

// RawImageLoader handles RAW camera formats through their embedded preview.
// A preview is plenty for a 512px thumbnail and avoids a full demosaic.
type RawImageLoader struct {
	BaseImageLoader
	exiftool string
	dcraw    string
}

// NewRawImageLoader creates a new loader for RAW files, locating exiftool and dcraw on PATH
func NewRawImageLoader() *RawImageLoader {
	l := &RawImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatRAW,
				FormatCR2,
				FormatCR3,
				FormatNEF,
				FormatARW,
				FormatDNG,
			},
		},
	}
	if p, err := exec.LookPath("exiftool"); err == nil {
		l.exiftool = p
	}
	if p, err := exec.LookPath("dcraw"); err == nil {
		l.dcraw = p
	}
	return l
}

// LoadImage extracts the largest embedded preview, then falls back to dcraw
func (l *RawImageLoader) LoadImage(ctx context.Context, path string) (gocv.Mat, error) {
	var attempts [][]string
	if l.exiftool != "" {
		for _, tag := range []string{"-JpgFromRaw", "-LargestImagePreview", "-PreviewImage", "-ThumbnailImage"} {
			attempts = append(attempts, []string{l.exiftool, "-b", tag, path})
		}
	}
	if l.dcraw != "" {
		attempts = append(attempts,
			[]string{l.dcraw, "-e", "-c", path},
			[]string{l.dcraw, "-c", "-w", "-h", path},
		)
	}

	for _, args := range attempts {
		if err := ctx.Err(); err != nil {
			return gocv.NewMat(), err
		}
		data, err := runCapture(ctx, args)
		if err != nil || len(data) == 0 {
			logging.DebugLog("raw preview attempt failed", "path", path, "tool", args[0], "arg", args[len(args)-2], "error", err)
			continue
		}
		img, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil {
			continue
		}
		if !img.Empty() {
			return img, nil
		}
		img.Close()
	}

	// some DNGs are plain TIFF containers OpenCV can read directly
	img, err := l.DefaultLoadImage(path)
	if err == nil {
		return img, nil
	}
	if l.exiftool == "" && l.dcraw == "" {
		return gocv.NewMat(), newImageLoadError("neither exiftool nor dcraw available for RAW", path)
	}
	return gocv.NewMat(), newImageLoadError("no decodable preview in RAW file", path)
}

func runCapture(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%v: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
