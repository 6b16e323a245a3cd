package scanner

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
)

// Metadata is what the catalog keeps from a file's EXIF block
type Metadata struct {
	CapturedAt *time.Time
	Width      int
	Height     int
}

// MetadataReader extracts capture metadata from files
type MetadataReader interface {
	ReadMetadata(path string) (Metadata, error)
}

// ExifReader reads metadata through a long-lived exiftool process
type ExifReader struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

// NewExifReader starts exiftool. It fails when the binary is not installed.
func NewExifReader() (*ExifReader, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("cannot start exiftool: %w", err)
	}
	return &ExifReader{et: et}, nil
}

// ReadMetadata returns capture time and pixel size when present
func (r *ExifReader) ReadMetadata(path string) (Metadata, error) {
	r.mu.Lock()
	results := r.et.ExtractMetadata(path)
	r.mu.Unlock()

	if len(results) == 0 {
		return Metadata{}, fmt.Errorf("exiftool returned nothing for %s", path)
	}
	fm := results[0]
	if fm.Err != nil {
		return Metadata{}, fm.Err
	}

	var md Metadata
	for _, key := range []string{"DateTimeOriginal", "CreateDate", "MediaCreateDate"} {
		s, err := fm.GetString(key)
		if err != nil {
			continue
		}
		if t, ok := ParseExifTime(s); ok {
			md.CapturedAt = &t
			break
		}
	}

	for _, keys := range [][2]string{{"ImageWidth", "ImageHeight"}, {"ExifImageWidth", "ExifImageHeight"}} {
		w, errW := fm.GetInt(keys[0])
		h, errH := fm.GetInt(keys[1])
		if errW == nil && errH == nil && w > 0 && h > 0 {
			md.Width, md.Height = int(w), int(h)
			break
		}
	}
	return md, nil
}

// Close stops the exiftool process
func (r *ExifReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.et.Close()
}

var exifLayouts = []string{
	"2006:01:02 15:04:05.999999999-07:00",
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05.999999999",
	"2006:01:02 15:04:05",
}

// ParseExifTime parses EXIF timestamps ("2023:07:14 09:30:00", optionally
// with sub-seconds or a zone). Zero dates written by some cameras are rejected.
func ParseExifTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000:00:00") {
		return time.Time{}, false
	}
	for _, layout := range exifLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
