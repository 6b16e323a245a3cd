package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"simfinder/imageprocessor"
	"simfinder/logging"
)

// folderContents is the result of one walk over the scan root
type folderContents struct {
	images []string
	movies map[string]bool // lowercased .mov paths, for live photo pairing
	stats  FileStats
}

// collectFiles walks root and classifies every supported image
func collectFiles(root string) (folderContents, error) {
	contents := folderContents{movies: make(map[string]bool)}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logging.LogWarning("cannot access path", "path", path, "error", err)
			return nil
		}
		if info.IsDir() {
			if path != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.EqualFold(filepath.Ext(path), ".mov") {
			contents.movies[strings.ToLower(path)] = true
			return nil
		}
		if !imageprocessor.IsImageFile(path) {
			return nil
		}

		contents.images = append(contents.images, path)
		contents.stats.totalFiles++
		if imageprocessor.IsRawFormat(path) {
			contents.stats.rawFiles++
		}
		if imageprocessor.GetFileFormat(path) == imageprocessor.FormatTIFF {
			contents.stats.tifFiles++
		}
		return nil
	})
	return contents, err
}

// formatName returns the lowercase extension without the dot
func formatName(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
