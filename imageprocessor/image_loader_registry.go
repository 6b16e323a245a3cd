package imageprocessor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"simfinder/logging"
)

// ImageLoaderRegistry maps file extensions to loaders
type ImageLoaderRegistry struct {
	loaders       map[string]ImageLoader
	defaultLoader ImageLoader
	mutex         sync.RWMutex
}

// NewImageLoaderRegistry creates a registry with the standard and RAW loaders
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	registry := &ImageLoaderRegistry{
		loaders: make(map[string]ImageLoader),
	}

	standardLoader := NewStandardImageLoader()
	rawLoader := NewRawImageLoader()
	for ext := range formatExtensions {
		if IsRawFormat(ext) {
			registry.RegisterLoader(ext, rawLoader)
		} else {
			registry.RegisterLoader(ext, standardLoader)
		}
	}
	registry.defaultLoader = standardLoader

	return registry
}

// RegisterLoader registers a loader for a file extension
func (r *ImageLoaderRegistry) RegisterLoader(ext string, loader ImageLoader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.loaders[strings.ToLower(ext)] = loader
}

// GetLoader returns the loader for path, or the default loader
func (r *ImageLoaderRegistry) GetLoader(path string) ImageLoader {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if loader, ok := r.loaders[strings.ToLower(filepath.Ext(path))]; ok {
		return loader
	}
	return r.defaultLoader
}

// CanLoadFile checks if a loader is registered for the file's extension
func (r *ImageLoaderRegistry) CanLoadFile(path string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadImage loads path with its registered loader
func (r *ImageLoaderRegistry) LoadImage(ctx context.Context, path string) (gocv.Mat, error) {
	if !hasFileContent(path) {
		return gocv.NewMat(), newImageLoadError("missing or empty file", path)
	}

	loader := r.GetLoader(path)
	img, err := loader.LoadImage(ctx, path)
	if err != nil {
		logging.LogWarning("image load failed", "path", path, "error", err)
		return img, err
	}
	return img, nil
}
