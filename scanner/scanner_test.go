package scanner

import (
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simfinder/database"
	"simfinder/types"
)

type fakeMetadata struct {
	mu    sync.Mutex
	byExt map[string]Metadata
	calls int
}

func (f *fakeMetadata) ReadMetadata(path string) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.byExt[filepath.Ext(path)], nil
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	img.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.InitDatabase(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func library(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 40, 30)
	writePNG(t, filepath.Join(dir, "sub", "b.png"), 16, 16)
	writePNG(t, filepath.Join(dir, "IMG_0001.png"), 8, 12)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IMG_0001.MOV"), []byte("mov"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	writePNG(t, filepath.Join(dir, ".thumbs", "c.png"), 4, 4)
	return dir
}

func TestScanAndStoreFolder(t *testing.T) {
	db := openDB(t)
	dir := library(t)
	captured := time.Date(2022, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := &fakeMetadata{byExt: map[string]Metadata{".png": {CapturedAt: &captured}}}

	summary, err := ScanAndStoreFolder(context.Background(), db, ScanOptions{FolderPath: dir, Metadata: meta})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.Errors)
	assert.Zero(t, summary.Skipped)

	assets, err := database.ListAssets(db, "")
	require.NoError(t, err)
	require.Len(t, assets, 3)

	byName := map[string]types.Asset{}
	for _, a := range assets {
		byName[filepath.Base(a.Path)] = a
	}
	assert.Equal(t, 40, byName["a.png"].Width)
	assert.Equal(t, 30, byName["a.png"].Height)
	assert.Equal(t, types.MediaImage, byName["a.png"].Kind)
	assert.Equal(t, types.MediaLivePhoto, byName["IMG_0001.png"].Kind)
	assert.Equal(t, 16, byName["b.png"].Width)
	require.NotNil(t, byName["b.png"].CapturedAt)
	assert.True(t, captured.Equal(*byName["b.png"].CapturedAt))
}

func TestRescanSkipsUnchangedFiles(t *testing.T) {
	db := openDB(t)
	dir := library(t)
	opts := ScanOptions{FolderPath: dir, MaxWorkers: 2}

	_, err := ScanAndStoreFolder(context.Background(), db, opts)
	require.NoError(t, err)

	summary, err := ScanAndStoreFolder(context.Background(), db, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.png"), future, future))
	summary, err = ScanAndStoreFolder(context.Background(), db, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)

	opts.ForceRewrite = true
	summary, err = ScanAndStoreFolder(context.Background(), db, opts)
	require.NoError(t, err)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, 3, summary.Processed)
}

func TestUndecodableFilesAreCountedNotStored(t *testing.T) {
	db := openDB(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "ok.png"), 10, 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0o644))

	summary, err := ScanAndStoreFolder(context.Background(), db, ScanOptions{FolderPath: dir})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)

	assets, err := database.ListAssets(db, "")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "ok.png", filepath.Base(assets[0].Path))
}

func TestRawDimensionsComeFromMetadata(t *testing.T) {
	db := openDB(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DSC_0001.NEF"), []byte("raw sensor data"), 0o644))
	meta := &fakeMetadata{byExt: map[string]Metadata{".NEF": {Width: 6000, Height: 4000}}}

	summary, err := ScanAndStoreFolder(context.Background(), db,
		ScanOptions{FolderPath: dir, SourcePrefix: "card1", Metadata: meta})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RawFiles)
	assert.Zero(t, summary.Errors)

	assets, err := database.ListAssets(db, "card1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, types.MediaRaw, assets[0].Kind)
	assert.Equal(t, 6000, assets[0].Width)
	assert.Equal(t, "card1:"+assets[0].Path, assets[0].ID)
}

func TestScanHonoursCancellation(t *testing.T) {
	db := openDB(t)
	dir := library(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ScanAndStoreFolder(ctx, db, ScanOptions{FolderPath: dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseExifTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2023:07:14 09:30:00", time.Date(2023, 7, 14, 9, 30, 0, 0, time.UTC), true},
		{"2023:07:14 09:30:00.25", time.Date(2023, 7, 14, 9, 30, 0, 250_000_000, time.UTC), true},
		{"2023:07:14 09:30:00+02:00", time.Date(2023, 7, 14, 7, 30, 0, 0, time.UTC), true},
		{"0000:00:00 00:00:00", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, c := range cases {
		got, ok := ParseExifTime(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.True(t, c.want.Equal(got), "%s parsed as %v", c.in, got)
		}
	}
}

func TestWatcherReportsImageChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	changes := make(chan []string, 4)
	w, err := NewWatcher(dir, 50*time.Millisecond, func(paths []string) { changes <- paths })
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	target := filepath.Join(dir, "sub", "new.jpg")
	require.NoError(t, os.WriteFile(target, []byte("jpeg"), 0o644))

	select {
	case paths := <-changes:
		assert.Equal(t, []string{target}, paths)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}
