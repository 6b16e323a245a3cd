package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugRecordsRespectLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	t.Cleanup(CloseLogger)

	DebugLog("hidden", "k", 1)
	LogInfo("shown", "k", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "k=2")
	assert.False(t, DebugEnabled())

	buf.Reset()
	SetOutput(&buf, true)
	DebugLog("visible", "batch", 3)
	assert.Contains(t, buf.String(), "batch=3")
	assert.True(t, DebugEnabled())
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simfinder.log")
	require.NoError(t, SetupLogger(path, true))

	LogWarning("cache miss", "identity", "abc")
	LogImageProcessed("/tmp/a.jpg", false, "decode failed")
	CloseLogger()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "identity=abc")
	assert.Contains(t, string(data), "decode failed")
}
