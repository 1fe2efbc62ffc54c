package sample

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_Page_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	capture := New(dir, nil)

	payload := []byte(`[{"id": 1, "title": "Example"}]`)
	capture.Page("github-issues", 3, payload)

	path := filepath.Join(dir, "github-issues", "page_0003.json.lz4")

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	decompressed, err := io.ReadAll(lz4.NewReader(file))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, decompressed))
}

func TestCapture_Page_FailureDoesNotPanic(t *testing.T) {
	t.Parallel()

	// Base directory is a file, so MkdirAll fails.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	capture := New(blocker, nil)
	capture.Page("github-issues", 1, []byte("{}"))

	// Nothing was written and no error escaped.
	_, err := os.Stat(filepath.Join(blocker, "github-issues"))
	assert.Error(t, err)
}

func TestCapture_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var capture *Capture
	capture.Page("github-issues", 1, []byte("{}"))
}
