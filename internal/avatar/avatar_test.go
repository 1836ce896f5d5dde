package avatar

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Smallest valid PNG header; enough for MIME detection.
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0o644))

	mimeType, data, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)

	raw, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, raw)
}

func TestLoadRejectsOversized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.png")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, MaxRawSize+1), 0o644))

	_, _, err := Load(path)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoadRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, _, err := Load(path)
	assert.ErrorIs(t, err, ErrNotImage)
}
