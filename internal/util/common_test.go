package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("etc", "lsnp", "downloads"),
		ResolvePath(filepath.Join("etc", "lsnp"), "downloads"))

	abs := string(filepath.Separator) + filepath.Join("var", "data")
	assert.Equal(t, abs, ResolvePath(filepath.Join("etc", "lsnp"), abs),
		"absolute paths override the base")

	assert.Equal(t, "downloads", ResolvePath(".", "downloads"))
}

func TestWriteJSONFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cfg.json")
	require.NoError(t, WriteJSONFile(path, map[string]int{"port": 50999}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "50999")
}
