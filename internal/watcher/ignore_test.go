package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreList_Defaults(t *testing.T) {
	root := t.TempDir()
	il := NewIgnoreList(root)

	assert.True(t, il.Match(filepath.Join(root, ".fswatcher.lock")))
	assert.True(t, il.Match(filepath.Join(root, "fswatcher.log")))
	assert.True(t, il.Match(filepath.Join(root, IgnoreFileName)))
	assert.True(t, il.Match(filepath.Join(root, "scratch.tmp")))
	assert.True(t, il.Match(filepath.Join(root, "sub", "dir", "junk.swp")))
	assert.True(t, il.Match(filepath.Join(root, ".git", "HEAD")))

	assert.False(t, il.Match(filepath.Join(root, "science_data.cdf")))
	assert.False(t, il.Match(filepath.Join(root, "sub", "telemetry.bin")))
}

func TestIgnoreList_CustomPatterns(t *testing.T) {
	root := t.TempDir()
	ignoreFile := filepath.Join(root, IgnoreFileName)
	require.NoError(t, os.WriteFile(ignoreFile, []byte("*.partial\nstaging/\n"), 0o644))

	il := NewIgnoreList(root)

	assert.True(t, il.Match(filepath.Join(root, "download.partial")))
	assert.True(t, il.Match(filepath.Join(root, "staging", "file.txt")))
	assert.False(t, il.Match(filepath.Join(root, "complete.txt")))

	// defaults still apply alongside the custom file
	assert.True(t, il.Match(filepath.Join(root, "x.tmp")))
}

func TestIgnoreList_NoIgnoreFile(t *testing.T) {
	root := t.TempDir()
	il := NewIgnoreList(root)

	assert.False(t, il.Match(filepath.Join(root, "anything.dat")))
}
