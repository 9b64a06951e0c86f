package io

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"geps": 4}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"geps\": 4\n}", string(data))
}

func TestWriteJSONAtomicRejectsUnencodable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	assert.Error(t, WriteJSONAtomic(path, map[string]any{"f": func() {}}))
	assert.False(t, Exists(path))
}

func TestWriteStreamAtomicFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.tsv")
	require.NoError(t, WriteFileAtomic(path, []byte("original")))

	err := WriteStreamAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("interrupted")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestCopyFileAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.cnmf.zst")
	require.NoError(t, os.WriteFile(src, []byte("container"), 0644))

	dst := filepath.Join(dir, "input", "datasets", "a.cnmf.zst")
	require.NoError(t, CopyFileAtomic(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "container", string(data))

	assert.Error(t, CopyFileAtomic(filepath.Join(dir, "missing"), dst))
}
