package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWriteFile_CreatesAndReplaces covers both a missing and an existing target.
func TestWriteFile_CreatesAndReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.yaml")

	require.NoError(t, WriteFile(path, []byte("first"), DefaultFileMode))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))

	require.NoError(t, WriteFile(path, []byte("second"), DefaultFileMode))

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))

	// No staging leftovers besides the target.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestWriteFile_MissingDirectory reports a persistence error.
func TestWriteFile_MissingDirectory(t *testing.T) {
	t.Parallel()

	err := WriteFile(filepath.Join(t.TempDir(), "missing", "index.yaml"), []byte("x"), DefaultFileMode)
	require.ErrorIs(t, err, ErrPersist)
}

func TestChecksumStable(t *testing.T) {
	t.Parallel()

	a, err := Checksum([]byte("chart"))
	require.NoError(t, err)

	b, err := Checksum([]byte("chart"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}
