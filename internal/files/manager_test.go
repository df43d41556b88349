package files

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

func TestMoveFile(t *testing.T) {
	tests := []struct {
		name string
		dst  string
	}{
		{name: "relative destination", dst: "moneyforward_202505.csv"},
		{name: "nested destination", dst: filepath.Join("2025", "moneyforward_202505.csv")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outDir := t.TempDir()
			src := filepath.Join(t.TempDir(), "download-1")
			require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

			m := NewManager(outDir, infrastructure.DiscardLogger())
			require.NoError(t, m.MoveFile(src, tt.dst))

			assert.False(t, m.FileExists(src))
			content, err := os.ReadFile(filepath.Join(outDir, tt.dst))
			require.NoError(t, err)
			assert.Equal(t, "data", string(content))
		})
	}
}

func TestMoveFileMissingSource(t *testing.T) {
	outDir := t.TempDir()
	m := NewManager(outDir, infrastructure.DiscardLogger())

	err := m.MoveFile(filepath.Join(outDir, "missing"), "out.csv")
	assert.Error(t, err)
	assert.False(t, m.FileExists("out.csv"))
	assert.False(t, m.FileExists("out.csv.part"))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, infrastructure.DiscardLogger())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("abc"), 0644))

	require.NoError(t, m.CopyFile("a.csv", "copy/b.csv"))

	size, err := m.GetFileSize("copy/b.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	assert.True(t, m.FileExists("a.csv"))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, infrastructure.DiscardLogger())

	require.NoError(t, m.WriteFileAtomic("state/session.b64", []byte("first"), 0600))
	require.NoError(t, m.WriteFileAtomic("state/session.b64", []byte("second"), 0600))

	path := filepath.Join(dir, "state", "session.b64")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}
