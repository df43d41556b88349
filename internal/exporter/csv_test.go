package exporter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

func TestCSVWriter_WriteCSV(t *testing.T) {
	tests := []struct {
		name    string
		options WriteOptions
		want    string
	}{
		{
			name:    "headers and records with BOM",
			options: WriteOptions{Headers: []string{"a", "b"}, Records: [][]string{{"1", "2"}}, BOMPrefix: true},
			want:    "\ufeffa,b\n1,2\n",
		},
		{
			name:    "without BOM",
			options: WriteOptions{Headers: []string{"a"}, Records: [][]string{{"x"}}},
			want:    "a\nx\n",
		},
		{
			name:    "quotes special characters",
			options: WriteOptions{Records: [][]string{{"a,b", `say "hi"`, "line\nbreak"}}},
			want:    "\"a,b\",\"say \"\"hi\"\"\",\"line\nbreak\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewCSVWriter(infrastructure.DiscardLogger())
			path := filepath.Join(t.TempDir(), "out.csv")
			require.NoError(t, w.WriteCSV(path, tt.options))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestCSVWriter_CreateDirectoryFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	w := NewCSVWriter(infrastructure.DiscardLogger())
	assert.Error(t, w.WriteSimpleCSV(filepath.Join(blocker, "x.csv"), nil, nil))
}
