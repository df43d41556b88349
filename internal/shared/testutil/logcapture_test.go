package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func TestCaptureHandler(t *testing.T) {
	logger, h := NewTestLogger(nil)

	scoped := logger.With(slog.String("component", "pipeline"))
	scoped.Info("Stage completed", slog.String("stage", "login"))
	logger.WithGroup("sheets").Error("publish failed", slog.Int("status", 403))

	records := h.Records()
	require.Len(t, records, 2)
	assert.Equal(t, map[string]any{"component": "pipeline", "stage": "login"}, records[0].Attrs)
	assert.Equal(t, int64(403), records[1].Attrs["sheets.status"])

	AssertLogContains(t, h, slog.LevelInfo, "Stage completed")
	AssertLogAttr(t, h, "Stage completed", "component", "pipeline")
	assert.Len(t, h.RecordsByLevel(slog.LevelError), 1)
	assert.Empty(t, h.Find("missing"))
}

func TestShiftJISFixtures(t *testing.T) {
	data := ExportCSV(t, "1,2025/05/01,コンビニ,-540,楽天カード,食費,食料品,,0,a1")

	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(data)
	require.NoError(t, err)
	assert.Equal(t, ExportHeader+"\n1,2025/05/01,コンビニ,-540,楽天カード,食費,食料品,,0,a1\n", string(decoded))

	path := filepath.Join(t.TempDir(), "nested", "export.csv")
	WriteShiftJIS(t, path, "日付\n")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ShiftJIS(t, "日付\n"), raw)
}
