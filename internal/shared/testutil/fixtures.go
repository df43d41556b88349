package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/japanese"
)

// ExportHeader is the header row of a MoneyForward income/expense export.
const ExportHeader = "計算対象,日付,内容,金額（円）,保有金融機関,大項目,中項目,メモ,振替,ID"

// ShiftJIS encodes s the way the export endpoint serves it.
func ShiftJIS(t testing.TB, s string) []byte {
	t.Helper()
	out, err := japanese.ShiftJIS.NewEncoder().String(s)
	if err != nil {
		t.Fatalf("encode Shift-JIS: %v", err)
	}
	return []byte(out)
}

// ExportCSV builds a Shift-JIS export from data rows (without the header).
func ExportCSV(t testing.TB, rows ...string) []byte {
	t.Helper()
	content := ExportHeader + "\n"
	for _, row := range rows {
		content += row + "\n"
	}
	return ShiftJIS(t, content)
}

// WriteShiftJIS writes s to path as Shift-JIS, creating parent directories.
func WriteShiftJIS(t testing.TB, path, s string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, ShiftJIS(t, s), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
