package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ino-taku/mf-importer/internal/browser"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/session"
	"github.com/ino-taku/mf-importer/internal/shared/testutil"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("MFIMPORT_LOGGING_OUTPUT", "console")
	t.Setenv("MFIMPORT_LOGGING_LEVEL", "error")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNormalizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	testutil.WriteShiftJIS(t, path, "日付,内容,金額（円）\n2025/05/01,コンビニ,-540\n")

	stdout, stderr, err := execute(t, "normalize", path)
	require.NoError(t, err)
	assert.Equal(t, "date,item,amount\n2025-05-01,コンビニ,-540\n", stdout)
	assert.Contains(t, stderr, "1 records")
}

func TestNormalizeDirectoryPicksLatestPeriod(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteShiftJIS(t, filepath.Join(dir, "moneyforward_202504.csv"), "日付,内容\n2025/04/01,四月\n")
	testutil.WriteShiftJIS(t, filepath.Join(dir, "moneyforward_202505.csv"), "日付,内容\n2025/05/01,五月\n")
	// touch the older period last so modification time alone would pick it
	past := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "moneyforward_202504.csv"), past, past))

	stdout, _, err := execute(t, "normalize", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "五月")
}

func TestNormalizeToXLSX(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "export.csv")
	testutil.WriteShiftJIS(t, src, "日付,内容,金額,大項目\n2025/05/01,コンビニ,-540,食費\n")
	out := filepath.Join(dir, "out.xlsx")

	stdout, _, err := execute(t, "normalize", src, "--output", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.FileExists(t, out)
}

func TestNormalizeEmptyDirectory(t *testing.T) {
	_, _, err := execute(t, "normalize", t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cf.html"), []byte(`<html><body>
		<button aria-controls="menu">エクスポート</button>
		<iframe src="frame.html"></iframe>
		</body></html>`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame.html"), []byte(`<html><body>
		<a href="/cf/csv?year=2025&amp;month=5">CSVファイル</a>
		</body></html>`), 0644))

	stdout, _, err := execute(t, "probe", filepath.Join(dir, "cf.html"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "strategy: role")
	assert.Contains(t, stdout, "frame:    main/0")
	assert.Contains(t, stdout, "name:     CSVファイル")
}

func TestProbeNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.html")
	require.NoError(t, os.WriteFile(path, []byte(`<html><body><a href="/bs">資産</a></body></html>`), 0644))

	_, _, err := execute(t, "probe", path, "--timeout", "10ms")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExportControlNotFound)

	var buf bytes.Buffer
	apperrors.ErrorToReport(err).Write(&buf)
	assert.Contains(t, buf.String(), "資産")
}

func sampleSnapshot(t *testing.T) string {
	t.Helper()
	encoded, err := session.Encode(&session.State{
		Cookies: []browser.Cookie{
			{Name: "_moneybook_session", Value: "a", Domain: ".moneyforward.com", Path: "/", Expires: float64(time.Now().Add(48 * time.Hour).Unix())},
			{Name: "old", Value: "b", Domain: "moneyforward.com", Path: "/", Expires: 1},
			{Name: "id", Value: "c", Domain: "id.moneyforward.com", Path: "/", Expires: -1},
		},
		Origins: []session.Origin{{Origin: "https://moneyforward.com", LocalStorage: []browser.StorageItem{{Name: "k", Value: "v"}}}},
	}, true)
	require.NoError(t, err)
	return encoded
}

func TestSessionCheck(t *testing.T) {
	t.Setenv("MF_STORAGE_B64", sampleSnapshot(t))

	stdout, _, err := execute(t, "session", "check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "cookies: 3 (1 expired)")
	assert.Contains(t, stdout, "  moneyforward.com: 2")
	assert.Contains(t, stdout, "  id.moneyforward.com: 1")
	assert.Contains(t, stdout, "next expiry: ")
	assert.Contains(t, stdout, "https://moneyforward.com: 1 localStorage items")
}

func TestSessionCheckMalformed(t *testing.T) {
	t.Setenv("MF_STORAGE_B64", base64.StdEncoding.EncodeToString([]byte(`{"cookies":[{"value":"x"}]}`)))

	_, _, err := execute(t, "session", "check")
	assert.ErrorIs(t, err, apperrors.ErrMalformedSession)
}

func TestSessionCheckMissing(t *testing.T) {
	t.Setenv("MF_STORAGE_B64", "")
	_, _, err := execute(t, "session", "check")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSessionEncode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cookies":[{"name":"s","value":"v","domain":"moneyforward.com","path":"/"}],"origins":[]}`), 0644))

	stdout, _, err := execute(t, "session", "encode", path, "--compress=false")
	require.NoError(t, err)

	state, err := session.Decode(stdout)
	require.NoError(t, err)
	require.Len(t, state.Cookies, 1)
	assert.Equal(t, "s", state.Cookies[0].Name)

	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace([]byte(stdout))))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("{")), "uncompressed snapshot is plain JSON")
}

func TestRunRejectsInvalidMonth(t *testing.T) {
	_, _, err := execute(t, "run", "--month", "13", "--dry-run")
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestRejectsUnsupportedPaths(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "export.csv")
	testutil.WriteShiftJIS(t, csvPath, "日付,内容\n2025/05/01,x\n")
	txtPath := filepath.Join(dir, "page.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("<html></html>"), 0644))

	tests := []struct {
		name string
		args []string
	}{
		{"normalize to unknown format", []string{"normalize", csvPath, "--output", filepath.Join(dir, "out.json")}},
		{"normalize non-csv input", []string{"normalize", txtPath}},
		{"probe non-html input", []string{"probe", txtPath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestVersionFlag(t *testing.T) {
	stdout, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, stdout, Version)
}
