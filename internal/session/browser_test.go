package session

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ino-taku/mf-importer/internal/browser/static"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

func TestRestoreAndCapture(t *testing.T) {
	ctx := context.Background()
	page := static.New().Open("https://moneyforward.com/cf")

	require.NoError(t, Restore(ctx, page, sampleState(), infrastructure.DiscardLogger()))

	captured, err := Capture(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, sampleState(), captured)
}

func TestRestoreNil(t *testing.T) {
	page := static.New()
	require.NoError(t, Restore(context.Background(), page, nil, infrastructure.DiscardLogger()))

	cookies, err := page.Cookies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

func TestCaptureWithoutHTTPOrigin(t *testing.T) {
	page := static.New() // about:blank

	state, err := Capture(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, state.Origins)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "mf_storage.b64")
	encoded, err := Encode(sampleState(), true)
	require.NoError(t, err)

	require.NoError(t, WriteFile(path, encoded, infrastructure.DiscardLogger()))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	decoded, err := Decode(string(content))
	require.NoError(t, err)
	assert.Equal(t, sampleState(), decoded)
	assert.True(t, strings.HasSuffix(string(content), "\n"))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}
