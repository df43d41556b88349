package locator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ino-taku/mf-importer/internal/browser"
	"github.com/ino-taku/mf-importer/internal/browser/static"
	"github.com/ino-taku/mf-importer/internal/config"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

const pageURL = "https://moneyforward.com/cf"

func testConfig() Config {
	cfg := FromConfig(config.Default().Locator, 5*time.Millisecond)
	cfg.StrategyTimeout = 20 * time.Millisecond
	return cfg
}

func newLocator(t *testing.T, cfg Config) *Locator {
	t.Helper()
	l, err := New(cfg, infrastructure.DiscardLogger())
	require.NoError(t, err)
	return l
}

func pageWith(body string) *static.Page {
	return static.New().Route(pageURL, "<html><body>"+body+"</body></html>").Open(pageURL)
}

func TestLocateStrategies(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStrategy string
		wantFrame    string
		wantTag      string
	}{
		{
			name:         "role by exact label",
			body:         `<a href="#">入出金</a><a href="javascript:void(0)"> CSVファイル </a>`,
			wantStrategy: "role",
			wantFrame:    browser.MainFrameID,
			wantTag:      "a",
		},
		{
			name:         "aria-label on icon button",
			body:         `<button aria-label="CSVダウンロード"><i class="icon"></i></button>`,
			wantStrategy: "role",
			wantFrame:    browser.MainFrameID,
			wantTag:      "button",
		},
		{
			name:         "href ending in csv",
			body:         `<a href="/export/2025-05.CSV"><img alt="save"></a>`,
			wantStrategy: "attribute",
			wantFrame:    browser.MainFrameID,
			wantTag:      "a",
		},
		{
			name:         "csv query marker",
			body:         `<a href="/cf/export?format=csv&year=2025">保存</a>`,
			wantStrategy: "attribute",
			wantFrame:    browser.MainFrameID,
			wantTag:      "a",
		},
		{
			name:         "full-width text",
			body:         `<div><button>ＣＳＶ出力</button></div>`,
			wantStrategy: "text",
			wantFrame:    browser.MainFrameID,
			wantTag:      "button",
		},
		{
			name:         "menu item role",
			body:         `<ul role="menu"><li role="menuitem">csv (Shift_JIS)</li></ul>`,
			wantStrategy: "text",
			wantFrame:    browser.MainFrameID,
			wantTag:      "li",
		},
		{
			name: "revealed by export button",
			body: `<button class="btn" aria-controls="m">エクスポート</button>
				<ul id="m" style="display: none"><li><a href="#">CSVファイル</a></li></ul>`,
			wantStrategy: "indirect",
			wantFrame:    browser.MainFrameID,
			wantTag:      "a",
		},
		{
			name:         "inside iframe",
			body:         `<p>top</p><iframe srcdoc="&lt;a href='/cf/csv?year=2025&amp;month=5'&gt;CSVファイル&lt;/a&gt;"></iframe>`,
			wantStrategy: "role",
			wantFrame:    "main/0",
			wantTag:      "a",
		},
		{
			name:         "exhaustive attribute scan",
			body:         `<span class="item" data-format="csv">出力</span>`,
			wantStrategy: "exhaustive",
			wantFrame:    browser.MainFrameID,
			wantTag:      "span",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := newLocator(t, testConfig()).Locate(context.Background(), pageWith(tt.body))
			require.NoError(t, err)
			require.NotNil(t, target.Element)
			assert.Equal(t, tt.wantStrategy, target.Strategy)
			assert.Equal(t, tt.wantFrame, target.Element.FrameID)
			assert.Equal(t, tt.wantTag, target.Element.Tag)
			assert.Nil(t, target.Download)
		})
	}
}

func TestIndirectClicksTrigger(t *testing.T) {
	page := pageWith(`<a class="icon-download" href="#" aria-controls="menu"></a>
		<div id="menu" hidden><a href="/cf/csv">CSVファイル</a></div>`)

	target, err := newLocator(t, testConfig()).Locate(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "indirect", target.Strategy)
	assert.Equal(t, "CSVファイル", target.Element.Name)
	require.Len(t, page.Clicks(), 1)
}

func TestIndirectTriggerStartsDownload(t *testing.T) {
	page := pageWith(`<a class="btn" href="/cf/export?id=7">エクスポート</a>`).
		Serve("https://moneyforward.com/cf/export?id=7", "収入・支出詳細.csv", []byte("日付,内容\n"))

	target, err := newLocator(t, testConfig()).Locate(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "indirect", target.Strategy)
	assert.Nil(t, target.Element)
	require.NotNil(t, target.Download)
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(target.Download.Path)) })

	assert.Equal(t, "収入・支出詳細.csv", target.Download.SuggestedName)
	content, err := os.ReadFile(target.Download.Path)
	require.NoError(t, err)
	assert.Equal(t, "日付,内容\n", string(content))
	assert.Len(t, page.Clicks(), 1)
}

func TestIndirectStalledTriggerDownloadIgnored(t *testing.T) {
	page := pageWith(`<a class="btn" href="/cf/export?id=7">エクスポート</a>`).
		Stall("https://moneyforward.com/cf/export?id=7", "収入・支出詳細.csv", []byte("日付"))
	cfg := testConfig()
	cfg.Strategies = []string{"indirect"}

	_, err := newLocator(t, cfg).Locate(context.Background(), page)
	assert.ErrorIs(t, err, apperrors.ErrExportControlNotFound)
}

func TestExhaustiveKeepsDocumentOrder(t *testing.T) {
	page := pageWith(`<div class="panel" data-kind="csv">月次データをCSV形式で保存</div><span class="tag" data-kind="csv">csv</span>`)
	cfg := testConfig()
	cfg.Strategies = []string{"exhaustive"}

	target, err := newLocator(t, cfg).Locate(context.Background(), page)
	require.NoError(t, err)
	require.NotNil(t, target.Element)
	assert.Equal(t, "div", target.Element.Tag)
}

func TestIndirectRespectsBudget(t *testing.T) {
	page := pageWith(`<button>Export A</button><button>Export B</button><button>Export C</button><p>nothing here</p>`)
	cfg := testConfig()
	cfg.MaxTriggers = 2
	cfg.Strategies = []string{"indirect"}

	_, err := newLocator(t, cfg).Locate(context.Background(), page)
	assert.ErrorIs(t, err, apperrors.ErrExportControlNotFound)
	assert.Len(t, page.Clicks(), 2)
}

func TestExportControlNotFound(t *testing.T) {
	page := pageWith(`<a href="/">ホーム</a><a href="/settings">設定</a><a href="/">ホーム</a>
		<iframe srcdoc="&lt;button&gt;閉じる&lt;/button&gt;"></iframe>`)

	_, err := newLocator(t, testConfig()).Locate(context.Background(), page)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExportControlNotFound)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	scanned, ok := appErr.Context["scanned_texts"].(map[string][]string)
	require.True(t, ok)
	assert.Equal(t, []string{"ホーム", "設定"}, scanned["main "+pageURL])
	assert.Equal(t, []string{"閉じる"}, scanned["main/0 about:srcdoc"])
}

func TestStrategySelection(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies = []string{"role"}

	_, err := newLocator(t, cfg).Locate(context.Background(), pageWith(`<a href="/cf/csv">download</a>`))
	assert.ErrorIs(t, err, apperrors.ErrExportControlNotFound)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies = []string{"role", "xpath"}
	_, err := New(cfg, infrastructure.DiscardLogger())
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	cfg = testConfig()
	cfg.TextPattern = "("
	_, err = New(cfg, infrastructure.DiscardLogger())
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestLocateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newLocator(t, testConfig()).Locate(ctx, pageWith(`<p>x</p>`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCSVHref(t *testing.T) {
	tests := []struct {
		href string
		want bool
	}{
		{"/cf/csv?from=2025/05/01", true},
		{"https://moneyforward.com/files/a.csv", true},
		{"/export?type=CSV", true},
		{"/cf", false},
		{"javascript:download('csv')", false},
		{"#csv", false},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, csvHref(tt.href))
		})
	}
}
