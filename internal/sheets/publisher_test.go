package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

const sheetKey = "sheet-key"

type call struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

type fakeSheets struct {
	mu       sync.Mutex
	calls    []call
	existing string
	rows     int
	failOn   string
}

func (f *fakeSheets) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &body))
		}

		f.mu.Lock()
		f.calls = append(f.calls, call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		f.mu.Unlock()

		if f.failOn != "" && strings.HasSuffix(r.URL.Path, f.failOn) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v4/spreadsheets/"+sheetKey:
			sheets := []map[string]interface{}{
				{"properties": map[string]interface{}{"sheetId": 0, "title": "Sheet1", "gridProperties": map[string]interface{}{"rowCount": 1000, "columnCount": 26}}},
			}
			if f.existing != "" {
				sheets = append(sheets, map[string]interface{}{
					"properties": map[string]interface{}{"sheetId": 7, "title": f.existing, "gridProperties": map[string]interface{}{"rowCount": f.rows, "columnCount": 5}},
				})
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"spreadsheetId": sheetKey, "sheets": sheets})
		case strings.HasSuffix(r.URL.Path, ":batchUpdate"):
			json.NewEncoder(w).Encode(map[string]interface{}{"spreadsheetId": sheetKey})
		case strings.HasSuffix(r.URL.Path, ":clear"):
			json.NewEncoder(w).Encode(map[string]interface{}{"spreadsheetId": sheetKey})
		case r.Method == http.MethodPut:
			json.NewEncoder(w).Encode(map[string]interface{}{"spreadsheetId": sheetKey, "updatedRows": 2})
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestPublisher(t *testing.T, fake *fakeSheets) *Publisher {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	p, err := NewPublisherWithOptions(context.Background(), nil, infrastructure.DiscardLogger(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return p
}

var values = [][]string{
	{"date", "item", "amount"},
	{"2025-05-01", "テスト", "1234"},
}

func TestPublishCreatesMissingWorksheet(t *testing.T) {
	fake := &fakeSheets{}
	p := newTestPublisher(t, fake)

	err := p.Publish(context.Background(), Target{SpreadsheetID: sheetKey, Worksheet: "raw_csv"}, values)
	require.NoError(t, err)

	require.Len(t, fake.calls, 4)
	assert.Equal(t, http.MethodGet, fake.calls[0].Method)

	add := fake.calls[1]
	assert.True(t, strings.HasSuffix(add.Path, ":batchUpdate"))
	props := add.Body["requests"].([]interface{})[0].(map[string]interface{})["addSheet"].(map[string]interface{})["properties"].(map[string]interface{})
	assert.Equal(t, "raw_csv", props["title"])
	grid := props["gridProperties"].(map[string]interface{})
	assert.Equal(t, float64(1000), grid["rowCount"])
	assert.Equal(t, float64(3), grid["columnCount"])

	assert.Equal(t, "/v4/spreadsheets/"+sheetKey+"/values/'raw_csv':clear", fake.calls[2].Path)

	update := fake.calls[3]
	assert.Equal(t, http.MethodPut, update.Method)
	assert.Equal(t, "/v4/spreadsheets/"+sheetKey+"/values/'raw_csv'!A1", update.Path)
	assert.Contains(t, update.Query, "valueInputOption=USER_ENTERED")
	assert.Equal(t, []interface{}{
		[]interface{}{"date", "item", "amount"},
		[]interface{}{"2025-05-01", "テスト", "1234"},
	}, update.Body["values"])
}

func TestPublishExistingWorksheet(t *testing.T) {
	fake := &fakeSheets{existing: "raw_csv", rows: 1000}
	p := newTestPublisher(t, fake)

	require.NoError(t, p.Publish(context.Background(), Target{SpreadsheetID: sheetKey, Worksheet: "raw_csv"}, values))

	require.Len(t, fake.calls, 3, "no sheet is added or resized")
	assert.True(t, strings.HasSuffix(fake.calls[1].Path, ":clear"))
	assert.Equal(t, http.MethodPut, fake.calls[2].Method)
}

func TestPublishResizesSmallWorksheet(t *testing.T) {
	fake := &fakeSheets{existing: "raw_csv", rows: 1}
	p := newTestPublisher(t, fake)

	require.NoError(t, p.Publish(context.Background(), Target{SpreadsheetID: sheetKey, Worksheet: "raw_csv"}, values))

	require.Len(t, fake.calls, 4)
	req := fake.calls[1].Body["requests"].([]interface{})[0].(map[string]interface{})["updateSheetProperties"].(map[string]interface{})
	grid := req["properties"].(map[string]interface{})["gridProperties"].(map[string]interface{})
	assert.Equal(t, float64(2), grid["rowCount"])
	assert.Equal(t, float64(7), req["properties"].(map[string]interface{})["sheetId"])
}

func TestPublishFailure(t *testing.T) {
	fake := &fakeSheets{existing: "raw_csv", rows: 1000, failOn: ":clear"}
	p := newTestPublisher(t, fake)

	err := p.Publish(context.Background(), Target{SpreadsheetID: sheetKey, Worksheet: "raw_csv"}, values)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPublish)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "clear", appErr.Context["operation"])

	for _, c := range fake.calls {
		assert.NotEqual(t, http.MethodPut, c.Method, "nothing is written after a failed clear")
	}
}

func TestPublishRequiresTarget(t *testing.T) {
	p := newTestPublisher(t, &fakeSheets{})
	err := p.Publish(context.Background(), Target{Worksheet: "raw_csv"}, values)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestNewPublisherRequiresCredentials(t *testing.T) {
	_, err := NewPublisher(context.Background(), nil, "", nil, infrastructure.DiscardLogger())
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestQuoteSheet(t *testing.T) {
	assert.Equal(t, "'raw_csv'", quoteSheet("raw_csv"))
	assert.Equal(t, "'Bob''s data'", quoteSheet("Bob's data"))
}
