package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorToReport(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantTitle string
	}{
		{
			name:      "app error",
			err:       NewLoginFormNotFoundError("no email field in 2 frames"),
			wantType:  ErrTypeLoginFormNotFound,
			wantTitle: "Login form not found",
		},
		{
			name:      "wrapped app error",
			err:       fmt.Errorf("run: %w", NewMalformedSessionError("decode base64", errors.New("illegal data"))),
			wantType:  ErrTypeMalformedSession,
			wantTitle: "Session snapshot is malformed",
		},
		{
			name:      "context deadline",
			err:       context.DeadlineExceeded,
			wantType:  "TIMEOUT",
			wantTitle: "Operation cancelled",
		},
		{
			name:      "plain error",
			err:       errors.New("boom"),
			wantType:  "INTERNAL",
			wantTitle: "Unexpected error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := ErrorToReport(tt.err)
			require.NotNil(t, report)
			assert.Equal(t, tt.wantType, report.Type)
			assert.Equal(t, tt.wantTitle, report.Title)
		})
	}

	assert.Nil(t, ErrorToReport(nil))
}

func TestReport_Write(t *testing.T) {
	err := NewExportControlNotFoundError(map[string][]string{
		"main/0": {"CSV以外"},
		"main":   {"家計簿", "資産"},
	}).WithContext("url", "https://moneyforward.com/cf")

	var buf bytes.Buffer
	ErrorToReport(err).Write(&buf)

	out := buf.String()
	assert.Contains(t, out, "Error: CSV export control not found")
	assert.Contains(t, out, "[main] 家計簿 | 資産")
	assert.Contains(t, out, "[main/0] CSV以外")
	assert.Contains(t, out, "url: https://moneyforward.com/cf")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("scanned_texts")), bytes.Index(buf.Bytes(), []byte("url:")))
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogError(context.Background(), logger, "run failed", NewUpstreamRequestError(403, "https://moneyforward.com/cf/csv"))

	out := buf.String()
	assert.Contains(t, out, `"error_type":"UPSTREAM_REQUEST_FAILED"`)
	assert.Contains(t, out, `"status":403`)
}
