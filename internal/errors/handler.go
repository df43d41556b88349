package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// Report is the printable form of a failed run.
type Report struct {
	Type    ErrorType
	Title   string
	Detail  string
	Context map[string]interface{}
}

var titles = map[ErrorType]string{
	ErrTypeMalformedSession:      "Session snapshot is malformed",
	ErrTypeLoginFormNotFound:     "Login form not found",
	ErrTypeLoginTimeout:          "Login was not confirmed in time",
	ErrTypeExportControlNotFound: "CSV export control not found",
	ErrTypeDownloadTimeout:       "Download did not complete in time",
	ErrTypeUpstreamRequest:       "Export request was rejected",
	ErrTypeNormalization:         "CSV could not be normalized",
	ErrTypePublish:               "Spreadsheet publish failed",
	ErrTypeBrowser:               "Browser automation failed",
	ErrTypeStorage:               "File operation failed",
	ErrTypeValidation:            "Invalid input",
	ErrTypeConfig:                "Invalid configuration",
}

// ErrorToReport converts any error into a Report.
func ErrorToReport(err error) *Report {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		title, ok := titles[appErr.Type]
		if !ok {
			title = string(appErr.Type)
		}
		return &Report{
			Type:    appErr.Type,
			Title:   title,
			Detail:  err.Error(),
			Context: appErr.Context,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Report{Type: "TIMEOUT", Title: "Operation cancelled", Detail: err.Error()}
	}

	return &Report{Type: "INTERNAL", Title: "Unexpected error", Detail: err.Error()}
}

// Write prints the report to w, context keys sorted.
func (r *Report) Write(w io.Writer) {
	fmt.Fprintf(w, "Error: %s\n  %s\n", r.Title, r.Detail)
	keys := make([]string, 0, len(r.Context))
	for k := range r.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, formatValue(r.Context[k]))
	}
}

// LogError logs err with its AppError context flattened into attributes.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	report := ErrorToReport(err)
	if report == nil {
		return
	}
	attrs := []any{
		slog.String("error", report.Detail),
		slog.String("error_type", string(report.Type)),
	}
	for k, v := range report.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.ErrorContext(ctx, msg, attrs...)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case map[string][]string:
		frames := make([]string, 0, len(val))
		for frame := range val {
			frames = append(frames, frame)
		}
		sort.Strings(frames)
		var b strings.Builder
		for _, frame := range frames {
			fmt.Fprintf(&b, "\n    [%s] %s", frame, strings.Join(val[frame], " | "))
		}
		return b.String()
	case []string:
		return strings.Join(val, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}
