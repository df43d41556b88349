// Package sheets publishes a record set to a Google Sheets worksheet by
// overwriting it completely.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

const (
	// DefaultRows is the height of a newly created worksheet.
	DefaultRows = 1000
	// valueInputOption lets Sheets parse dates and numbers as if typed.
	valueInputOption = "USER_ENTERED"
)

// Target identifies the destination worksheet.
type Target struct {
	SpreadsheetID string
	Worksheet     string
}

// Publisher writes values through the Sheets API.
type Publisher struct {
	service *gsheets.Service
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewPublisher authenticates with a service-account key. A non-empty
// endpoint replaces the public API base URL.
func NewPublisher(ctx context.Context, credentialsJSON []byte, endpoint string, tracer trace.Tracer, logger *slog.Logger) (*Publisher, error) {
	if len(credentialsJSON) == 0 {
		return nil, apperrors.NewConfigError("service account credentials are empty", nil)
	}
	opts := []option.ClientOption{option.WithCredentialsJSON(credentialsJSON)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return NewPublisherWithOptions(ctx, tracer, logger, opts...)
}

// NewPublisherWithOptions creates a Publisher from raw client options.
func NewPublisherWithOptions(ctx context.Context, tracer trace.Tracer, logger *slog.Logger, opts ...option.ClientOption) (*Publisher, error) {
	service, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewPublishError("failed to create Google Sheets service", err)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("sheets")
	}
	return &Publisher{
		service: service,
		tracer:  tracer,
		logger:  infrastructure.WithComponent(logger, "sheets"),
	}, nil
}

// Publish replaces the worksheet contents with values, creating the
// worksheet when it does not exist.
func (p *Publisher) Publish(ctx context.Context, target Target, values [][]string) error {
	if target.SpreadsheetID == "" || target.Worksheet == "" {
		return apperrors.NewAppValidationError("spreadsheet key and worksheet are required")
	}

	width := 1
	for _, row := range values {
		if len(row) > width {
			width = len(row)
		}
	}
	rows := len(values)

	var sheet *gsheets.SheetProperties
	err := p.traced(ctx, "get", func(ctx context.Context) error {
		var err error
		sheet, err = p.findSheet(ctx, target)
		return err
	})
	if err != nil {
		return wrap("get", target, err)
	}

	switch {
	case sheet == nil:
		err = p.traced(ctx, "add_sheet", func(ctx context.Context) error {
			return p.addSheet(ctx, target, max(DefaultRows, rows), width)
		})
		if err != nil {
			return wrap("add_sheet", target, err)
		}
	case sheet.GridProperties != nil &&
		(sheet.GridProperties.RowCount < int64(rows) || sheet.GridProperties.ColumnCount < int64(width)):
		err = p.traced(ctx, "resize", func(ctx context.Context) error {
			return p.resize(ctx, target, sheet, rows, width)
		})
		if err != nil {
			return wrap("resize", target, err)
		}
	}

	rng := quoteSheet(target.Worksheet)
	err = p.traced(ctx, "clear", func(ctx context.Context) error {
		_, err := p.service.Spreadsheets.Values.Clear(target.SpreadsheetID, rng, &gsheets.ClearValuesRequest{}).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return wrap("clear", target, err)
	}

	cells := make([][]interface{}, len(values))
	for i, row := range values {
		cells[i] = make([]interface{}, len(row))
		for j, v := range row {
			cells[i][j] = v
		}
	}
	err = p.traced(ctx, "update", func(ctx context.Context) error {
		_, err := p.service.Spreadsheets.Values.Update(target.SpreadsheetID, rng+"!A1", &gsheets.ValueRange{Values: cells}).
			ValueInputOption(valueInputOption).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return wrap("update", target, err)
	}

	p.logger.InfoContext(ctx, "Worksheet published",
		slog.String("worksheet", target.Worksheet),
		slog.Int("rows", rows),
		slog.Int("columns", width))
	return nil
}

func (p *Publisher) findSheet(ctx context.Context, target Target) (*gsheets.SheetProperties, error) {
	ss, err := p.service.Spreadsheets.Get(target.SpreadsheetID).
		Fields("sheets.properties").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == target.Worksheet {
			return s.Properties, nil
		}
	}
	return nil, nil
}

func (p *Publisher) addSheet(ctx context.Context, target Target, rows, cols int) error {
	p.logger.InfoContext(ctx, "Creating worksheet", slog.String("worksheet", target.Worksheet))
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{
					Title: target.Worksheet,
					GridProperties: &gsheets.GridProperties{
						RowCount:    int64(rows),
						ColumnCount: int64(cols),
					},
				},
			},
		}},
	}
	_, err := p.service.Spreadsheets.BatchUpdate(target.SpreadsheetID, req).Context(ctx).Do()
	return err
}

// resize grows an existing worksheet so the update fits its grid.
func (p *Publisher) resize(ctx context.Context, target Target, sheet *gsheets.SheetProperties, rows, cols int) error {
	grid := &gsheets.GridProperties{
		RowCount:    max(sheet.GridProperties.RowCount, int64(rows)),
		ColumnCount: max(sheet.GridProperties.ColumnCount, int64(cols)),
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			UpdateSheetProperties: &gsheets.UpdateSheetPropertiesRequest{
				Properties: &gsheets.SheetProperties{
					SheetId:        sheet.SheetId,
					GridProperties: grid,
				},
				Fields: "gridProperties(rowCount,columnCount)",
			},
		}},
	}
	_, err := p.service.Spreadsheets.BatchUpdate(target.SpreadsheetID, req).Context(ctx).Do()
	return err
}

// traced wraps one API call in a span.
func (p *Publisher) traced(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "sheets."+operation,
		trace.WithAttributes(attribute.String("sheets.operation", operation)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(
		attribute.Float64("sheets.duration_ms", float64(time.Since(start).Milliseconds())),
		attribute.Bool("sheets.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func wrap(operation string, target Target, err error) error {
	return apperrors.NewPublishError(fmt.Sprintf("sheets %s failed", operation), err).
		WithContext("worksheet", target.Worksheet).
		WithContext("operation", operation)
}

// quoteSheet quotes a worksheet title for A1 notation.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
