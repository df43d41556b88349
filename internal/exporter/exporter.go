package exporter

import (
	"log/slog"
	"path/filepath"
	"strings"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
	"github.com/ino-taku/mf-importer/internal/normalize"
)

// Exporter writes record sets to .csv or .xlsx files.
type Exporter struct {
	csv    *CSVWriter
	logger *slog.Logger
}

// New creates an Exporter.
func New(logger *slog.Logger) *Exporter {
	return &Exporter{
		csv:    NewCSVWriter(logger),
		logger: infrastructure.WithComponent(logger, "exporter"),
	}
}

// Write picks the format from the file extension.
func (e *Exporter) Write(path string, rs *normalize.RecordSet) error {
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		values := rs.Values()
		err = e.csv.WriteSimpleCSV(path, values[0], values[1:])
	case ".xlsx":
		err = writeXLSX(path, rs)
	default:
		return apperrors.NewAppValidationError("unsupported export format "+ext).
			WithContext("file", path)
	}
	if err != nil {
		return apperrors.NewStorageError("failed to export records", err).
			WithContext("file", path)
	}

	e.logger.Info("Records exported",
		slog.String("file", path),
		slog.Int("records", len(rs.Records)))
	return nil
}
