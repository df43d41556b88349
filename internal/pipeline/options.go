package pipeline

import (
	"fmt"
	"time"

	"github.com/ino-taku/mf-importer/internal/config"
	"github.com/ino-taku/mf-importer/internal/download"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/sheets"
)

// Export modes.
const (
	ModeLocate = "locate"
	ModeDirect = "direct"
)

// Options are the per-run inputs.
type Options struct {
	Period   download.Period
	StartURL string
	OutDir   string

	// Snapshot is the encoded session state; empty forces a fresh login.
	Snapshot string
	// SavePath receives a fresh snapshot after an interactive login.
	SavePath         string
	CompressSnapshot bool

	Mode              string
	ExportURLTemplate string

	Target sheets.Target
	DryRun bool
	// ExportPath additionally writes the records to a local .csv or .xlsx.
	ExportPath string
}

// OptionsFromConfig maps the loaded configuration onto run options. A zero
// year or month falls back to now.
func OptionsFromConfig(cfg *config.Config, now time.Time) Options {
	period := download.Period{Year: cfg.Run.Year, Month: cfg.Run.Month}
	if period.Year == 0 {
		period.Year = now.Year()
	}
	if period.Month == 0 {
		period.Month = int(now.Month())
	}
	return Options{
		Period:            period,
		StartURL:          cfg.Browser.StartURL,
		OutDir:            cfg.Run.OutDir,
		Snapshot:          cfg.Session.StorageB64,
		SavePath:          cfg.Session.SavePath,
		CompressSnapshot:  cfg.Session.Compress,
		Mode:              cfg.Download.Mode,
		ExportURLTemplate: cfg.Download.URLTemplate,
		Target: sheets.Target{
			SpreadsheetID: cfg.Sheets.SpreadsheetKey,
			Worksheet:     cfg.Sheets.Worksheet,
		},
		DryRun:     cfg.Run.DryRun,
		ExportPath: cfg.Run.Export,
	}
}

// Validate checks the options before anything is launched.
func (o Options) Validate() error {
	if o.Period.Year < 2000 {
		return apperrors.NewAppValidationError(fmt.Sprintf("invalid year %d", o.Period.Year))
	}
	if o.Period.Month < 1 || o.Period.Month > 12 {
		return apperrors.NewAppValidationError(fmt.Sprintf("invalid month %d", o.Period.Month))
	}
	if o.StartURL == "" {
		return apperrors.NewAppValidationError("start URL is required")
	}
	if o.OutDir == "" {
		return apperrors.NewAppValidationError("output directory is required")
	}
	switch o.Mode {
	case ModeLocate:
	case ModeDirect:
		if o.ExportURLTemplate == "" {
			return apperrors.NewAppValidationError("direct mode requires an export URL template")
		}
	default:
		return apperrors.NewAppValidationError(fmt.Sprintf("unknown export mode %q", o.Mode))
	}
	return nil
}
