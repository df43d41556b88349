// Package pipeline runs the import once: restore the session, sign in, find
// and download the CSV export, normalize it and publish it.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ino-taku/mf-importer/internal/browser"
	"github.com/ino-taku/mf-importer/internal/download"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
	"github.com/ino-taku/mf-importer/internal/login"
	"github.com/ino-taku/mf-importer/internal/normalize"
	"github.com/ino-taku/mf-importer/internal/session"
	"github.com/ino-taku/mf-importer/internal/sheets"
)

// Publisher overwrites the destination worksheet.
type Publisher interface {
	Publish(ctx context.Context, target sheets.Target, values [][]string) error
}

// Exporter writes records to a local file.
type Exporter interface {
	Write(path string, rs *normalize.RecordSet) error
}

// Locator finds the export control on the page.
type Locator interface {
	Locate(ctx context.Context, page browser.Page) (browser.Target, error)
}

// Deps are the collaborators of a Pipeline. Publisher and Exporter are
// optional; Telemetry defaults to no-op providers.
type Deps struct {
	Launcher   browser.Launcher
	Login      *login.Flow
	Locator    Locator
	Capturer   *download.Capturer
	Normalizer *normalize.Normalizer
	Publisher  Publisher
	Exporter   Exporter

	// HTTPClient and FetchTimeout configure direct mode.
	HTTPClient   *http.Client
	FetchTimeout time.Duration

	Tracer  trace.Tracer
	Metrics *infrastructure.RunMetrics
	// Push sends metrics at the end of the run; nil disables pushing.
	Push func(ctx context.Context) error
}

// Pipeline executes the stages of one import run sequentially.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps, logger *slog.Logger) (*Pipeline, error) {
	switch {
	case deps.Launcher == nil:
		return nil, apperrors.NewConfigError("pipeline requires a browser launcher", nil)
	case deps.Login == nil:
		return nil, apperrors.NewConfigError("pipeline requires a login flow", nil)
	case deps.Locator == nil:
		return nil, apperrors.NewConfigError("pipeline requires an export locator", nil)
	case deps.Capturer == nil:
		return nil, apperrors.NewConfigError("pipeline requires a download capturer", nil)
	case deps.Normalizer == nil:
		return nil, apperrors.NewConfigError("pipeline requires a normalizer", nil)
	}
	if deps.Tracer == nil {
		deps.Tracer = tracenoop.NewTracerProvider().Tracer(infrastructure.MeterName)
	}
	return &Pipeline{deps: deps, logger: infrastructure.WithComponent(logger, "pipeline")}, nil
}

// Run executes every stage once. The first failing stage aborts the run;
// the browser is released on every path.
func (p *Pipeline) Run(ctx context.Context, opts Options) (report *Report, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !opts.DryRun && p.deps.Publisher == nil {
		return nil, apperrors.NewConfigError("spreadsheet key and service account are required to publish", nil)
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	report = &Report{RunID: infrastructure.GetTraceID(ctx), Period: opts.Period}
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", report.RunID),
			attribute.Int("run.year", opts.Period.Year),
			attribute.Int("run.month", opts.Period.Month),
			attribute.String("run.mode", opts.Mode),
			attribute.Bool("run.dry_run", opts.DryRun),
		))
	start := time.Now()

	p.logger.InfoContext(ctx, "Import started",
		slog.String("run_id", report.RunID),
		slog.Int("year", opts.Period.Year),
		slog.Int("month", opts.Period.Month),
		slog.String("mode", opts.Mode),
		slog.Bool("dry_run", opts.DryRun))

	defer func() {
		report.Duration = time.Since(start)
		p.deps.Metrics.RecordRun(ctx, report.Duration, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.ErrorContext(ctx, "Import failed",
				slog.String("run_id", report.RunID),
				slog.String("error", err.Error()),
				slog.Duration("duration", report.Duration))
		} else {
			span.SetStatus(codes.Ok, "")
			p.logger.InfoContext(ctx, "Import completed",
				slog.String("run_id", report.RunID),
				slog.Int("records", report.Records),
				slog.Bool("published", report.Published),
				slog.Duration("duration", report.Duration))
		}
		span.End()
		p.push(ctx)
	}()

	err = p.run(ctx, opts, report)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, opts Options, report *Report) error {
	// A malformed snapshot fails before the browser is started.
	var state *session.State
	if opts.Snapshot != "" {
		err := p.stage(ctx, report, StageSessionDecode, func(ctx context.Context) error {
			var err error
			state, err = session.Decode(opts.Snapshot)
			return err
		})
		if err != nil {
			return err
		}
	} else {
		report.skip(StageSessionDecode, "no session snapshot")
	}

	var page browser.Page
	var release func()
	err := p.stage(ctx, report, StageLaunch, func(ctx context.Context) error {
		var err error
		page, release, err = p.deps.Launcher.Launch(ctx)
		return err
	})
	if err != nil {
		return err
	}
	defer release()

	if state != nil {
		err = p.stage(ctx, report, StageSessionRestore, func(ctx context.Context) error {
			return session.Restore(ctx, page, state, p.logger)
		})
		if err != nil {
			return err
		}
	} else {
		report.skip(StageSessionRestore, "no session snapshot")
	}

	err = p.stage(ctx, report, StageNavigate, func(ctx context.Context) error {
		if err := page.Navigate(ctx, opts.StartURL); err != nil {
			return apperrors.NewBrowserError("failed to open start page", err).
				WithContext("url", opts.StartURL)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, report, StageLogin, func(ctx context.Context) error {
		res, err := p.deps.Login.EnsureAuthenticated(ctx, page)
		if err != nil {
			return err
		}
		report.Interactive = res.Interactive
		if res.Interactive && p.deps.Metrics != nil {
			p.deps.Metrics.InteractiveLogins.Add(ctx, 1)
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case opts.SavePath == "":
		report.skip(StageSessionSave, "no save path")
	case !report.Interactive:
		report.skip(StageSessionSave, "restored session is still valid")
	default:
		err = p.stage(ctx, report, StageSessionSave, func(ctx context.Context) error {
			return p.saveSession(ctx, page, opts)
		})
		if err != nil {
			return err
		}
		report.SessionPath = opts.SavePath
	}

	var target browser.Target
	err = p.stage(ctx, report, StageLocate, func(ctx context.Context) error {
		var err error
		if opts.Mode == ModeDirect {
			target, err = p.fetch(ctx, page, opts)
		} else {
			target, err = p.deps.Locator.Locate(ctx, page)
		}
		if err != nil {
			return err
		}
		report.Strategy = target.Strategy
		if p.deps.Metrics != nil {
			p.deps.Metrics.LocatorMatches.Add(ctx, 1,
				metric.WithAttributes(attribute.String("strategy", target.Strategy)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, report, StageDownload, func(ctx context.Context) error {
		artifact, err := p.deps.Capturer.Capture(ctx, page, target, opts.OutDir,
			download.FileName(opts.Period.Year, opts.Period.Month))
		if err != nil {
			return err
		}
		report.Artifact = artifact
		if p.deps.Metrics != nil {
			p.deps.Metrics.DownloadedBytes.Add(ctx, artifact.Size)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var rs *normalize.RecordSet
	err = p.stage(ctx, report, StageNormalize, func(ctx context.Context) error {
		var err error
		rs, err = p.deps.Normalizer.Normalize(report.Artifact.Path)
		if err != nil {
			return err
		}
		report.Columns = rs.Columns
		report.Records = len(rs.Records)
		report.Nulls = rs.Nulls
		infrastructure.SetSpanAttributes(ctx, map[string]interface{}{
			"normalize.file":    report.Artifact.Path,
			"normalize.records": len(rs.Records),
			"normalize.nulls":   rs.NullCount(),
		})
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordsNormalized.Add(ctx, int64(len(rs.Records)))
			p.deps.Metrics.NullCells.Add(ctx, int64(rs.NullCount()))
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case opts.ExportPath == "":
		report.skip(StageExport, "no export path")
	case p.deps.Exporter == nil:
		report.skip(StageExport, "no exporter configured")
	default:
		err = p.stage(ctx, report, StageExport, func(ctx context.Context) error {
			return p.deps.Exporter.Write(opts.ExportPath, rs)
		})
		if err != nil {
			return err
		}
		report.ExportPath = opts.ExportPath
	}

	switch {
	case opts.DryRun:
		report.skip(StagePublish, "dry run")
	default:
		values := rs.Values()
		err = p.stage(ctx, report, StagePublish, func(ctx context.Context) error {
			return p.deps.Publisher.Publish(ctx, opts.Target, values)
		})
		if err != nil {
			return err
		}
		report.Published = true
		if p.deps.Metrics != nil {
			p.deps.Metrics.RowsPublished.Add(ctx, int64(len(values)))
		}
	}

	return nil
}

// fetch downloads the export endpoint with the browser's cookies and user
// agent and returns it as a completed target.
func (p *Pipeline) fetch(ctx context.Context, page browser.Page, opts Options) (browser.Target, error) {
	rawURL, err := download.ExportURL(opts.ExportURLTemplate, opts.Period)
	if err != nil {
		return browser.Target{}, err
	}
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return browser.Target{}, apperrors.NewBrowserError("failed to read cookies", err)
	}
	ua, err := page.UserAgent(ctx)
	if err != nil {
		return browser.Target{}, apperrors.NewBrowserError("failed to read user agent", err)
	}

	fetcher := download.NewFetcher(p.deps.HTTPClient, p.deps.FetchTimeout, ua, p.logger)
	dl, err := fetcher.Fetch(ctx, cookies, rawURL)
	if err != nil {
		return browser.Target{}, err
	}
	return browser.Target{Download: dl, Strategy: ModeDirect}, nil
}

func (p *Pipeline) saveSession(ctx context.Context, page browser.Page, opts Options) error {
	state, err := session.Capture(ctx, page)
	if err != nil {
		return err
	}
	encoded, err := session.Encode(state, opts.CompressSnapshot)
	if err != nil {
		return err
	}
	return session.WriteFile(opts.SavePath, encoded, p.logger)
}

// stage runs fn inside a span, then records its duration and outcome.
func (p *Pipeline) stage(ctx context.Context, report *Report, name string, fn func(context.Context) error) error {
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", report.RunID),
			attribute.String("stage", name),
		))
	defer span.End()

	p.logger.DebugContext(ctx, "Stage started", slog.String("stage", name))
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	p.deps.Metrics.RecordStage(ctx, name, duration, err)
	span.SetAttributes(attribute.Float64("stage.duration_ms", float64(duration.Milliseconds())))

	result := StageResult{Name: name, Status: StageStatusCompleted, Duration: duration}
	if err != nil {
		result.Status = StageStatusFailed
		result.Message = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		apperrors.LogError(ctx, p.logger.With(
			slog.String("stage", name),
			slog.Duration("duration", duration)), "Stage failed", err)
	} else {
		p.logger.InfoContext(ctx, "Stage completed",
			slog.String("stage", name),
			slog.Duration("duration", duration))
	}
	report.Stages = append(report.Stages, result)
	return err
}

// push sends the run metrics; failures are logged and never fail the run.
func (p *Pipeline) push(ctx context.Context) {
	if p.deps.Push == nil {
		return
	}
	if err := p.deps.Push(ctx); err != nil {
		infrastructure.WithError(p.logger, err).WarnContext(ctx, "Failed to push metrics")
	}
}
