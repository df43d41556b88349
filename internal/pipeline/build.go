package pipeline

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/ino-taku/mf-importer/internal/browser"
	"github.com/ino-taku/mf-importer/internal/config"
	"github.com/ino-taku/mf-importer/internal/download"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/exporter"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
	"github.com/ino-taku/mf-importer/internal/locator"
	"github.com/ino-taku/mf-importer/internal/login"
	"github.com/ino-taku/mf-importer/internal/normalize"
	"github.com/ino-taku/mf-importer/internal/sheets"
)

// Build wires the production collaborators: Chrome, the Sheets API and the
// telemetry providers.
func Build(ctx context.Context, cfg *config.Config, telemetry *infrastructure.OTelProviders, logger *slog.Logger) (*Pipeline, error) {
	if cfg.Session.StorageB64 == "" && !cfg.HasCredentials() {
		return nil, apperrors.NewConfigError("either MF_STORAGE_B64 or MF_EMAIL and MF_PASSWORD must be set", nil)
	}
	loc, err := locator.New(locator.FromConfig(cfg.Locator, cfg.Login.PollInterval), logger)
	if err != nil {
		return nil, err
	}
	normalizer, err := normalize.New(cfg.Normalize.Encoding, logger)
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Launcher: browser.NewChromeLauncher(browser.ChromeConfig{
			Headless:          cfg.Browser.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			ExecPath:          cfg.Browser.ExecPath,
			WindowWidth:       cfg.Browser.WindowWidth,
			WindowHeight:      cfg.Browser.WindowHeight,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
		}, logger),
		Login: login.NewFlow(login.FromConfig(cfg.Login), login.Credentials{
			Email:    cfg.Credentials.Email,
			Password: cfg.Credentials.Password,
		}, cfg.Run.DiagnosticsDir, logger),
		Locator: loc,
		Capturer: download.NewCapturer(download.Config{
			Timeout:          cfg.Download.Timeout,
			UseSuggestedName: cfg.Download.UseSuggestedName,
		}, logger),
		Normalizer:   normalizer,
		Exporter:     exporter.New(logger),
		FetchTimeout: cfg.Download.Timeout,
	}

	if telemetry != nil {
		deps.Tracer = telemetry.Tracer
		deps.Metrics = telemetry.Metrics
		deps.Push = telemetry.Push
	}

	if !cfg.Run.DryRun && cfg.HasPublisher() {
		creds, err := serviceAccountJSON(cfg.Sheets.ServiceJSON)
		if err != nil {
			return nil, err
		}
		publisher, err := sheets.NewPublisher(ctx, creds, cfg.Sheets.Endpoint, deps.Tracer, logger)
		if err != nil {
			return nil, err
		}
		deps.Publisher = publisher
	}

	return New(deps, logger)
}

// serviceAccountJSON accepts the key inline or as a path to the key file.
func serviceAccountJSON(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to read service account key", err).
			WithContext("file", value)
	}
	return data, nil
}
