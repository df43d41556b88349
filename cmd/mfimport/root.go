package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ino-taku/mf-importer/internal/config"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
	"github.com/ino-taku/mf-importer/internal/validation"
)

// app carries what every subcommand needs once the root has loaded it.
type app struct {
	configFile string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Import the MoneyForward ME CSV export into Google Sheets",
		Long: `mfimport signs in to MoneyForward ME with a stored browser session (or
credentials), downloads the monthly income/expense CSV, normalizes its
columns and overwrites a Google Sheets worksheet with the result.

Example:
  mfimport run --year 2025 --month 5
  mfimport run --dry-run --export out/records.xlsx
  mfimport normalize downloads/
  mfimport probe saved-page.html
  mfimport session check`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default mfimport.yaml or configs/mfimport.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(a),
		newNormalizeCmd(a),
		newProbeCmd(a),
		newSessionCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// checkPath runs one of the file validator's checks and reports a failure
// as a validation error naming path.
func (a *app) checkPath(check func(*validation.FileValidator, string) error, path string) error {
	if err := check(validation.NewFileValidator(a.logger), path); err != nil {
		return apperrors.NewAppValidationError(err.Error()).WithContext("path", path)
	}
	return nil
}

func versionString() string {
	if BuildTime == "" {
		return Version
	}
	return Version + " (built " + BuildTime + ")"
}
