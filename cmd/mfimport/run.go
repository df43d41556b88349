package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ino-taku/mf-importer/internal/infrastructure"
	"github.com/ino-taku/mf-importer/internal/pipeline"
	"github.com/ino-taku/mf-importer/internal/validation"
)

type runFlags struct {
	headless    bool
	year        int
	month       int
	outDir      string
	mode        string
	saveSession string
	dryRun      bool
	export      string
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download, normalize and publish one month",
		Long: `Run the whole import once.

Stages: decode session snapshot, launch Chrome, restore the session, sign in
when needed, find the CSV export (or request it directly with --mode direct),
save the download, normalize it and overwrite the worksheet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, f)
		},
	}

	cmd.Flags().BoolVar(&f.headless, "headless", true, "run Chrome without a window")
	cmd.Flags().IntVar(&f.year, "year", 0, "year to export (default current year)")
	cmd.Flags().IntVar(&f.month, "month", 0, "month to export, 1-12 (default current month)")
	cmd.Flags().StringVar(&f.outDir, "out", "", "directory for the downloaded CSV")
	cmd.Flags().StringVar(&f.mode, "mode", "", "how to obtain the export: locate or direct")
	cmd.Flags().StringVar(&f.saveSession, "save-session", "", "write a fresh session snapshot here after an interactive login")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "skip publishing to Google Sheets")
	cmd.Flags().StringVar(&f.export, "export", "", "also write the records to a local .csv or .xlsx file")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f *runFlags) apply(cmd *cobra.Command, a *app) error {
	flags := cmd.Flags()
	cfg := a.cfg
	if flags.Changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	if flags.Changed("year") {
		cfg.Run.Year = f.year
	}
	if flags.Changed("month") {
		cfg.Run.Month = f.month
	}
	if flags.Changed("out") {
		cfg.Run.OutDir = f.outDir
	}
	if flags.Changed("mode") {
		cfg.Download.Mode = f.mode
	}
	if flags.Changed("save-session") {
		cfg.Session.SavePath = f.saveSession
	}
	if flags.Changed("dry-run") {
		cfg.Run.DryRun = f.dryRun
	}
	if flags.Changed("export") {
		cfg.Run.Export = f.export
	}
	return cfg.Validate()
}

func (a *app) run(cmd *cobra.Command, f *runFlags) error {
	if err := f.apply(cmd, a); err != nil {
		return err
	}
	if err := a.checkPath((*validation.FileValidator).ValidateOutputDirectory, a.cfg.Run.OutDir); err != nil {
		return err
	}
	if a.cfg.Run.Export != "" {
		if err := a.checkPath((*validation.FileValidator).ValidateExportPath, a.cfg.Run.Export); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := infrastructure.InitializeOTel(a.cfg.Telemetry, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	p, err := pipeline.Build(ctx, a.cfg, telemetry, a.logger)
	if err != nil {
		return err
	}

	report, err := p.Run(ctx, pipeline.OptionsFromConfig(a.cfg, time.Now()))
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}

func printReport(w io.Writer, r *pipeline.Report) {
	fmt.Fprintf(w, "run %s  %04d-%02d\n", r.RunID, r.Period.Year, r.Period.Month)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range r.Stages {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.Name, s.Status, s.Duration.Round(time.Millisecond), s.Message)
	}
	tw.Flush()

	if r.Artifact != nil {
		fmt.Fprintf(w, "file:      %s (%d bytes)\n", r.Artifact.Path, r.Artifact.Size)
	}
	if r.Records > 0 {
		fmt.Fprintf(w, "records:   %d (%d empty cells)\n", r.Records, sumNulls(r.Nulls))
	}
	if r.SessionPath != "" {
		fmt.Fprintf(w, "session:   %s\n", r.SessionPath)
	}
	if r.ExportPath != "" {
		fmt.Fprintf(w, "export:    %s\n", r.ExportPath)
	}
	fmt.Fprintf(w, "published: %t\n", r.Published)
}

func sumNulls(nulls map[string]int) int {
	n := 0
	for _, c := range nulls {
		n += c
	}
	return n
}
