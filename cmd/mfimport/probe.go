package main

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ino-taku/mf-importer/internal/browser/static"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/locator"
	"github.com/ino-taku/mf-importer/internal/validation"
)

func newProbeCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe FILE.html",
		Short: "Run the export locator against a saved page",
		Long: `Load a page saved from the browser (iframes referenced by relative path are
loaded from disk too) and report which strategy finds the CSV export
control. When nothing matches, the texts of every scanned element are
printed per frame.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.checkPath((*validation.FileValidator).ValidateHTMLFile, args[0]); err != nil {
				return err
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return apperrors.NewStorageError("invalid path", err)
			}
			pageURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()

			page := static.New(static.WithFileRoutes())
			if err := page.Navigate(cmd.Context(), pageURL); err != nil {
				return apperrors.NewStorageError("cannot load page", err).WithContext("file", abs)
			}

			cfg := locator.FromConfig(a.cfg.Locator, time.Millisecond)
			cfg.StrategyTimeout = timeout
			loc, err := locator.New(cfg, a.logger)
			if err != nil {
				return err
			}

			target, err := loc.Locate(cmd.Context(), page)
			if err != nil {
				return err
			}

			el := target.Element
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "strategy: %s\n", target.Strategy)
			fmt.Fprintf(out, "frame:    %s\n", el.FrameID)
			fmt.Fprintf(out, "selector: %s\n", el.Selector)
			fmt.Fprintf(out, "role:     %s\n", el.Role)
			fmt.Fprintf(out, "name:     %s\n", el.Name)
			if href := el.Attrs["href"]; href != "" {
				fmt.Fprintf(out, "href:     %s\n", href)
			}
			if clicks := page.Clicks(); len(clicks) > 0 {
				fmt.Fprintf(out, "clicked:  %v\n", clicks)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 50*time.Millisecond, "per-strategy timeout")
	return cmd
}
