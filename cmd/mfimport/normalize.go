package main

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/exporter"
	"github.com/ino-taku/mf-importer/internal/files"
	"github.com/ino-taku/mf-importer/internal/normalize"
	"github.com/ino-taku/mf-importer/internal/validation"
)

func newNormalizeCmd(a *app) *cobra.Command {
	var output, encoding string
	cmd := &cobra.Command{
		Use:   "normalize FILE|DIR",
		Short: "Normalize a downloaded CSV export without touching the browser",
		Long: `Normalize a MoneyForward CSV export. Given a directory, the export for the
latest period in it is used. The canonical CSV is printed to stdout unless
--output names a .csv or .xlsx file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveExport(args[0])
			if err != nil {
				return err
			}
			if err := a.checkPath((*validation.FileValidator).ValidateCSVFile, path); err != nil {
				return err
			}
			if output != "" {
				if err := a.checkPath((*validation.FileValidator).ValidateExportPath, output); err != nil {
					return err
				}
			}
			if encoding == "" {
				encoding = a.cfg.Normalize.Encoding
			}
			n, err := normalize.New(encoding, a.logger)
			if err != nil {
				return err
			}
			rs, err := n.Normalize(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d records, columns %v, %d empty cells\n",
				path, len(rs.Records), rs.Columns, rs.NullCount())

			if output != "" {
				return exporter.New(a.logger).Write(output, rs)
			}
			w := csv.NewWriter(cmd.OutOrStdout())
			if err := w.WriteAll(rs.Values()); err != nil {
				return apperrors.NewStorageError("failed to write records", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a .csv or .xlsx file instead of stdout")
	cmd.Flags().StringVar(&encoding, "encoding", "", "source encoding (default from config, shift_jis)")
	return cmd
}

// resolveExport returns path itself, or the latest export inside it.
func resolveExport(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", apperrors.NewStorageError("cannot read input", err).WithContext("file", path)
	}
	if !info.IsDir() {
		return path, nil
	}

	latest, ok, err := files.NewDiscovery(path).LatestExport(path)
	if err != nil {
		return "", apperrors.NewStorageError("cannot list directory", err).WithContext("dir", path)
	}
	if !ok {
		return "", apperrors.NewAppValidationError("no CSV export found").WithContext("dir", path)
	}
	return latest.Path, nil
}
