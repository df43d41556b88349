// Command mfimport downloads the MoneyForward ME household ledger as CSV,
// normalizes it and publishes it to a Google Sheets worksheet.
package main

import (
	"os"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
)

// Set at build time with -ldflags "-X main.Version=... -X main.BuildTime=...".
var (
	Version   = "dev"
	BuildTime = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		apperrors.ErrorToReport(err).Write(os.Stderr)
		os.Exit(1)
	}
}
