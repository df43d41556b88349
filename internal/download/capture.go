// Package download turns an export target into a file in the output
// directory. Transfers are staged in a private directory and only renamed
// into place once complete.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ino-taku/mf-importer/internal/browser"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/files"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

// Artifact is the persisted download.
type Artifact struct {
	Path          string
	Size          int64
	SuggestedName string
}

// Config bounds the wait and picks the file name.
type Config struct {
	Timeout          time.Duration
	UseSuggestedName bool
	// StageRoot holds the private staging directories; empty means the
	// system temp directory.
	StageRoot string
}

// Capturer persists downloads.
type Capturer struct {
	cfg    Config
	logger *slog.Logger
}

// NewCapturer creates a Capturer.
func NewCapturer(cfg Config, logger *slog.Logger) *Capturer {
	return &Capturer{cfg: cfg, logger: infrastructure.WithComponent(logger, "download")}
}

// FileName is the deterministic export name for a period.
func FileName(year, month int) string {
	return fmt.Sprintf("moneyforward_%04d%02d.csv", year, month)
}

// Capture obtains the file for target and moves it to outDir/name. An
// element target is clicked with a download expectation armed first; a
// completed target is moved as is.
func (c *Capturer) Capture(ctx context.Context, page browser.Page, target browser.Target, outDir, name string) (*Artifact, error) {
	if target.Element == nil && target.Download == nil {
		return nil, apperrors.NewAppValidationError("download target has neither element nor file")
	}

	stageDir, err := os.MkdirTemp(c.cfg.StageRoot, "mfimport-download-")
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create staging directory", err)
	}
	defer os.RemoveAll(stageDir)

	dl := target.Download
	if dl == nil {
		dl, err = c.trigger(ctx, page, *target.Element, stageDir)
		if err != nil {
			return nil, err
		}
	} else {
		// completed downloads own a private directory of their own
		defer os.Remove(filepath.Dir(dl.Path))
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return nil, apperrors.NewStorageError("invalid output directory", err)
	}
	m := files.NewManager(absOut, c.logger)

	size, err := m.GetFileSize(dl.Path)
	if err != nil {
		return nil, apperrors.NewStorageError("downloaded file is missing", err)
	}
	if size == 0 {
		os.Remove(dl.Path)
		return nil, apperrors.NewStorageError("downloaded file is empty", nil).
			WithContext("suggested_name", dl.SuggestedName)
	}

	if c.cfg.UseSuggestedName {
		if suggested := sanitizeName(dl.SuggestedName); suggested != "" {
			name = suggested
		}
	}
	if name == "" {
		return nil, apperrors.NewAppValidationError("download file name is empty")
	}

	if m.FileExists(name) {
		c.logger.InfoContext(ctx, "Replacing previous export", slog.String("file", filepath.Join(absOut, name)))
	}
	if err := m.MoveFile(dl.Path, name); err != nil {
		return nil, apperrors.NewStorageError("failed to persist download", err).
			WithContext("out_dir", absOut)
	}

	artifact := &Artifact{
		Path:          filepath.Join(absOut, name),
		Size:          size,
		SuggestedName: dl.SuggestedName,
	}
	c.logger.InfoContext(ctx, "File downloaded successfully",
		slog.String("file", artifact.Path),
		slog.Int64("size_bytes", artifact.Size),
		slog.String("suggested_name", artifact.SuggestedName))
	return artifact, nil
}

func (c *Capturer) trigger(ctx context.Context, page browser.Page, el browser.Element, stageDir string) (*browser.Download, error) {
	pending, err := page.ExpectDownload(ctx, stageDir)
	if err != nil {
		return nil, apperrors.NewBrowserError("failed to arm download", err)
	}
	defer pending.Close()

	c.logger.InfoContext(ctx, "Triggering export",
		slog.String("frame", el.FrameID),
		slog.String("selector", el.Selector))
	if err := page.Click(ctx, el); err != nil {
		return nil, apperrors.NewBrowserError("failed to click export control", err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	dl, err := pending.Wait(wctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewDownloadTimeoutError(
				fmt.Sprintf("no download completed within %s", c.cfg.Timeout), err).
				WithContext("selector", el.Selector)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewBrowserError("download failed", err)
	}
	return dl, nil
}

// sanitizeName keeps only the base name of a server-suggested file name.
func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(filepath.FromSlash(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
