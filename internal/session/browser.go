package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/ino-taku/mf-importer/internal/browser"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/files"
)

// Restore applies the cookies and localStorage of state to page.
func Restore(ctx context.Context, page browser.Page, state *State, logger *slog.Logger) error {
	if state == nil {
		return nil
	}

	if len(state.Cookies) > 0 {
		if err := page.SetCookies(ctx, state.Cookies); err != nil {
			return apperrors.NewBrowserError("failed to restore session cookies", err)
		}
	}

	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		if err := page.SetLocalStorage(ctx, origin.Origin, origin.LocalStorage); err != nil {
			return apperrors.NewBrowserError(fmt.Sprintf("failed to restore localStorage for %s", origin.Origin), err)
		}
	}

	logger.Info("Session restored",
		slog.Int("cookies", len(state.Cookies)),
		slog.Int("origins", len(state.Origins)))
	return nil
}

// Capture reads the page's cookies and the localStorage of its current
// origin into a fresh State.
func Capture(ctx context.Context, page browser.Page) (*State, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, apperrors.NewBrowserError("failed to read cookies", err)
	}
	state := &State{Cookies: cookies}

	current, err := page.URL(ctx)
	if err != nil {
		return nil, apperrors.NewBrowserError("failed to read page URL", err)
	}
	origin, ok := originOf(current)
	if !ok {
		return state, nil
	}

	items, err := page.LocalStorage(ctx, origin)
	if err != nil {
		return nil, apperrors.NewBrowserError("failed to read localStorage", err)
	}
	if len(items) > 0 {
		state.Origins = append(state.Origins, Origin{Origin: origin, LocalStorage: items})
	}
	return state, nil
}

// WriteFile atomically persists an encoded snapshot with mode 0600.
func WriteFile(path, encoded string, logger *slog.Logger) error {
	m := files.NewManager("", logger)
	if err := m.WriteFileAtomic(path, []byte(encoded+"\n"), 0600); err != nil {
		return apperrors.NewStorageError("failed to write session snapshot", err)
	}
	return nil
}

func originOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}
