// Package login ensures the browser session is authenticated, performing an
// interactive sign-in only when the page is not already inside the
// authenticated area.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ino-taku/mf-importer/internal/browser"
	"github.com/ino-taku/mf-importer/internal/config"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

// Config locates the sign-in form and bounds each wait.
type Config struct {
	SignInURL           string
	AuthenticatedPrefix string
	EmailSelector       string
	PasswordSelector    string
	SubmitSelector      string
	FormTimeout         time.Duration
	ConfirmTimeout      time.Duration
	PollInterval        time.Duration
}

// FromConfig converts the loaded configuration section.
func FromConfig(c config.LoginConfig) Config {
	return Config{
		SignInURL:           c.SignInURL,
		AuthenticatedPrefix: c.AuthenticatedPrefix,
		EmailSelector:       c.EmailSelector,
		PasswordSelector:    c.PasswordSelector,
		SubmitSelector:      c.SubmitSelector,
		FormTimeout:         c.FormTimeout,
		ConfirmTimeout:      c.ConfirmTimeout,
		PollInterval:        c.PollInterval,
	}
}

// Credentials are used at most once per run.
type Credentials struct {
	Email    string
	Password string
}

// Result reports how authentication was reached.
type Result struct {
	// Interactive is set when credentials were submitted, so a fresh
	// session snapshot is worth exporting.
	Interactive bool
}

// Flow performs the sign-in.
type Flow struct {
	cfg            Config
	creds          Credentials
	diagnosticsDir string
	logger         *slog.Logger
}

// NewFlow creates a login flow. Screenshots of failed attempts are written
// into diagnosticsDir when it is not empty.
func NewFlow(cfg Config, creds Credentials, diagnosticsDir string, logger *slog.Logger) *Flow {
	return &Flow{
		cfg:            cfg,
		creds:          creds,
		diagnosticsDir: diagnosticsDir,
		logger:         infrastructure.WithComponent(logger, "login"),
	}
}

// EnsureAuthenticated signs in unless the page is already inside the
// authenticated area. It is safe to call repeatedly.
func (f *Flow) EnsureAuthenticated(ctx context.Context, page browser.Page) (Result, error) {
	current, err := page.URL(ctx)
	if err != nil {
		return Result{}, apperrors.NewBrowserError("failed to read page URL", err)
	}
	if hasURLPrefix(current, f.cfg.AuthenticatedPrefix) {
		f.logger.InfoContext(ctx, "Session already authenticated", slog.String("url", current))
		return Result{}, nil
	}

	if f.creds.Email == "" || f.creds.Password == "" {
		return Result{}, apperrors.NewAppValidationError("MF_EMAIL and MF_PASSWORD are required for interactive login")
	}

	f.logger.InfoContext(ctx, "Navigating to sign-in page", slog.String("url", f.cfg.SignInURL))
	if err := page.Navigate(ctx, f.cfg.SignInURL); err != nil {
		return Result{}, apperrors.NewBrowserError("failed to open sign-in page", err)
	}

	frame, email, err := f.findForm(ctx, page)
	if err != nil {
		return Result{}, err
	}
	if frame == "" {
		return Result{}, f.formNotFound(ctx, page, "login form not found in any frame")
	}
	f.logger.InfoContext(ctx, "Login form found", slog.String("frame", frame))

	if err := page.Fill(ctx, email, f.creds.Email); err != nil {
		return Result{}, apperrors.NewBrowserError("failed to fill email", err)
	}

	passwordFilled, err := f.fillPassword(ctx, page, frame)
	if err != nil {
		return Result{}, err
	}
	if err := f.submit(ctx, page, frame); err != nil {
		return Result{}, err
	}
	if !passwordFilled {
		f.logger.InfoContext(ctx, "Password field not shown yet, waiting for second step")
	}

	if err := f.confirm(ctx, page, passwordFilled); err != nil {
		return Result{}, err
	}
	return Result{Interactive: true}, nil
}

// findForm waits for the email field in the main frame, then probes every
// embedded frame once. An empty frame ID means no form was found.
func (f *Flow) findForm(ctx context.Context, page browser.Page) (string, browser.Element, error) {
	main, err := browser.MainFrame(ctx, page)
	if err != nil {
		return "", browser.Element{}, apperrors.NewBrowserError("failed to read frame tree", err)
	}

	els, err := browser.WaitFor(ctx, page, main.ID, f.cfg.EmailSelector, f.cfg.FormTimeout, f.cfg.PollInterval)
	if err == nil {
		return main.ID, pickVisible(els), nil
	}
	if ctx.Err() != nil {
		return "", browser.Element{}, ctx.Err()
	}

	f.logger.DebugContext(ctx, "Email field not in main frame, probing embedded frames")
	frames, err := page.Frames(ctx)
	if err != nil {
		return "", browser.Element{}, apperrors.NewBrowserError("failed to read frame tree", err)
	}
	for _, fr := range frames {
		if fr.Main {
			continue
		}
		els, err := page.Query(ctx, fr.ID, f.cfg.EmailSelector)
		if err != nil {
			f.logger.DebugContext(ctx, "Frame probe failed", slog.String("frame", fr.ID), slog.String("error", err.Error()))
			continue
		}
		if len(els) > 0 {
			return fr.ID, pickVisible(els), nil
		}
	}
	return "", browser.Element{}, nil
}

// fillPassword fills a visible password field in frameID, reporting whether
// one was present.
func (f *Flow) fillPassword(ctx context.Context, page browser.Page, frameID string) (bool, error) {
	els, err := page.Query(ctx, frameID, f.cfg.PasswordSelector)
	if err != nil && !errors.Is(err, browser.ErrNoElement) {
		return false, apperrors.NewBrowserError("failed to query password field", err)
	}
	for _, el := range els {
		if !el.Visible {
			continue
		}
		if err := page.Fill(ctx, el, f.creds.Password); err != nil {
			return false, apperrors.NewBrowserError("failed to fill password", err)
		}
		return true, nil
	}
	return false, nil
}

func (f *Flow) submit(ctx context.Context, page browser.Page, frameID string) error {
	els, err := page.Query(ctx, frameID, f.cfg.SubmitSelector)
	if err != nil && !errors.Is(err, browser.ErrNoElement) {
		return apperrors.NewBrowserError("failed to query submit button", err)
	}
	if len(els) == 0 {
		return f.formNotFound(ctx, page, "submit button not found next to login form")
	}
	if err := page.Click(ctx, pickVisible(els)); err != nil {
		return apperrors.NewBrowserError("failed to submit login form", err)
	}
	return nil
}

// confirm polls until the page leaves the sign-in path. When the password
// has not been entered yet it is filled as soon as the field appears.
func (f *Flow) confirm(ctx context.Context, page browser.Page, passwordFilled bool) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	last := ""
	for {
		if current, err := page.URL(ctx); err == nil {
			last = current
			if f.confirmed(current) {
				f.logger.InfoContext(ctx, "Login confirmed", slog.String("url", current))
				return nil
			}
		}

		if !passwordFilled {
			filled, err := f.fillPasswordAnyFrame(ctx, page)
			if err != nil && ctx.Err() == nil {
				return err
			}
			passwordFilled = filled
		}

		select {
		case <-ctx.Done():
			return apperrors.NewLoginTimeoutError(
				fmt.Sprintf("still on %s after %s", last, f.cfg.ConfirmTimeout), ctx.Err()).
				WithContext("url", last)
		case <-ticker.C:
		}
	}
}

func (f *Flow) fillPasswordAnyFrame(ctx context.Context, page browser.Page) (bool, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return false, nil
	}
	for _, fr := range frames {
		filled, err := f.fillPassword(ctx, page, fr.ID)
		if err != nil {
			return false, err
		}
		if filled {
			f.logger.InfoContext(ctx, "Password step reached", slog.String("frame", fr.ID))
			return true, f.submit(ctx, page, fr.ID)
		}
	}
	return false, nil
}

func (f *Flow) confirmed(current string) bool {
	if hasURLPrefix(current, f.cfg.AuthenticatedPrefix) {
		return true
	}
	u, err := url.Parse(current)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	signIn, err := url.Parse(f.cfg.SignInURL)
	if err != nil {
		return false
	}
	return u.Host != signIn.Host || !strings.HasPrefix(u.Path, signIn.Path)
}

func (f *Flow) formNotFound(ctx context.Context, page browser.Page, msg string) error {
	appErr := apperrors.NewLoginFormNotFoundError(msg)

	diag, err := page.Diagnostics(ctx, f.diagnosticsDir)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to capture diagnostics", slog.String("error", err.Error()))
		return appErr
	}

	appErr.WithContext("title", diag.Title).
		WithContext("url", diag.URL).
		WithContext("user_agent", diag.UserAgent).
		WithContext("html_head", diag.HTMLHead).
		WithContext("html_tail", diag.HTMLTail)
	if diag.Screenshot != "" {
		appErr.WithContext("screenshot", diag.Screenshot)
	}

	f.logger.ErrorContext(ctx, "No login form",
		slog.String("title", diag.Title),
		slog.String("url", diag.URL),
		slog.String("user_agent", diag.UserAgent))
	return appErr
}

// hasURLPrefix matches prefix only on a URL boundary, so
// https://moneyforward.com does not match https://moneyforward.com.example.
func hasURLPrefix(s, prefix string) bool {
	if prefix == "" || !strings.HasPrefix(s, prefix) {
		return false
	}
	if len(s) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	switch s[len(prefix)] {
	case '/', '?', '#':
		return true
	}
	return false
}

func pickVisible(els []browser.Element) browser.Element {
	for _, el := range els {
		if el.Visible {
			return el
		}
	}
	return els[0]
}
