package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/ino-taku/mf-importer/internal/browser"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

// Fetcher requests the export endpoint directly with the browser's cookies.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher. A nil client gets one bounded by timeout.
func NewFetcher(client *http.Client, timeout time.Duration, userAgent string, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{client: client, userAgent: userAgent, logger: infrastructure.WithComponent(logger, "fetch")}
}

// Fetch GETs rawURL and stages the body in a private temp directory. The
// returned download is ready to hand to Capturer as a completed target.
func (f *Fetcher) Fetch(ctx context.Context, cookies []browser.Cookie, rawURL string) (*browser.Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.NewAppValidationError(fmt.Sprintf("invalid export URL %q", rawURL))
	}

	jar, err := cookieJar(cookies)
	if err != nil {
		return nil, apperrors.NewBrowserError("failed to build cookie jar", err)
	}
	client := *f.client
	client.Jar = jar

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperrors.NewAppValidationError(fmt.Sprintf("invalid export URL %q", rawURL))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/csv,application/octet-stream;q=0.9,*/*;q=0.8")

	f.logger.InfoContext(ctx, "Requesting export", slog.String("url", rawURL))
	resp, err := client.Do(req)
	if err != nil {
		f.logger.ErrorContext(ctx, "HTTP GET failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewAppError(apperrors.ErrTypeUpstreamRequest, "export request failed", err).
			WithContext("url", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.ErrorContext(ctx, "Bad HTTP status",
			slog.String("url", rawURL),
			slog.Int("status_code", resp.StatusCode))
		return nil, apperrors.NewUpstreamRequestError(resp.StatusCode, rawURL)
	}

	dir, err := os.MkdirTemp("", "mfimport-fetch-")
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create staging directory", err)
	}
	dest := filepath.Join(dir, "body")

	out, err := os.Create(dest)
	if err != nil {
		os.RemoveAll(dir)
		return nil, apperrors.NewStorageError("failed to create staging file", err)
	}
	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, apperrors.NewStorageError("failed to read export response", err).
			WithContext("bytes_written", written)
	}

	return &browser.Download{
		Path:          dest,
		SuggestedName: suggestedName(resp, u),
		Size:          written,
	}, nil
}

// cookieJar loads browser cookies into a jar so each request only carries
// the cookies matching its host and path.
func cookieJar(cookies []browser.Cookie) (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		cookiePath := c.Path
		if cookiePath == "" {
			cookiePath = "/"
		}

		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     cookiePath,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host
		}
		if t, ok := c.ExpiresAt(); ok {
			hc.Expires = t
		}
		jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: cookiePath}, []*http.Cookie{hc})
	}
	return jar, nil
}

func suggestedName(resp *http.Response, u *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	return path.Base(u.Path)
}

// Period fills the export URL template.
type Period struct {
	Year  int
	Month int
}

// ExportURL renders tmpl for the given period.
func ExportURL(tmpl string, p Period) (string, error) {
	t, err := template.New("export").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", apperrors.NewConfigError("invalid export URL template", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		return "", apperrors.NewConfigError("failed to render export URL", err)
	}
	return buf.String(), nil
}
