// Package browser abstracts the page operations the importer needs so the
// login, locator and download stages run against Chrome in production and
// against static HTML fixtures in tests.
package browser

import (
	"context"
	"errors"
	"time"
)

// MainFrameID identifies the top-level document in static pages. Chrome uses
// its own frame IDs; check Frame.Main instead of comparing IDs.
const MainFrameID = "main"

// ErrNoElement is returned when an element addressed by selector is gone.
var ErrNoElement = errors.New("element not found")

// Frame is a document in the page: the main frame or an embedded iframe.
type Frame struct {
	ID   string
	Name string
	URL  string
	Main bool
}

// Element is a snapshot of a DOM element. Selector addresses it uniquely
// inside its frame.
type Element struct {
	FrameID  string
	Selector string
	Tag      string
	Role     string
	Name     string
	Text     string
	Attrs    map[string]string
	Visible  bool
}

// Download is a completed transfer staged on disk.
type Download struct {
	Path          string
	SuggestedName string
	Size          int64
}

// Target is what the locator hands to the download stage: either an element
// whose click starts the transfer, or a transfer that already completed.
type Target struct {
	Element  *Element
	Download *Download
	Strategy string
}

// Cookie mirrors the cookie entries of a browser storage state file.
type Cookie struct {
	Name     string  `json:"name" validate:"required"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain" validate:"required"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty" validate:"omitempty,oneof=Strict Lax None"`
}

// ExpiresAt returns the cookie expiry; ok is false for session cookies.
func (c Cookie) ExpiresAt() (t time.Time, ok bool) {
	if c.Expires <= 0 {
		return time.Time{}, false
	}
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), true
}

// StorageItem is one localStorage entry.
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Diagnostics is captured when a stage cannot find what it expects.
type Diagnostics struct {
	Title      string
	UserAgent  string
	URL        string
	HTMLHead   string
	HTMLTail   string
	Screenshot string
}

// PendingDownload is an armed download expectation.
type PendingDownload interface {
	// Wait blocks until the next download completes or ctx is done.
	Wait(ctx context.Context) (*Download, error)
	// Close disarms the expectation.
	Close()
}

// Page is a single browser tab.
type Page interface {
	URL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error

	// Frames lists the main frame first, then embedded frames depth-first.
	Frames(ctx context.Context) ([]Frame, error)
	// Query returns elements matching a CSS selector in one frame, in
	// document order.
	Query(ctx context.Context, frameID, selector string) ([]Element, error)

	Fill(ctx context.Context, el Element, value string) error
	Click(ctx context.Context, el Element) error

	// ExpectDownload must be called before the action that starts the
	// download. Files are written into dir.
	ExpectDownload(ctx context.Context, dir string) (PendingDownload, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	LocalStorage(ctx context.Context, origin string) ([]StorageItem, error)
	SetLocalStorage(ctx context.Context, origin string, items []StorageItem) error

	UserAgent(ctx context.Context) (string, error)
	// Diagnostics captures the page state; a screenshot is written into dir
	// when dir is not empty and the implementation supports it.
	Diagnostics(ctx context.Context, dir string) (*Diagnostics, error)
}

// Launcher opens a page and returns a release function that must be called
// on every exit path.
type Launcher interface {
	Launch(ctx context.Context) (Page, func(), error)
}
