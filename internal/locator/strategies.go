package locator

import (
	"context"
	"log/slog"
	"errors"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/ino-taku/mf-importer/internal/browser"
)

const (
	clickableSelector = `a, button, summary, input[type="button"], input[type="submit"], [role="button"], [role="link"], [role="menuitem"]`
	textSelector      = clickableSelector + `, li`
)

var clickableRoles = map[string]bool{"link": true, "button": true, "menuitem": true}

// fold applies NFKC so full-width text matches ASCII patterns.
func fold(s string) string {
	return norm.NFKC.String(s)
}

// roleStrategy matches links, buttons and menu items by exact label.
type roleStrategy struct {
	labels []string
}

func (s *roleStrategy) Name() string { return "role" }

func (s *roleStrategy) Find(ctx context.Context, page browser.Page, frame browser.Frame) (*browser.Element, error) {
	els, err := page.Query(ctx, frame.ID, clickableSelector)
	if err != nil {
		return nil, err
	}
	for i := range els {
		el := &els[i]
		if !el.Visible || !clickableRoles[el.Role] {
			continue
		}
		for _, label := range s.labels {
			if el.Name == browser.CollapseSpace(label) {
				return el, nil
			}
		}
	}
	return nil, nil
}

// attributeStrategy matches anchors whose href points at a CSV resource.
type attributeStrategy struct{}

func (s *attributeStrategy) Name() string { return "attribute" }

func (s *attributeStrategy) Find(ctx context.Context, page browser.Page, frame browser.Frame) (*browser.Element, error) {
	els, err := page.Query(ctx, frame.ID, "a[href]")
	if err != nil {
		return nil, err
	}
	for i := range els {
		if els[i].Visible && csvHref(els[i].Attrs["href"]) {
			return &els[i], nil
		}
	}
	return nil, nil
}

func csvHref(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || strings.EqualFold(u.Scheme, "javascript") {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, ".csv") ||
		strings.Contains(path, "/csv") ||
		strings.Contains(strings.ToLower(u.RawQuery), "csv")
}

// textStrategy matches clickable elements by visible text.
type textStrategy struct {
	pattern *regexp.Regexp
}

func (s *textStrategy) Name() string { return "text" }

func (s *textStrategy) Find(ctx context.Context, page browser.Page, frame browser.Frame) (*browser.Element, error) {
	els, err := page.Query(ctx, frame.ID, textSelector)
	if err != nil {
		return nil, err
	}

	var matches []browser.Element
	for _, el := range els {
		if el.Visible && s.pattern.MatchString(fold(el.Text)) {
			matches = append(matches, el)
		}
	}
	return best(matches), nil
}

// indirectStrategy clicks controls that reveal the export menu and retries
// the direct strategies once after each click.
type indirectStrategy struct {
	trigger *regexp.Regexp
	text    *regexp.Regexp
	budget  int
	settle  time.Duration
	retry   []Strategy
	clicked map[string]bool
	logger  *slog.Logger

	// download holds a file started by a trigger click until it is taken.
	download *browser.Download
}

func (s *indirectStrategy) takeDownload() *browser.Download {
	dl := s.download
	s.download = nil
	return dl
}

func (s *indirectStrategy) Name() string { return "indirect" }

func (s *indirectStrategy) Find(ctx context.Context, page browser.Page, frame browser.Frame) (*browser.Element, error) {
	if s.budget <= 0 {
		return nil, nil
	}

	els, err := page.Query(ctx, frame.ID, browser.InteractiveSelector)
	if err != nil {
		return nil, err
	}

	for _, el := range els {
		if s.budget <= 0 {
			break
		}
		key := el.FrameID + " " + el.Selector
		if !el.Visible || s.clicked[key] || !s.isTrigger(el) {
			continue
		}
		s.clicked[key] = true
		s.budget--

		s.logger.InfoContext(ctx, "Clicking export trigger",
			slog.String("frame", el.FrameID),
			slog.String("selector", el.Selector),
			slog.String("name", el.Name))
		dl, err := s.click(ctx, page, el)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.DebugContext(ctx, "Trigger click failed", slog.String("error", err.Error()))
			continue
		}
		if dl != nil {
			s.download = dl
			return nil, nil
		}

		if found, err := s.retryDirect(ctx, page); found != nil || err != nil {
			return found, err
		}
	}
	return nil, nil
}

// click presses a trigger with a download armed, then waits for the page to
// settle. A file that arrives in that window is returned; its private
// directory is removed when nothing arrives.
func (s *indirectStrategy) click(ctx context.Context, page browser.Page, el browser.Element) (*browser.Download, error) {
	dir, err := os.MkdirTemp("", "mfimport-trigger-")
	if err != nil {
		return nil, err
	}
	pending, err := page.ExpectDownload(ctx, dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	defer pending.Close()

	if err := page.Click(ctx, el); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, s.settle)
	defer cancel()
	dl, err := pending.Wait(wctx)
	if err == nil && dl != nil {
		return dl, nil
	}
	os.RemoveAll(dir)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, ctx.Err()
}

// isTrigger matches text, label, title, id or class against the trigger
// pattern. Elements that already look like the CSV control are skipped.
func (s *indirectStrategy) isTrigger(el browser.Element) bool {
	text := fold(el.Text)
	if s.text.MatchString(text) {
		return false
	}
	for _, v := range []string{text, el.Name, el.Attrs["aria-label"], el.Attrs["title"], el.Attrs["id"], el.Attrs["class"]} {
		if v != "" && s.trigger.MatchString(fold(v)) {
			return true
		}
	}
	return false
}

func (s *indirectStrategy) retryDirect(ctx context.Context, page browser.Page) (*browser.Element, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return nil, err
	}
	for _, strategy := range s.retry {
		for _, fr := range frames {
			el, err := strategy.Find(ctx, page, fr)
			if err != nil {
				continue
			}
			if el != nil {
				return el, nil
			}
		}
	}
	return nil, nil
}

// exhaustiveStrategy scans every interactive element's text and attributes.
type exhaustiveStrategy struct {
	pattern *regexp.Regexp
}

func (s *exhaustiveStrategy) Name() string { return "exhaustive" }

func (s *exhaustiveStrategy) Find(ctx context.Context, page browser.Page, frame browser.Frame) (*browser.Element, error) {
	els, err := page.Query(ctx, frame.ID, browser.InteractiveSelector)
	if err != nil {
		return nil, err
	}

	// first visible match in document order, else the first hidden one
	var hidden *browser.Element
	for i := range els {
		if !s.matches(els[i]) {
			continue
		}
		if els[i].Visible {
			return &els[i], nil
		}
		if hidden == nil {
			hidden = &els[i]
		}
	}
	return hidden, nil
}

func (s *exhaustiveStrategy) matches(el browser.Element) bool {
	if s.pattern.MatchString(fold(el.Text)) {
		return true
	}
	for _, v := range el.Attrs {
		if s.pattern.MatchString(fold(v)) {
			return true
		}
	}
	return false
}

// best prefers clickable roles, then the shortest text, so a wrapping
// container loses to the control inside it.
func best(els []browser.Element) *browser.Element {
	if len(els) == 0 {
		return nil
	}
	sort.SliceStable(els, func(i, j int) bool {
		ci, cj := clickableRoles[els[i].Role], clickableRoles[els[j].Role]
		if ci != cj {
			return ci
		}
		return len(els[i].Text) < len(els[j].Text)
	})
	return &els[0]
}
