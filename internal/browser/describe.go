package browser

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// DiagnosticsExcerpt is how many characters of HTML are kept from each end
// of the document.
const DiagnosticsExcerpt = 1200

// InteractiveSelector matches every element a user could click.
const InteractiveSelector = `a, button, input[type="button"], input[type="submit"], [role], [onclick], [tabindex], summary, li, span[class], div[class]`

// ImplicitRole returns the ARIA role of an element, explicit or implied by
// its tag.
func ImplicitRole(tag string, attrs map[string]string) string {
	if role := strings.TrimSpace(attrs["role"]); role != "" {
		return strings.ToLower(strings.Fields(role)[0])
	}
	switch strings.ToLower(tag) {
	case "a":
		if _, ok := attrs["href"]; ok {
			return "link"
		}
	case "button", "summary":
		return "button"
	case "input":
		switch strings.ToLower(attrs["type"]) {
		case "button", "submit", "reset", "image":
			return "button"
		case "", "text", "email", "password":
			return "textbox"
		}
	case "li":
		return "listitem"
	}
	return ""
}

// AccessibleName approximates the accessible name: aria-label, then visible
// text, then title, value or alt.
func AccessibleName(text string, attrs map[string]string) string {
	for _, candidate := range []string{attrs["aria-label"], text, attrs["title"], attrs["value"], attrs["alt"]} {
		if name := CollapseSpace(candidate); name != "" {
			return name
		}
	}
	return ""
}

// Describe fills the derived Role, Name and Text fields of el.
func Describe(el *Element) {
	el.Text = CollapseSpace(el.Text)
	el.Role = ImplicitRole(el.Tag, el.Attrs)
	el.Name = AccessibleName(el.Text, el.Attrs)
}

// CollapseSpace trims s and folds internal whitespace runs into one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Excerpt returns the first and last n characters of s.
func Excerpt(s string, n int) (head, tail string) {
	if utf8.RuneCountInString(s) <= n {
		return s, s
	}
	runes := []rune(s)
	return string(runes[:n]), string(runes[len(runes)-n:])
}

// WaitFor polls frameID until selector matches at least one element or
// timeout elapses. It returns ctx's error on expiry.
func WaitFor(ctx context.Context, p Page, frameID, selector string, timeout, poll time.Duration) ([]Element, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		els, err := p.Query(ctx, frameID, selector)
		if err == nil && len(els) > 0 {
			return els, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// MainFrame returns the main frame of p.
func MainFrame(ctx context.Context, p Page) (Frame, error) {
	frames, err := p.Frames(ctx)
	if err != nil {
		return Frame{}, err
	}
	for _, f := range frames {
		if f.Main {
			return f, nil
		}
	}
	return Frame{}, ErrNoElement
}
