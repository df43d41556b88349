// Package static implements browser.Page over static HTML documents parsed
// with goquery. Iframes are loaded from srcdoc or from registered routes, and
// a small set of click behaviours (disclosure, links, form submission and
// downloads) is simulated so page flows can be exercised without Chrome.
package static

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ino-taku/mf-importer/internal/browser"
)

const (
	// DefaultUserAgent is reported by static pages
	DefaultUserAgent = "mfimport-static/1.0"
	srcdocURL        = "about:srcdoc"
	blankPage        = "<html><head><title></title></head><body></body></html>"
)

type download struct {
	name  string
	body  []byte
	stall bool
}

// Submission records a submitted form
type Submission struct {
	FrameID string
	Action  string
	Values  map[string]string
}

type frame struct {
	browser.Frame
	doc *goquery.Document
}

// Page is an in-memory browser tab
type Page struct {
	mu sync.Mutex

	routes    map[string]string
	downloads map[string]download
	readFiles bool
	userAgent string

	current     string
	frames      []*frame
	navigations []string
	submissions []Submission
	clicks      []string

	cookies []browser.Cookie
	storage map[string][]browser.StorageItem

	pending *pendingDownload
	seq     int
}

// Option configures a Page
type Option func(*Page)

// WithFileRoutes lets file:// URLs without a registered route be read from disk.
func WithFileRoutes() Option {
	return func(p *Page) { p.readFiles = true }
}

// New creates an empty page at about:blank
func New(opts ...Option) *Page {
	p := &Page{
		routes:    make(map[string]string),
		downloads: make(map[string]download),
		storage:   make(map[string][]browser.StorageItem),
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.load("about:blank")
	return p
}

// Route registers the document served at rawURL
func (p *Page) Route(rawURL, doc string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[rawURL] = doc
	return p
}

// Serve registers a file download served at rawURL
func (p *Page) Serve(rawURL, name string, body []byte) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads[rawURL] = download{name: name, body: body}
	return p
}

// Stall registers a download at rawURL that starts but never completes
func (p *Page) Stall(rawURL, name string, partial []byte) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads[rawURL] = download{name: name, body: partial, stall: true}
	return p
}

// Open loads rawURL without recording a navigation
func (p *Page) Open(rawURL string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load(rawURL)
	return p
}

// Navigations returns every URL passed to Navigate or reached by a click
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Submissions returns the forms submitted so far
func (p *Page) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Submission(nil), p.submissions...)
}

// Clicks returns the selectors of clicked elements, prefixed with their frame
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// load replaces the current document and rebuilds the frame tree.
func (p *Page) load(rawURL string) {
	p.current = rawURL
	body, ok := p.fetch(rawURL)
	if !ok {
		body = blankPage
	}
	p.frames = nil
	p.addFrame(browser.MainFrameID, "", rawURL, body, true)
}

func (p *Page) fetch(rawURL string) (string, bool) {
	if body, ok := p.routes[rawURL]; ok {
		return body, true
	}
	if p.readFiles {
		if u, err := url.Parse(rawURL); err == nil && u.Scheme == "file" {
			if data, err := os.ReadFile(filepath.FromSlash(u.Path)); err == nil {
				return string(data), true
			}
		}
	}
	return "", false
}

func (p *Page) addFrame(id, name, frameURL, body string, main bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(blankPage))
	}
	p.frames = append(p.frames, &frame{
		Frame: browser.Frame{ID: id, Name: name, URL: frameURL, Main: main},
		doc:   doc,
	})

	doc.Find("iframe").Each(func(i int, s *goquery.Selection) {
		childID := fmt.Sprintf("%s/%d", id, i)
		childName, _ := s.Attr("name")
		if srcdoc, ok := s.Attr("srcdoc"); ok {
			p.addFrame(childID, childName, srcdocURL, srcdoc, false)
			return
		}
		src, _ := s.Attr("src")
		childURL := resolve(frameURL, src)
		childBody, ok := p.fetch(childURL)
		if !ok {
			childBody = blankPage
		}
		p.addFrame(childID, childName, childURL, childBody, false)
	})
}

func (p *Page) frame(id string) (*frame, error) {
	for _, f := range p.frames {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("frame %s: %w", id, browser.ErrNoElement)
}

// URL returns the current location
func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

// Navigate loads rawURL; unknown URLs yield an empty document
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, rawURL)
	p.load(rawURL)
	return nil
}

// Frames lists frames depth-first, main frame first
func (p *Page) Frames(ctx context.Context) ([]browser.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]browser.Frame, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f.Frame)
	}
	return out, nil
}

// Query returns the elements matching selector in frameID
func (p *Page) Query(ctx context.Context, frameID, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.frame(frameID)
	if err != nil {
		return nil, err
	}

	var els []browser.Element
	f.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		el := browser.Element{
			FrameID:  frameID,
			Selector: cssPath(node),
			Tag:      node.Data,
			Text:     s.Text(),
			Attrs:    attrs(node),
			Visible:  visible(node),
		}
		browser.Describe(&el)
		els = append(els, el)
	})
	return els, nil
}

func (p *Page) resolveElement(el browser.Element) (*frame, *goquery.Selection, error) {
	f, err := p.frame(el.FrameID)
	if err != nil {
		return nil, nil, err
	}
	sel := f.doc.Find(el.Selector).First()
	if sel.Length() == 0 {
		return nil, nil, fmt.Errorf("%s: %w", el.Selector, browser.ErrNoElement)
	}
	return f, sel, nil
}

// Fill sets the value attribute of an input
func (p *Page) Fill(ctx context.Context, el browser.Element, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	_, sel, err := p.resolveElement(el)
	if err != nil {
		return err
	}
	sel.SetAttr("value", value)
	return nil
}

// Click simulates activation. In order: an aria-controls target is
// revealed; a link (href or data-href) to a served download delivers it to
// the armed expectation; a link to a known route navigates; a submit
// control submits its form.
func (p *Page) Click(ctx context.Context, el browser.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	f, sel, err := p.resolveElement(el)
	if err != nil {
		return err
	}
	p.clicks = append(p.clicks, el.FrameID+" "+el.Selector)

	if controls, ok := sel.Attr("aria-controls"); ok {
		target := f.doc.Find("#" + controls)
		target.RemoveAttr("hidden")
		if style, ok := target.Attr("style"); ok {
			target.SetAttr("style", stripHidden(style))
		}
		sel.SetAttr("aria-expanded", "true")
	}

	if href := linkTarget(sel); href != "" {
		abs := resolve(f.URL, href)
		if dl, ok := p.downloads[abs]; ok {
			return p.deliver(dl)
		}
		if _, ok := p.fetch(abs); ok {
			p.navigations = append(p.navigations, abs)
			p.load(abs)
		}
		return nil
	}

	if isSubmit(sel) {
		form := sel.Closest("form")
		if form.Length() == 0 {
			return nil
		}
		action, _ := form.Attr("action")
		abs := resolve(f.URL, action)
		values := make(map[string]string)
		form.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
			if name, ok := in.Attr("name"); ok {
				values[name], _ = in.Attr("value")
			}
		})
		p.submissions = append(p.submissions, Submission{FrameID: f.ID, Action: abs, Values: values})
		p.navigations = append(p.navigations, abs)
		p.load(abs)
	}
	return nil
}

func (p *Page) deliver(dl download) error {
	if p.pending == nil {
		return nil
	}
	p.seq++
	guid := fmt.Sprintf("download-%d", p.seq)
	if dl.stall {
		path := filepath.Join(p.pending.dir, guid+".crdownload")
		return os.WriteFile(path, dl.body, 0644)
	}

	path := filepath.Join(p.pending.dir, guid)
	if err := os.WriteFile(path, dl.body, 0644); err != nil {
		return err
	}
	select {
	case p.pending.done <- &browser.Download{Path: path, SuggestedName: dl.name, Size: int64(len(dl.body))}:
	default:
	}
	return nil
}

// ExpectDownload arms delivery of the next clicked download into dir
func (p *Page) ExpectDownload(ctx context.Context, dir string) (browser.PendingDownload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pd := &pendingDownload{page: p, dir: dir, done: make(chan *browser.Download, 1)}
	p.pending = pd
	return pd, nil
}

type pendingDownload struct {
	page *Page
	dir  string
	done chan *browser.Download
}

func (d *pendingDownload) Wait(ctx context.Context) (*browser.Download, error) {
	select {
	case dl := <-d.done:
		return dl, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *pendingDownload) Close() {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	if d.page.pending == d {
		d.page.pending = nil
	}
}

// Cookies returns the stored cookies
func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

// SetCookies stores cookies, replacing entries with the same name, domain and path
func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range cookies {
		replaced := false
		for i, existing := range p.cookies {
			if existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path {
				p.cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			p.cookies = append(p.cookies, c)
		}
	}
	return nil
}

// LocalStorage returns the items stored for origin
func (p *Page) LocalStorage(ctx context.Context, origin string) ([]browser.StorageItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.StorageItem(nil), p.storage[origin]...), nil
}

// SetLocalStorage replaces the items stored for origin
func (p *Page) SetLocalStorage(ctx context.Context, origin string, items []browser.StorageItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storage[origin] = append([]browser.StorageItem(nil), items...)
	return nil
}

// UserAgent returns the configured user agent
func (p *Page) UserAgent(ctx context.Context) (string, error) {
	return p.userAgent, ctx.Err()
}

// Diagnostics captures title, URL and an HTML excerpt of the main frame
func (p *Page) Diagnostics(ctx context.Context, _ string) (*browser.Diagnostics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	main := p.frames[0]
	doc, _ := goquery.OuterHtml(main.doc.Selection)
	head, tail := browser.Excerpt(doc, browser.DiagnosticsExcerpt)
	return &browser.Diagnostics{
		Title:     strings.TrimSpace(main.doc.Find("title").First().Text()),
		UserAgent: p.userAgent,
		URL:       p.current,
		HTMLHead:  head,
		HTMLTail:  tail,
	}, nil
}

// Launcher hands out a single static page
type Launcher struct {
	Page *Page

	mu       sync.Mutex
	released bool
}

// Launch returns the page and a release function
func (l *Launcher) Launch(ctx context.Context) (browser.Page, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return l.Page, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released = true
	}, nil
}

// Released reports whether the release function was called
func (l *Launcher) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

func resolve(base, ref string) string {
	if ref == "" {
		return base
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return r.String()
	}
	return b.ResolveReference(r).String()
}

func linkTarget(sel *goquery.Selection) string {
	link := sel
	if goquery.NodeName(sel) != "a" {
		if a := sel.Closest("a"); a.Length() > 0 {
			link = a
		}
	}
	if href, ok := link.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
		return href
	}
	if href, ok := sel.Attr("data-href"); ok {
		return href
	}
	return ""
}

func isSubmit(sel *goquery.Selection) bool {
	typ, hasType := sel.Attr("type")
	switch goquery.NodeName(sel) {
	case "button":
		return !hasType || strings.EqualFold(typ, "submit")
	case "input":
		return strings.EqualFold(typ, "submit")
	}
	return false
}

func attrs(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

// cssPath builds the same selector the Chrome query script produces.
func cssPath(n *html.Node) string {
	var parts []string
	for ; n != nil && n.Type == html.ElementNode && n.Data != "html"; n = n.Parent {
		i := 1
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == n.Data {
				i++
			}
		}
		parts = append([]string{fmt.Sprintf("%s:nth-of-type(%d)", n.Data, i)}, parts...)
	}
	return strings.Join(append([]string{"html"}, parts...), " > ")
}

func visible(n *html.Node) bool {
	if n.Data == "input" {
		for _, a := range n.Attr {
			if a.Key == "type" && strings.EqualFold(a.Val, "hidden") {
				return false
			}
		}
	}
	for ; n != nil && n.Type == html.ElementNode; n = n.Parent {
		switch n.Data {
		case "head", "script", "style", "template":
			return false
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "hidden":
				return false
			case "style":
				if hiddenStyle(a.Val) {
					return false
				}
			}
		}
	}
	return true
}

func hiddenStyle(style string) bool {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden")
}

func stripHidden(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		if decl = strings.TrimSpace(decl); decl != "" && !hiddenStyle(decl) {
			kept = append(kept, decl)
		}
	}
	return strings.Join(kept, "; ")
}
