package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// ChromeConfig contains Chrome launch settings
type ChromeConfig struct {
	Headless          bool
	UserAgent         string
	ExecPath          string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
}

// ChromeLauncher starts one headless (or headed) Chrome per run.
type ChromeLauncher struct {
	cfg    ChromeConfig
	logger *slog.Logger
}

// NewChromeLauncher creates a launcher
func NewChromeLauncher(cfg ChromeConfig, logger *slog.Logger) *ChromeLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeLauncher{cfg: cfg, logger: logger.With("component", "browser")}
}

// Launch starts Chrome and opens a tab. The release function closes the tab
// and kills the browser process.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, func(), error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		// Keep cross-origin iframes in-process so their documents are scriptable.
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	release := func() {
		cancelTab()
		cancelAlloc()
	}

	c := &Chrome{ctx: tabCtx, cfg: l.cfg, logger: l.logger}

	// The first Run starts the browser process and binds its lifetime to
	// tabCtx, so it must not run on a derived context.
	if err := chromedp.Run(tabCtx); err != nil {
		release()
		return nil, nil, fmt.Errorf("start chrome: %w", err)
	}

	l.logger.InfoContext(ctx, "Chrome started",
		slog.Bool("headless", l.cfg.Headless),
		slog.String("exec_path", l.cfg.ExecPath))

	return c, release, nil
}

// Chrome is a Page backed by a chromedp tab.
type Chrome struct {
	ctx    context.Context
	cfg    ChromeConfig
	logger *slog.Logger
}

// run executes actions on the tab, bounded by ctx's cancellation and deadline.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// URL returns the current location of the main frame
func (c *Chrome) URL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Navigate loads rawURL in the main frame and waits for the load event
func (c *Chrome) Navigate(ctx context.Context, rawURL string) error {
	if c.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.NavigationTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := c.run(ctx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigate to %s: %w", rawURL, err)
	}
	c.logger.DebugContext(ctx, "Navigated",
		slog.String("url", rawURL),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Frames lists the frame tree depth-first, main frame first
func (c *Chrome) Frames(ctx context.Context) ([]Frame, error) {
	var tree *page.FrameTree
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get frame tree: %w", err)
	}

	var frames []Frame
	var walk func(t *page.FrameTree, main bool)
	walk = func(t *page.FrameTree, main bool) {
		if t == nil || t.Frame == nil {
			return
		}
		frames = append(frames, Frame{
			ID:   string(t.Frame.ID),
			Name: t.Frame.Name,
			URL:  t.Frame.URL,
			Main: main,
		})
		for _, child := range t.ChildFrames {
			walk(child, false)
		}
	}
	walk(tree, true)
	return frames, nil
}

// evaluate runs expr in an isolated world of frameID and decodes the
// returned value into out.
func (c *Chrome) evaluate(ctx context.Context, frameID, expr string, out any) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		execID, err := page.CreateIsolatedWorld(cdp.FrameID(frameID)).
			WithWorldName("mfimport").
			Do(ctx)
		if err != nil {
			return fmt.Errorf("create isolated world in frame %s: %w", frameID, err)
		}

		res, exc, err := runtime.Evaluate(expr).
			WithContextID(execID).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal(res.Value, out)
	}))
}

const queryScript = `(function(sel) {
	function cssPath(el) {
		const parts = [];
		while (el && el.nodeType === 1 && el !== document.documentElement) {
			let i = 1;
			for (let s = el.previousElementSibling; s; s = s.previousElementSibling) {
				if (s.tagName === el.tagName) i++;
			}
			parts.unshift(el.tagName.toLowerCase() + ':nth-of-type(' + i + ')');
			el = el.parentElement;
		}
		parts.unshift('html');
		return parts.join(' > ');
	}
	function visible(el) {
		const st = window.getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}
	return Array.from(document.querySelectorAll(sel)).map(function(el) {
		const attrs = {};
		for (const a of el.attributes) attrs[a.name] = a.value;
		return {
			selector: cssPath(el),
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.textContent || '').slice(0, 500),
			attrs: attrs,
			visible: visible(el)
		};
	});
})(%s)`

type queryResult struct {
	Selector string            `json:"selector"`
	Tag      string            `json:"tag"`
	Text     string            `json:"text"`
	Attrs    map[string]string `json:"attrs"`
	Visible  bool              `json:"visible"`
}

// Query returns the elements matching selector in frameID
func (c *Chrome) Query(ctx context.Context, frameID, selector string) ([]Element, error) {
	var results []queryResult
	if err := c.evaluate(ctx, frameID, fmt.Sprintf(queryScript, jsonEncode(selector)), &results); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	els := make([]Element, 0, len(results))
	for _, r := range results {
		el := Element{
			FrameID:  frameID,
			Selector: r.Selector,
			Tag:      r.Tag,
			Text:     r.Text,
			Attrs:    r.Attrs,
			Visible:  r.Visible,
		}
		Describe(&el)
		els = append(els, el)
	}
	return els, nil
}

const fillScript = `(function(sel, value) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.focus();
	const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, value);
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`

// Fill sets the value of an input so framework listeners observe the change
func (c *Chrome) Fill(ctx context.Context, el Element, value string) error {
	var ok bool
	if err := c.evaluate(ctx, el.FrameID, fmt.Sprintf(fillScript, jsonEncode(el.Selector), jsonEncode(value)), &ok); err != nil {
		return fmt.Errorf("fill %s: %w", el.Selector, err)
	}
	if !ok {
		return fmt.Errorf("fill %s: %w", el.Selector, ErrNoElement)
	}
	return nil
}

const clickScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.scrollIntoView({ block: 'center' });
	el.click();
	return true;
})(%s)`

// Click activates the element
func (c *Chrome) Click(ctx context.Context, el Element) error {
	var ok bool
	if err := c.evaluate(ctx, el.FrameID, fmt.Sprintf(clickScript, jsonEncode(el.Selector)), &ok); err != nil {
		return fmt.Errorf("click %s: %w", el.Selector, err)
	}
	if !ok {
		return fmt.Errorf("click %s: %w", el.Selector, ErrNoElement)
	}
	return nil
}

// ExpectDownload routes downloads into dir and arms a listener for the
// next one.
func (c *Chrome) ExpectDownload(ctx context.Context, dir string) (PendingDownload, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	err = c.run(ctx, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(abs).
		WithEventsEnabled(true))
	if err != nil {
		return nil, fmt.Errorf("set download behavior: %w", err)
	}

	listenCtx, cancel := context.WithCancel(c.ctx)
	d := &chromeDownload{
		dir:    abs,
		done:   make(chan downloadResult, 1),
		cancel: cancel,
	}
	chromedp.ListenTarget(listenCtx, d.onEvent)
	return d, nil
}

type downloadResult struct {
	download *Download
	err      error
}

// chromeDownload tracks the first download that begins after arming.
type chromeDownload struct {
	dir    string
	done   chan downloadResult
	cancel context.CancelFunc

	mu        sync.Mutex
	guid      string
	suggested string
	finished  bool
}

// onEvent runs on the chromedp event loop and must not block.
func (d *chromeDownload) onEvent(ev any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch e := ev.(type) {
	case *cdpbrowser.EventDownloadWillBegin:
		if d.guid == "" {
			d.guid = e.GUID
			d.suggested = e.SuggestedFilename
		}
	case *cdpbrowser.EventDownloadProgress:
		if d.finished || e.GUID != d.guid {
			return
		}
		switch e.State {
		case cdpbrowser.DownloadProgressStateCompleted:
			d.finished = true
			d.done <- downloadResult{download: &Download{
				Path:          filepath.Join(d.dir, e.GUID),
				SuggestedName: d.suggested,
				Size:          int64(e.ReceivedBytes),
			}}
		case cdpbrowser.DownloadProgressStateCanceled:
			d.finished = true
			d.done <- downloadResult{err: fmt.Errorf("download %s was canceled", d.suggested)}
		}
	}
}

// Wait blocks until the download completes or ctx is done
func (d *chromeDownload) Wait(ctx context.Context) (*Download, error) {
	select {
	case res := <-d.done:
		if res.err != nil {
			return nil, res.err
		}
		if info, err := os.Stat(res.download.Path); err == nil {
			res.download.Size = info.Size()
		}
		return res.download, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close removes the event listener
func (d *chromeDownload) Close() {
	d.cancel()
}

// Cookies returns every cookie in the browser
func (c *Chrome) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, rc := range raw {
		cookies = append(cookies, Cookie{
			Name:     rc.Name,
			Value:    rc.Value,
			Domain:   rc.Domain,
			Path:     rc.Path,
			Expires:  rc.Expires,
			HTTPOnly: rc.HTTPOnly,
			Secure:   rc.Secure,
			SameSite: rc.SameSite.String(),
		})
	}
	return cookies, nil
}

// SetCookies installs cookies into the browser
func (c *Chrome) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if ck.SameSite != "" {
			p.SameSite = network.CookieSameSite(ck.SameSite)
		}
		if t, ok := ck.ExpiresAt(); ok {
			exp := cdp.TimeSinceEpoch(t)
			p.Expires = &exp
		}
		params = append(params, p)
	}

	if err := c.run(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// ensureOrigin navigates to origin unless the main frame is already there.
func (c *Chrome) ensureOrigin(ctx context.Context, origin string) error {
	current, err := c.URL(ctx)
	if err == nil && sameOrigin(current, origin) {
		return nil
	}
	return c.Navigate(ctx, origin)
}

// LocalStorage reads localStorage of origin
func (c *Chrome) LocalStorage(ctx context.Context, origin string) ([]StorageItem, error) {
	if err := c.ensureOrigin(ctx, origin); err != nil {
		return nil, err
	}
	var items []StorageItem
	script := `Object.keys(window.localStorage).map(function(k) { return { name: k, value: window.localStorage.getItem(k) }; })`
	if err := c.run(ctx, chromedp.Evaluate(script, &items)); err != nil {
		return nil, fmt.Errorf("read localStorage of %s: %w", origin, err)
	}
	return items, nil
}

// SetLocalStorage writes items into localStorage of origin
func (c *Chrome) SetLocalStorage(ctx context.Context, origin string, items []StorageItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.ensureOrigin(ctx, origin); err != nil {
		return err
	}
	script := fmt.Sprintf(`(function(items) {
		items.forEach(function(it) { window.localStorage.setItem(it.name, it.value); });
		return items.length;
	})(%s)`, jsonEncode(items))
	var n int
	if err := c.run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return fmt.Errorf("write localStorage of %s: %w", origin, err)
	}
	return nil
}

// UserAgent returns navigator.userAgent
func (c *Chrome) UserAgent(ctx context.Context) (string, error) {
	var ua string
	if err := c.run(ctx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return "", err
	}
	return ua, nil
}

// Diagnostics captures title, user agent, URL, an HTML excerpt and a
// screenshot. Each part is best effort.
func (c *Chrome) Diagnostics(ctx context.Context, dir string) (*Diagnostics, error) {
	d := &Diagnostics{}

	_ = c.run(ctx, chromedp.Title(&d.Title))
	d.URL, _ = c.URL(ctx)
	d.UserAgent, _ = c.UserAgent(ctx)

	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err == nil {
		d.HTMLHead, d.HTMLTail = Excerpt(html, DiagnosticsExcerpt)
	}

	if dir != "" {
		var buf []byte
		if err := c.run(ctx, chromedp.FullScreenshot(&buf, 90)); err == nil {
			if err := os.MkdirAll(dir, 0755); err == nil {
				path := filepath.Join(dir, fmt.Sprintf("page_%s.png", time.Now().Format("20060102_150405")))
				if err := os.WriteFile(path, buf, 0644); err == nil {
					d.Screenshot = path
				}
			}
		}
	}

	return d, nil
}

func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// sameOrigin reports whether rawURL belongs to origin.
func sameOrigin(rawURL, origin string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Scheme == o.Scheme && u.Host == o.Host
}
