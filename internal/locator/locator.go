// Package locator finds the control that starts the CSV export. The page
// markup has changed many times, so detection is an ordered list of
// strategies, each bounded by its own timeout and applied to every frame.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/ino-taku/mf-importer/internal/browser"
	"github.com/ino-taku/mf-importer/internal/config"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

// maxScannedText truncates texts reported in ExportControlNotFound.
const maxScannedText = 80

// Strategy is one way of finding the export control inside a frame.
type Strategy interface {
	Name() string
	// Find returns nil without error when the frame has no match.
	Find(ctx context.Context, page browser.Page, frame browser.Frame) (*browser.Element, error)
}

// Config selects and tunes the strategies.
type Config struct {
	Strategies      []string
	Labels          []string
	TextPattern     string
	TriggerPattern  string
	MaxTriggers     int
	StrategyTimeout time.Duration
	PollInterval    time.Duration
}

// FromConfig converts the loaded configuration section.
func FromConfig(c config.LocatorConfig, poll time.Duration) Config {
	return Config{
		Strategies:      c.Strategies,
		Labels:          c.Labels,
		TextPattern:     c.TextPattern,
		TriggerPattern:  c.TriggerPattern,
		MaxTriggers:     c.MaxTriggers,
		StrategyTimeout: c.StrategyTimeout,
		PollInterval:    poll,
	}
}

// Locator runs the configured strategies in order.
type Locator struct {
	cfg     Config
	text    *regexp.Regexp
	trigger *regexp.Regexp
	logger  *slog.Logger
}

// New compiles the patterns and checks the strategy names.
func New(cfg Config, logger *slog.Logger) (*Locator, error) {
	text, err := regexp.Compile(cfg.TextPattern)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid locator text pattern", err)
	}
	trigger, err := regexp.Compile(cfg.TriggerPattern)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid locator trigger pattern", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}

	l := &Locator{
		cfg:     cfg,
		text:    text,
		trigger: trigger,
		logger:  infrastructure.WithComponent(logger, "locator"),
	}
	if _, err := l.strategies(); err != nil {
		return nil, err
	}
	return l, nil
}

// strategies builds a fresh strategy list; the indirect strategy keeps a
// click budget that must not leak between Locate calls.
func (l *Locator) strategies() ([]Strategy, error) {
	direct := []Strategy{
		&roleStrategy{labels: l.cfg.Labels},
		&attributeStrategy{},
		&textStrategy{pattern: l.text},
	}

	out := make([]Strategy, 0, len(l.cfg.Strategies))
	for _, name := range l.cfg.Strategies {
		switch name {
		case "role":
			out = append(out, direct[0])
		case "attribute":
			out = append(out, direct[1])
		case "text":
			out = append(out, direct[2])
		case "indirect":
			out = append(out, &indirectStrategy{
				trigger: l.trigger,
				text:    l.text,
				budget:  l.cfg.MaxTriggers,
				settle:  l.cfg.PollInterval,
				retry:   direct,
				clicked: make(map[string]bool),
				logger:  l.logger,
			})
		case "exhaustive":
			out = append(out, &exhaustiveStrategy{pattern: l.text})
		default:
			return nil, apperrors.NewConfigError(fmt.Sprintf("unknown locator strategy %q", name), nil)
		}
	}
	return out, nil
}

// Locate returns the export control, trying each strategy until one matches.
func (l *Locator) Locate(ctx context.Context, page browser.Page) (browser.Target, error) {
	strategies, err := l.strategies()
	if err != nil {
		return browser.Target{}, err
	}

	for _, s := range strategies {
		target, err := l.attempt(ctx, page, s)
		if err != nil {
			return browser.Target{}, err
		}
		if target != nil {
			target.Strategy = s.Name()
			if el := target.Element; el != nil {
				l.logger.InfoContext(ctx, "Export control found",
					slog.String("strategy", s.Name()),
					slog.String("frame", el.FrameID),
					slog.String("selector", el.Selector),
					slog.String("name", el.Name))
			} else {
				l.logger.InfoContext(ctx, "Export started by trigger",
					slog.String("strategy", s.Name()),
					slog.String("suggested_name", target.Download.SuggestedName))
			}
			return *target, nil
		}
		l.logger.DebugContext(ctx, "Strategy found nothing", slog.String("strategy", s.Name()))
	}

	scanned := l.Scan(ctx, page)
	l.logger.ErrorContext(ctx, "Export control not found", slog.Int("frames", len(scanned)))
	return browser.Target{}, apperrors.NewExportControlNotFoundError(scanned)
}

// downloadSource is implemented by strategies whose clicks may start the
// export themselves.
type downloadSource interface {
	takeDownload() *browser.Download
}

// attempt polls every frame with s until it matches or its timeout expires.
func (l *Locator) attempt(ctx context.Context, page browser.Page, s Strategy) (*browser.Target, error) {
	sctx, cancel := context.WithTimeout(ctx, l.cfg.StrategyTimeout)
	defer cancel()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		frames, err := page.Frames(sctx)
		if err == nil {
			for _, fr := range frames {
				el, err := s.Find(sctx, page, fr)
				if err != nil {
					if sctx.Err() != nil {
						break
					}
					l.logger.DebugContext(ctx, "Strategy failed in frame",
						slog.String("strategy", s.Name()),
						slog.String("frame", fr.ID),
						slog.String("error", err.Error()))
					continue
				}
				if el != nil {
					return &browser.Target{Element: el}, nil
				}
				if ds, ok := s.(downloadSource); ok {
					if dl := ds.takeDownload(); dl != nil {
						return &browser.Target{Download: dl}, nil
					}
				}
			}
		}

		select {
		case <-sctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, nil
		case <-ticker.C:
		}
	}
}

// Scan lists the de-duplicated texts of interactive elements per frame.
func (l *Locator) Scan(ctx context.Context, page browser.Page) map[string][]string {
	scanned := make(map[string][]string)

	frames, err := page.Frames(ctx)
	if err != nil {
		return scanned
	}
	for _, fr := range frames {
		els, err := page.Query(ctx, fr.ID, browser.InteractiveSelector)
		if err != nil {
			continue
		}

		seen := make(map[string]bool)
		texts := []string{}
		for _, el := range els {
			text := el.Name
			if text == "" {
				text = el.Text
			}
			text = truncate(text, maxScannedText)
			if text == "" || seen[text] {
				continue
			}
			seen[text] = true
			texts = append(texts, text)
		}
		scanned[frameKey(fr)] = texts
	}
	return scanned
}

func frameKey(fr browser.Frame) string {
	if fr.URL == "" {
		return fr.ID
	}
	return fr.ID + " " + fr.URL
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
