// Package rod implements browser surfaces as Chrome tabs driven over the
// DevTools protocol.
package rod

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	gorod "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/odvcencio/affilink/pkg/browser"
	"github.com/odvcencio/affilink/pkg/logging"
)

//go:embed bridge.js
var bridgeJS string

// bindingName is the DevTools runtime binding the bridge posts signals to.
const bindingName = "__affilinkSignal"

// Runtime is a Chrome-backed browser runtime.
type Runtime struct {
	cfg     Config
	logger  *logging.Logger
	browser *gorod.Browser
	script  string

	mu       sync.Mutex
	surfaces map[proto.TargetTargetID]*Surface
	cancel   context.CancelFunc
}

// NewRuntime connects to Chrome at cfg.ControlURL, launching one when no
// URL is configured.
func NewRuntime(ctx context.Context, cfg Config, logger *logging.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}

	controlURL := strings.TrimSpace(cfg.ControlURL)
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	b := gorod.New().ControlURL(controlURL).Context(watchCtx)
	if err := b.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		browser:  b,
		script:   documentScript(cfg.AgentScript),
		surfaces: make(map[proto.TargetTargetID]*Surface),
		cancel:   cancel,
	}

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		logger.Warn(logging.CategoryAgent, "discover_targets_failed",
			"Tab removal will not be observed", map[string]any{"error": err.Error()})
	}
	wait := b.EachEvent(func(ev *proto.TargetTargetDestroyed) {
		r.targetGone(ev.TargetID)
	})
	go wait()

	logger.Info(logging.CategoryAgent, "chrome_connected", "Connected to Chrome",
		map[string]any{"control_url": controlURL})
	return r, nil
}

// NewSurface opens a tab, installs the bridge and agent script, and
// navigates it to url.
func (r *Runtime) NewSurface(ctx context.Context, url string) (browser.Surface, error) {
	if r == nil || r.browser == nil {
		return nil, browser.ErrUnavailable
	}

	page, err := r.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument(r.script); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("install agent script: %w", err)
	}

	s := newSurface(page, r.cfg.EventBuffer, r.logger)
	r.mu.Lock()
	r.surfaces[page.TargetID] = s
	r.mu.Unlock()
	s.watch(func() {
		r.mu.Lock()
		delete(r.surfaces, page.TargetID)
		r.mu.Unlock()
	})

	if err := page.Context(ctx).Navigate(url); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	return s, nil
}

func (r *Runtime) targetGone(id proto.TargetTargetID) {
	r.mu.Lock()
	s, ok := r.surfaces[id]
	r.mu.Unlock()
	if ok {
		s.gone()
	}
}

// Close disconnects from Chrome.
func (r *Runtime) Close() error {
	if r == nil || r.browser == nil {
		return nil
	}
	r.mu.Lock()
	surfaces := make([]*Surface, 0, len(r.surfaces))
	for _, s := range r.surfaces {
		surfaces = append(surfaces, s)
	}
	r.mu.Unlock()
	for _, s := range surfaces {
		_ = s.Close()
	}
	err := r.browser.Close()
	r.cancel()
	return err
}
