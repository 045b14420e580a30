package rod

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gorod "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/odvcencio/affilink/pkg/agent"
	"github.com/odvcencio/affilink/pkg/browser"
	"github.com/odvcencio/affilink/pkg/logging"
)

const receiveJS = `(cmd) => window.__affilinkAgent ? window.__affilinkAgent.receive(cmd) : -1`

// Surface is one Chrome tab.
type Surface struct {
	page   *gorod.Page
	handle browser.Handle
	logger *logging.Logger

	events chan browser.Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newSurface(page *gorod.Page, buffer int, logger *logging.Logger) *Surface {
	ctx, cancel := context.WithCancel(context.Background())
	var handle browser.Handle
	if page != nil {
		handle = browser.Handle(page.TargetID)
	}
	return &Surface{
		page:   page,
		handle: handle,
		logger: logger,
		events: make(chan browser.Event, buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// watch subscribes to page events until the surface closes. onExit runs
// after the event channel is closed.
func (s *Surface) watch(onExit func()) {
	wait := s.page.Context(s.ctx).EachEvent(
		func(*proto.PageLoadEventFired) {
			url := ""
			if info, err := s.page.Info(); err == nil {
				url = info.URL
			}
			s.onLoad(url)
		},
		func(ev *proto.RuntimeBindingCalled) {
			s.onBinding(ev.Name, ev.Payload)
		},
	)
	go func() {
		wait()
		s.finish()
		if onExit != nil {
			onExit()
		}
	}()
}

func (s *Surface) onLoad(url string) {
	s.emit(browser.Event{Type: browser.EventNavigated, Handle: s.handle, URL: url, Timestamp: time.Now()})
}

func (s *Surface) onBinding(name, payload string) {
	if name != bindingName {
		return
	}
	if !json.Valid([]byte(payload)) {
		s.logger.Warn(logging.CategoryAgent, "invalid_signal", "Dropped non-JSON agent payload",
			map[string]any{"surface": string(s.handle)})
		return
	}
	s.emit(browser.Event{
		Type:      browser.EventSignal,
		Handle:    s.handle,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now(),
	})
}

func (s *Surface) emit(ev browser.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// finish closes the event channel once the watcher has stopped.
func (s *Surface) finish() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
	close(s.events)
}

// gone stops the watcher after the tab was destroyed elsewhere.
func (s *Surface) gone() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// Handle returns the tab's target id.
func (s *Surface) Handle() browser.Handle {
	return s.handle
}

// Navigate loads url in the tab.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	select {
	case <-s.done:
		return browser.ErrSurfaceClosed
	default:
	}
	return s.page.Context(ctx).Navigate(url)
}

// Dispatch hands cmd to the agent's receive hook.
func (s *Surface) Dispatch(ctx context.Context, cmd agent.Command) error {
	select {
	case <-s.done:
		return browser.ErrSurfaceClosed
	default:
	}
	res, err := s.page.Context(ctx).Eval(receiveJS, cmd)
	if err != nil {
		return err
	}
	return receiveResult(res.Value.Int())
}

// receiveResult maps the receive hook's handler count to an error: -1 means
// the bridge is missing, 0 that no agent registered a handler.
func receiveResult(handlers int) error {
	if handlers <= 0 {
		return browser.ErrAgentNotListening
	}
	return nil
}

// Events returns page loads and agent signals.
func (s *Surface) Events() <-chan browser.Event {
	return s.events
}

// Close closes the tab.
func (s *Surface) Close() error {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		close(s.done)
		s.cancel()
	})
	if !closed {
		return nil
	}
	s.closeErr = s.page.Close()
	return s.closeErr
}
