package browser

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/affilink/pkg/agent"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

// Manager tracks open surfaces for a runtime and merges their events into
// one channel.
type Manager struct {
	runtime  Runtime
	surfaces map[Handle]Surface
	mu       sync.Mutex

	events chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewManager creates a Manager backed by the provided runtime.
func NewManager(runtime Runtime) *Manager {
	return &Manager{
		runtime:  runtime,
		surfaces: make(map[Handle]Surface),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
}

// Events returns the merged event stream of every open surface.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Open creates a surface showing url and starts forwarding its events.
func (m *Manager) Open(ctx context.Context, url string) (Handle, error) {
	if m == nil || m.runtime == nil {
		return "", ErrUnavailable
	}
	select {
	case <-m.done:
		return "", ErrUnavailable
	default:
	}

	surf, err := m.runtime.NewSurface(ctx, url)
	if err != nil {
		telemetry.SurfaceErrors.WithLabelValues("open").Inc()
		return "", wrapOp("open", "", err)
	}
	h := surf.Handle()

	m.mu.Lock()
	if _, exists := m.surfaces[h]; exists {
		m.mu.Unlock()
		_ = surf.Close()
		telemetry.SurfaceErrors.WithLabelValues("open").Inc()
		return "", wrapOp("open", h, ErrDuplicate)
	}
	m.surfaces[h] = surf
	m.mu.Unlock()
	telemetry.SurfacesOpen.Inc()

	m.wg.Add(1)
	go m.forward(surf)
	return h, nil
}

func (m *Manager) forward(surf Surface) {
	defer m.wg.Done()
	h := surf.Handle()
	for ev := range surf.Events() {
		if ev.Handle == "" {
			ev.Handle = h
		}
		select {
		case m.events <- ev:
		case <-m.done:
			return
		}
	}

	// Channel closed. If we still track the surface it went away on its own.
	m.mu.Lock()
	cur, tracked := m.surfaces[h]
	if tracked && cur == surf {
		delete(m.surfaces, h)
	}
	m.mu.Unlock()
	if !tracked || cur != surf {
		return
	}
	telemetry.SurfacesOpen.Dec()
	select {
	case m.events <- Event{Type: EventClosed, Handle: h, Timestamp: time.Now()}:
	case <-m.done:
	}
}

func (m *Manager) get(h Handle) (Surface, error) {
	if m == nil {
		return nil, ErrUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	surf, ok := m.surfaces[h]
	if !ok {
		return nil, ErrUnknownSurface
	}
	return surf, nil
}

// Navigate points surface h at url.
func (m *Manager) Navigate(ctx context.Context, h Handle, url string) error {
	surf, err := m.get(h)
	if err != nil {
		return wrapOp("navigate", h, err)
	}
	if err := surf.Navigate(ctx, url); err != nil {
		telemetry.SurfaceErrors.WithLabelValues("navigate").Inc()
		return wrapOp("navigate", h, err)
	}
	return nil
}

// Dispatch sends cmd to the agent in surface h.
func (m *Manager) Dispatch(ctx context.Context, h Handle, cmd agent.Command) error {
	surf, err := m.get(h)
	if err != nil {
		return wrapOp("dispatch", h, err)
	}
	if err := surf.Dispatch(ctx, cmd); err != nil {
		telemetry.SurfaceErrors.WithLabelValues("dispatch").Inc()
		return wrapOp("dispatch", h, err)
	}
	return nil
}

// Close closes and forgets surface h.
func (m *Manager) Close(h Handle) error {
	if m == nil {
		return ErrUnavailable
	}
	m.mu.Lock()
	surf, ok := m.surfaces[h]
	if ok {
		delete(m.surfaces, h)
	}
	m.mu.Unlock()
	if !ok || surf == nil {
		return wrapOp("close", h, ErrUnknownSurface)
	}
	telemetry.SurfacesOpen.Dec()
	return wrapOp("close", h, surf.Close())
}

// Shutdown closes all surfaces and releases the runtime.
func (m *Manager) Shutdown() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() { close(m.done) })

	m.mu.Lock()
	surfaces := make([]Surface, 0, len(m.surfaces))
	for _, surf := range m.surfaces {
		surfaces = append(surfaces, surf)
	}
	m.surfaces = make(map[Handle]Surface)
	m.mu.Unlock()

	var lastErr error
	for _, surf := range surfaces {
		telemetry.SurfacesOpen.Dec()
		if err := surf.Close(); err != nil {
			lastErr = err
		}
	}
	m.wg.Wait()
	if m.runtime != nil {
		if err := m.runtime.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
