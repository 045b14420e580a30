package browser

import (
	"context"

	"github.com/odvcencio/affilink/pkg/agent"
)

// Runtime opens automation surfaces.
type Runtime interface {
	NewSurface(ctx context.Context, url string) (Surface, error)
	Close() error
}

// Surface is the port implemented by browser runtime adapters.
type Surface interface {
	Handle() Handle
	Navigate(ctx context.Context, url string) error
	// Dispatch delivers a command to the agent running in the surface.
	Dispatch(ctx context.Context, cmd agent.Command) error
	// Events is closed once the surface is closed.
	Events() <-chan Event
	Close() error
}
