package browser

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable    = errors.New("browser runtime unavailable")
	ErrSurfaceClosed  = errors.New("browser surface closed")
	ErrUnknownSurface = errors.New("unknown browser surface")
	ErrDuplicate      = errors.New("browser surface handle already in use")
	// ErrAgentNotListening means a command reached a page with no agent
	// handler installed.
	ErrAgentNotListening = errors.New("automation agent not listening")
)

// SurfaceError wraps a surface operation failure with the handle involved.
type SurfaceError struct {
	Op     string
	Handle Handle
	Err    error
}

func (e *SurfaceError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("browser %s [%s]: %v", e.Op, e.Handle, e.Err)
}

func (e *SurfaceError) Unwrap() error {
	return e.Err
}

func wrapOp(op string, h Handle, err error) error {
	if err == nil {
		return nil
	}
	return &SurfaceError{Op: op, Handle: h, Err: err}
}

// IsGone reports whether err means the surface no longer exists.
func IsGone(err error) bool {
	return errors.Is(err, ErrSurfaceClosed) || errors.Is(err, ErrUnknownSurface)
}
