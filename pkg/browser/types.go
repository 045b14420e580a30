package browser

import (
	"encoding/json"
	"time"
)

// Handle identifies one automation surface (a browser tab).
type Handle string

// EventType identifies what a surface observed.
type EventType string

const (
	// EventNavigated fires when a page finishes loading. URL is the
	// surface's current URL.
	EventNavigated EventType = "navigated"
	// EventSignal carries a message posted by the agent. Payload is the raw
	// JSON the agent sent.
	EventSignal EventType = "signal"
	// EventClosed fires when the surface goes away without Close being
	// called, for example when a user closes the tab.
	EventClosed EventType = "closed"
)

// Event is an observation reported by a surface.
type Event struct {
	Type      EventType       `json:"type"`
	Handle    Handle          `json:"handle"`
	URL       string          `json:"url,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
