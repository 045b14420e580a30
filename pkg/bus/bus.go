// Package bus provides the publish/subscribe abstraction used for workflow
// lifecycle events and broker-based command intake. The production
// implementation uses NATS; the in-memory one backs single-process runs and
// tests.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// Subjects used by affilink.
const (
	SubjectWorkflowPrefix = "affilink.workflow."
	SubjectAll            = "affilink.>"
)

// MessageBus is the core interface for event distribution.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "affilink.workflow.*" matches
	// "affilink.workflow.reported"; "affilink.>" matches everything below.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe delivers each message to one subscriber of the queue
	// group.
	QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds configuration for creating a NATS MessageBus.
type Config struct {
	URL      string
	Name     string
	Username string
	Password string
	Token    string
	Timeout  time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "affilink",
		Timeout: 5 * time.Second,
	}
}

// Envelope is the JSON body of every lifecycle event.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// PublishEvent wraps data in an Envelope and publishes it on
// SubjectWorkflowPrefix+eventType.
func PublishEvent(ctx context.Context, b MessageBus, eventType string, data map[string]any) error {
	if b == nil {
		return nil
	}
	env := Envelope{
		ID:        ulid.Make().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.Publish(ctx, SubjectWorkflowPrefix+eventType, payload)
}
