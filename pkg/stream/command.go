// Package stream keeps a single self-healing connection to the command
// source and hands decoded commands to a handler.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/odvcencio/affilink/pkg/errors"
)

// Command types sent by the command source.
const (
	CommandOpenURL   = "open_url"
	CommandConnected = "connected"
)

// Command is one tagged event from the command source.
type Command struct {
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// Decode parses a raw stream payload.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, errors.Wrap(err, errors.ErrCodeStreamDecode, "malformed command")
	}
	cmd.Type = strings.TrimSpace(cmd.Type)
	if cmd.Type == "" {
		return Command{}, errors.New(errors.ErrCodeStreamDecode, "command has no type")
	}
	return cmd, nil
}

// ReadyState mirrors the connection states of an event source.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}
