// Package agent defines the messages exchanged with the page automation
// agent running inside a surface.
package agent

import (
	"encoding/json"
	"strings"

	errs "github.com/odvcencio/affilink/pkg/errors"
)

// Action tags an agent message.
type Action string

const (
	ActionDetailsScraped        Action = "DETAILS_SCRAPED"
	ActionLinkGenerated         Action = "LINK_GENERATED"
	ActionDebugLog              Action = "DEBUG_LOG"
	ActionExecuteCustomLinkFlow Action = "EXECUTE_CUSTOM_LINK_FLOW"
)

// Signal is a message sent by the agent to the orchestrator.
type Signal struct {
	Action  Action          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
	Link    string          `json:"link,omitempty"`
	Message string          `json:"message,omitempty"`
	// Level is optional on DEBUG_LOG.
	Level string `json:"level,omitempty"`
}

// Command is a message sent by the orchestrator to the agent.
type Command struct {
	Action Action `json:"action"`
	URL    string `json:"url"`
	SubID  string `json:"subId"`
}

// NewLinkFlowCommand builds the link-generation command for productURL.
func NewLinkFlowCommand(productURL, subID string) Command {
	return Command{Action: ActionExecuteCustomLinkFlow, URL: productURL, SubID: subID}
}

// DecodeSignal parses an agent payload. Payloads without an action are
// rejected.
func DecodeSignal(payload []byte) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return Signal{}, errs.Wrap(err, errs.ErrCodeInvalidInput, "decode agent signal")
	}
	sig.Action = Action(strings.TrimSpace(string(sig.Action)))
	if sig.Action == "" {
		return Signal{}, errs.New(errs.ErrCodeInvalidInput, "agent signal has no action")
	}
	return sig, nil
}

// Known reports whether the action is one the orchestrator handles.
func (s Signal) Known() bool {
	switch s.Action {
	case ActionDetailsScraped, ActionLinkGenerated, ActionDebugLog:
		return true
	}
	return false
}
