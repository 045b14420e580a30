package rod

import (
	"fmt"
	"os"
	"strings"
)

// Config controls how the rod adapter reaches Chrome.
type Config struct {
	// ControlURL is a DevTools websocket URL. When empty a browser is
	// launched.
	ControlURL string
	// Bin overrides the browser binary used when launching.
	Bin      string
	Headless bool
	// AgentScript is JavaScript installed on every document after the
	// bridge.
	AgentScript string
	// EventBuffer sizes each surface's event channel.
	EventBuffer int
}

// LoadAgentScript reads the agent script at path. An empty path yields an
// empty script.
func LoadAgentScript(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read agent script: %w", err)
	}
	return string(data), nil
}

// documentScript joins the bridge with the agent script.
func documentScript(agentScript string) string {
	if strings.TrimSpace(agentScript) == "" {
		return bridgeJS
	}
	return bridgeJS + "\n;\n" + agentScript
}
