package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file over cfg. Keys absent from the file keep
// their current values.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// envLookup prefers the process environment over config.env entries.
type envLookup map[string]string

func (e envLookup) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(e[key])
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	env := envLookup(configEnv)

	setString := func(key string, dst *string) {
		if v := env.get(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := env.get(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := env.get(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("AFFILINK_STREAM_TRANSPORT", &cfg.Stream.Transport)
	setString("AFFILINK_STREAM_URL", &cfg.Stream.URL)
	setString("AFFILINK_STREAM_SUBJECT", &cfg.Stream.Subject)
	setDuration("AFFILINK_STREAM_RECONNECT_DELAY", &cfg.Stream.ReconnectDelay)

	setString("AFFILINK_LOG_SINK_URL", &cfg.Sinks.LogURL)
	setString("AFFILINK_RESULT_SINK_URL", &cfg.Sinks.ResultURL)
	setBool("AFFILINK_REMOTE_LOGS", &cfg.Sinks.RemoteLogs)

	setString("AFFILINK_PRODUCT_ENDPOINT", &cfg.Affiliate.ProductEndpoint)
	setString("AFFILINK_LINK_ENDPOINT", &cfg.Affiliate.LinkEndpoint)

	setString("AFFILINK_BROWSER_CONTROL_URL", &cfg.Browser.ControlURL)
	setString("AFFILINK_BROWSER_BIN", &cfg.Browser.Bin)
	setBool("AFFILINK_BROWSER_HEADLESS", &cfg.Browser.Headless)
	setString("AFFILINK_AGENT_SCRIPT", &cfg.Browser.AgentScript)

	setDuration("AFFILINK_SESSION_TTL", &cfg.Sessions.TTL)
	setString("AFFILINK_STORAGE_PATH", &cfg.Storage.Path)

	setString("AFFILINK_BUS_BACKEND", &cfg.Bus.Backend)
	setString("AFFILINK_NATS_URL", &cfg.Bus.URL)
	setString("AFFILINK_NATS_TOKEN", &cfg.Bus.Token)
	setString("AFFILINK_NATS_USERNAME", &cfg.Bus.Username)
	setString("AFFILINK_NATS_PASSWORD", &cfg.Bus.Password)

	setBool("AFFILINK_SERVER_ENABLED", &cfg.Server.Enabled)
	setString("AFFILINK_SERVER_LISTEN", &cfg.Server.Listen)

	setString("AFFILINK_LOG_LEVEL", &cfg.Logging.Level)
	setString("AFFILINK_LOG_DIR", &cfg.Logging.Dir)
	setBool("AFFILINK_TRACING_ENABLED", &cfg.Tracing.Enabled)
}
