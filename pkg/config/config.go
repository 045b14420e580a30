package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	errs "github.com/odvcencio/affilink/pkg/errors"
)

// Config represents the complete affilink configuration
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Affiliate AffiliateConfig `yaml:"affiliate"`
	Browser   BrowserConfig   `yaml:"browser"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Storage   StorageConfig   `yaml:"storage"`
	Bus       BusConfig       `yaml:"bus"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// StreamConfig controls the command stream connection.
type StreamConfig struct {
	// Transport is one of sse, websocket or nats.
	Transport        string        `yaml:"transport"`
	URL              string        `yaml:"url"`
	Subject          string        `yaml:"subject"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	LivenessInterval time.Duration `yaml:"liveness_interval"`
}

// SinksConfig holds the outbound log and result endpoints.
type SinksConfig struct {
	LogURL     string        `yaml:"log_url"`
	ResultURL  string        `yaml:"result_url"`
	Timeout    time.Duration `yaml:"timeout"`
	LogRate    float64       `yaml:"log_rate"`
	LogBurst   int           `yaml:"log_burst"`
	LogQueue   int           `yaml:"log_queue"`
	RemoteLogs bool          `yaml:"remote_logs"`
}

// AffiliateConfig describes the affiliate site the workflow drives.
type AffiliateConfig struct {
	// ProductEndpoint must contain the literal {id}.
	ProductEndpoint    string        `yaml:"product_endpoint"`
	LinkEndpoint       string        `yaml:"link_endpoint"`
	LinkPageMarker     string        `yaml:"link_page_marker"`
	ShortLinkMarkers   []string      `yaml:"short_link_markers"`
	ResolveTimeout     time.Duration `yaml:"resolve_timeout"`
	FollowInterstitial bool          `yaml:"follow_interstitial"`
}

// BrowserConfig selects and tunes the automation surface runtime.
type BrowserConfig struct {
	ControlURL     string        `yaml:"control_url"`
	Bin            string        `yaml:"bin"`
	Headless       bool          `yaml:"headless"`
	AgentScript    string        `yaml:"agent_script"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// SessionsConfig controls session expiry.
type SessionsConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// StorageConfig points at the outcome ledger. An empty path disables it.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// BusConfig selects the message bus backend.
type BusConfig struct {
	Backend        string        `yaml:"backend"`
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls the local structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"

	BusMemory = "memory"
	BusNATS   = "nats"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			Transport:        TransportSSE,
			URL:              "http://localhost:5001/api/extension/stream",
			Subject:          "affilink.commands",
			ReconnectDelay:   5 * time.Second,
			LivenessInterval: 30 * time.Second,
		},
		Sinks: SinksConfig{
			LogURL:     "http://localhost:5001/api/extension/log",
			ResultURL:  "http://localhost:5001/api/extension/result",
			Timeout:    10 * time.Second,
			LogRate:    50,
			LogBurst:   100,
			LogQueue:   256,
			RemoteLogs: true,
		},
		Affiliate: AffiliateConfig{
			ProductEndpoint:    "https://affiliate.shopee.vn/offer/product_offer/{id}",
			LinkEndpoint:       "https://affiliate.shopee.vn/offer/custom_link",
			LinkPageMarker:     "/offer/custom_link",
			ShortLinkMarkers:   []string{"shp.ee", "/universal-link/"},
			ResolveTimeout:     15 * time.Second,
			FollowInterstitial: true,
		},
		Browser: BrowserConfig{
			Headless:       false,
			CommandTimeout: 10 * time.Second,
		},
		Sessions: SessionsConfig{
			TTL:          10 * time.Minute,
			ReapInterval: 30 * time.Second,
		},
		Bus: BusConfig{
			Backend:        BusMemory,
			URL:            "nats://127.0.0.1:4222",
			ConnectTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Listen:  "127.0.0.1:5090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			ServiceName: "affilink",
		},
	}
}

// Load loads configuration from the user and project config files, then
// applies environment overrides.
func Load() (*Config, error) {
	return load(filepath.Join(".", ".affilink", "config.yaml"), false)
}

// LoadFromPath is like Load but reads path in place of the project config.
// The file must exist.
func LoadFromPath(path string) (*Config, error) {
	return load(path, true)
}

func load(projectPath string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}

	var configEnv map[string]string
	if home != "" {
		userConfigPath := filepath.Join(home, ".affilink", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, errs.Wrap(err, errs.ErrCodeConfigLoad, "loading user config").WithContext("path", userConfigPath)
		}
		configEnv = loadConfigEnvVars(filepath.Join(home, ".affilink", "config.env"))
	}

	if err := loadAndMerge(cfg, projectPath); err != nil {
		if required || !os.IsNotExist(err) {
			return nil, errs.Wrap(err, errs.ErrCodeConfigLoad, "loading config").WithContext("path", projectPath)
		}
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigEnvVars reads a dotenv file. A missing or unreadable file
// yields no variables.
func loadConfigEnvVars(path string) map[string]string {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil
	}
	return vars
}

// Validate validates the configuration. Failures carry ErrCodeConfigInvalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Stream.Transport) {
	case TransportSSE, TransportWebSocket:
		if strings.TrimSpace(c.Stream.URL) == "" {
			return invalid("stream.url is required for %s transport", c.Stream.Transport)
		}
	case TransportNATS:
		if strings.TrimSpace(c.Stream.Subject) == "" {
			return invalid("stream.subject is required for nats transport")
		}
		if strings.ToLower(c.Bus.Backend) != BusNATS {
			return invalid("nats stream transport requires bus.backend: nats")
		}
	default:
		return invalid("invalid stream transport: %s (valid: sse, websocket, nats)", c.Stream.Transport)
	}

	if c.Stream.ReconnectDelay <= 0 {
		return invalid("stream.reconnect_delay must be positive")
	}
	if c.Stream.LivenessInterval <= 0 {
		return invalid("stream.liveness_interval must be positive")
	}

	if !strings.Contains(c.Affiliate.ProductEndpoint, "{id}") {
		return invalid("affiliate.product_endpoint must contain {id}")
	}
	if strings.TrimSpace(c.Affiliate.LinkEndpoint) == "" {
		return invalid("affiliate.link_endpoint is required")
	}
	if strings.TrimSpace(c.Affiliate.LinkPageMarker) == "" {
		return invalid("affiliate.link_page_marker is required")
	}
	if strings.TrimSpace(c.Sinks.ResultURL) == "" {
		return invalid("sinks.result_url is required")
	}

	if c.Sessions.TTL <= 0 {
		return invalid("sessions.ttl must be positive")
	}
	if c.Sessions.ReapInterval <= 0 {
		return invalid("sessions.reap_interval must be positive")
	}

	switch strings.ToLower(c.Bus.Backend) {
	case BusMemory, BusNATS:
	default:
		return invalid("invalid bus backend: %s (valid: memory, nats)", c.Bus.Backend)
	}

	if c.Server.Enabled && strings.TrimSpace(c.Server.Listen) == "" {
		return invalid("server.listen is required when the server is enabled")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errs.New(errs.ErrCodeConfigInvalid, fmt.Sprintf(format, args...))
}

// ProductURL renders the product endpoint for itemID.
func (c AffiliateConfig) ProductURL(itemID string) string {
	return strings.ReplaceAll(c.ProductEndpoint, "{id}", itemID)
}
