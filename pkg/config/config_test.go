package config_test

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/affilink/pkg/config"
	errs "github.com/odvcencio/affilink/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Stream.URL != "http://localhost:5001/api/extension/stream" {
		t.Fatalf("unexpected stream url %q", cfg.Stream.URL)
	}
	if cfg.Stream.ReconnectDelay != 5*time.Second {
		t.Fatalf("unexpected reconnect delay %v", cfg.Stream.ReconnectDelay)
	}
	if got := cfg.Affiliate.ProductURL("999"); got != "https://affiliate.shopee.vn/offer/product_offer/999" {
		t.Fatalf("ProductURL = %q", got)
	}
	if len(cfg.Affiliate.ShortLinkMarkers) != 2 {
		t.Fatalf("unexpected markers %v", cfg.Affiliate.ShortLinkMarkers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".affilink", "config.yaml"), `
stream:
  url: http://user/stream
  reconnect_delay: 2s
sinks:
  result_url: http://user/result
`)
	writeFile(t, filepath.Join(project, ".affilink", "config.yaml"), `
stream:
  url: http://project/stream
sessions:
  ttl: 1m
`)
	chdir(t, project)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.URL != "http://project/stream" {
		t.Errorf("project config should win, got %q", cfg.Stream.URL)
	}
	if cfg.Stream.ReconnectDelay != 2*time.Second {
		t.Errorf("user config delay lost: %v", cfg.Stream.ReconnectDelay)
	}
	if cfg.Sinks.ResultURL != "http://user/result" {
		t.Errorf("user result url lost: %q", cfg.Sinks.ResultURL)
	}
	if cfg.Sessions.TTL != time.Minute {
		t.Errorf("ttl = %v", cfg.Sessions.TTL)
	}
	if cfg.Sessions.ReapInterval != 30*time.Second {
		t.Errorf("untouched default changed: %v", cfg.Sessions.ReapInterval)
	}
}

func TestEnvOverridesConfigEnvAndFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	writeFile(t, filepath.Join(home, ".affilink", "config.env"), `
AFFILINK_STREAM_URL=http://dotenv/stream
AFFILINK_STORAGE_PATH="/tmp/ledger.db"
`)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.URL != "http://dotenv/stream" {
		t.Errorf("config.env not applied: %q", cfg.Stream.URL)
	}
	if cfg.Storage.Path != "/tmp/ledger.db" {
		t.Errorf("quoted value not unwrapped: %q", cfg.Storage.Path)
	}

	t.Setenv("AFFILINK_STREAM_URL", "http://env/stream")
	t.Setenv("AFFILINK_BROWSER_HEADLESS", "true")
	t.Setenv("AFFILINK_SESSION_TTL", "90s")
	cfg, err = config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.URL != "http://env/stream" {
		t.Errorf("process env should win, got %q", cfg.Stream.URL)
	}
	if !cfg.Browser.Headless {
		t.Error("headless override not applied")
	}
	if cfg.Sessions.TTL != 90*time.Second {
		t.Errorf("ttl = %v", cfg.Sessions.TTL)
	}
}

func TestLoadFromPathRequiresFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := config.LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	if !errs.IsCode(err, errs.ErrCodeConfigLoad) || !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("missing config error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "affilink.yaml")
	writeFile(t, path, "stream:\n  transport: websocket\n  url: ws://host/stream\n")
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Stream.Transport != config.TransportWebSocket {
		t.Errorf("transport = %q", cfg.Stream.Transport)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "stream: [unterminated")
	_, err := config.LoadFromPath(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !errs.IsCode(err, errs.ErrCodeConfigLoad) {
		t.Errorf("code = %s, want %s", errs.GetCode(err), errs.ErrCodeConfigLoad)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown transport":   func(c *config.Config) { c.Stream.Transport = "carrier-pigeon" },
		"empty stream url":    func(c *config.Config) { c.Stream.URL = "" },
		"zero reconnect":      func(c *config.Config) { c.Stream.ReconnectDelay = 0 },
		"zero liveness":       func(c *config.Config) { c.Stream.LivenessInterval = 0 },
		"template without id": func(c *config.Config) { c.Affiliate.ProductEndpoint = "https://x/offer" },
		"empty link endpoint": func(c *config.Config) { c.Affiliate.LinkEndpoint = "" },
		"empty result sink":   func(c *config.Config) { c.Sinks.ResultURL = "" },
		"zero ttl":            func(c *config.Config) { c.Sessions.TTL = 0 },
		"unknown bus":         func(c *config.Config) { c.Bus.Backend = "kafka" },
		"nats without bus": func(c *config.Config) {
			c.Stream.Transport = config.TransportNATS
			c.Bus.Backend = config.BusMemory
		},
		"server without listen": func(c *config.Config) { c.Server.Listen = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errs.IsCode(err, errs.ErrCodeConfigInvalid) {
				t.Errorf("code = %s, want %s", errs.GetCode(err), errs.ErrCodeConfigInvalid)
			}
		})
	}

	cfg := config.DefaultConfig()
	cfg.Stream.Transport = config.TransportNATS
	cfg.Bus.Backend = config.BusNATS
	if err := cfg.Validate(); err != nil {
		t.Fatalf("nats transport with nats bus should validate: %v", err)
	}
}
