package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/odvcencio/affilink/pkg/api"
	"github.com/odvcencio/affilink/pkg/browser"
	"github.com/odvcencio/affilink/pkg/browser/adapters/rod"
	"github.com/odvcencio/affilink/pkg/bus"
	"github.com/odvcencio/affilink/pkg/config"
	"github.com/odvcencio/affilink/pkg/logging"
	"github.com/odvcencio/affilink/pkg/report"
	"github.com/odvcencio/affilink/pkg/resolver"
	"github.com/odvcencio/affilink/pkg/storage"
	"github.com/odvcencio/affilink/pkg/stream"
	"github.com/odvcencio/affilink/pkg/telemetry"
	"github.com/odvcencio/affilink/pkg/workflow"
)

const shutdownTimeout = 5 * time.Second

// serve wires every component and runs until ctx is cancelled or one of
// them fails.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(os.Stdout, expandHome(cfg.Logging.Dir))
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetMinLevel(logging.ParseLevel(cfg.Logging.Level))

	if cfg.Sinks.RemoteLogs && strings.TrimSpace(cfg.Sinks.LogURL) != "" {
		sink := logging.NewRemoteSink(cfg.Sinks.LogURL, logging.RemoteSinkOptions{
			QueueSize: cfg.Sinks.LogQueue,
			Rate:      rate.Limit(cfg.Sinks.LogRate),
			Burst:     cfg.Sinks.LogBurst,
			Timeout:   cfg.Sinks.Timeout,
		})
		logger.AddSink(sink)
		defer sink.Close()
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(cfg.Tracing.ServiceName, version, os.Stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = tp.Shutdown(sctx)
		}()
	}

	b, err := newBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer b.Close()

	var (
		ledger   workflow.Ledger
		outcomes api.Outcomes
	)
	if path := expandHome(cfg.Storage.Path); path != "" {
		store, err := storage.New(path)
		if err != nil {
			return err
		}
		defer store.Close()
		ledger, outcomes = store, store
	}

	script, err := rod.LoadAgentScript(expandHome(cfg.Browser.AgentScript))
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	runtime, err := rod.NewRuntime(ctx, rod.Config{
		ControlURL:  cfg.Browser.ControlURL,
		Bin:         cfg.Browser.Bin,
		Headless:    cfg.Browser.Headless,
		AgentScript: script,
	}, logger)
	if err != nil {
		return err
	}
	surfaces := browser.NewManager(runtime)
	defer surfaces.Shutdown()

	orch := workflow.New(workflow.Options{
		Surfaces: surfaces,
		Events:   surfaces.Events(),
		Resolver: resolver.New(resolver.Options{
			ShortLinkMarkers:   cfg.Affiliate.ShortLinkMarkers,
			Timeout:            cfg.Affiliate.ResolveTimeout,
			FollowInterstitial: cfg.Affiliate.FollowInterstitial,
			Logger:             logger,
		}),
		Reporter:       report.NewHTTPReporter(cfg.Sinks.ResultURL, cfg.Sinks.Timeout),
		Ledger:         ledger,
		Bus:            b,
		Logger:         logger,
		Affiliate:      cfg.Affiliate,
		TTL:            cfg.Sessions.TTL,
		ReapInterval:   cfg.Sessions.ReapInterval,
		CommandTimeout: cfg.Browser.CommandTimeout,
	})

	transport, err := newTransport(cfg.Stream, b)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	client := stream.NewClient(stream.Options{
		Transport: transport,
		Handler: func(ctx context.Context, cmd stream.Command) {
			if err := orch.Submit(ctx, cmd); err != nil {
				logger.Warn(logging.CategoryStream, "submit_failed", "Dropped command: "+err.Error(),
					map[string]any{"request_id": cmd.RequestID, "url": cmd.URL, "error": err.Error()})
			}
		},
		Logger:           logger,
		ReconnectDelay:   cfg.Stream.ReconnectDelay,
		LivenessInterval: cfg.Stream.LivenessInterval,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })

	if cfg.Server.Enabled {
		srv := api.NewServer(api.ServerConfig{
			Address:  cfg.Server.Listen,
			Sessions: orch,
			Outcomes: outcomes,
			Stream:   client,
			Bus:      b,
			Logger:   logger,
		})
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	logger.Info(logging.CategoryStream, "started", "affilink "+version+" started",
		map[string]any{"transport": cfg.Stream.Transport, "bus": cfg.Bus.Backend})
	err = g.Wait()
	logger.Info(logging.CategoryStream, "stopped", "affilink stopped", nil)
	return err
}

func newBus(cfg config.BusConfig) (bus.MessageBus, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BusNATS:
		b, err := bus.NewNATSBus(bus.Config{
			URL:      cfg.URL,
			Name:     "affilink",
			Username: cfg.Username,
			Password: cfg.Password,
			Token:    cfg.Token,
			Timeout:  cfg.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return b, nil
	default:
		return bus.NewMemoryBus(), nil
	}
}

func newTransport(cfg config.StreamConfig, b bus.MessageBus) (stream.Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case config.TransportSSE:
		return &stream.SSETransport{URL: cfg.URL}, nil
	case config.TransportWebSocket:
		return &stream.WebSocketTransport{URL: cfg.URL}, nil
	case config.TransportNATS:
		if b == nil {
			return nil, fmt.Errorf("nats stream transport requires a message bus")
		}
		return &stream.BusTransport{Bus: b, Subject: cfg.Subject}, nil
	default:
		return nil, fmt.Errorf("invalid stream transport: %s", cfg.Transport)
	}
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
