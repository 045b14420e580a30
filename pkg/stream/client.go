package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/odvcencio/affilink/pkg/logging"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

const (
	DefaultReconnectDelay   = 5 * time.Second
	DefaultLivenessInterval = 30 * time.Second
)

// Transport opens connections to the command source.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one live connection. Next blocks until a payload arrives or the
// connection fails.
type Conn interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Prober is implemented by connections that can tell they are dead without
// a read failing.
type Prober interface {
	Closed() bool
}

// Handler receives open_url commands. It runs on the client loop and must
// not block.
type Handler func(ctx context.Context, cmd Command)

// Options configures a Client.
type Options struct {
	Transport        Transport
	Handler          Handler
	Logger           *logging.Logger
	ReconnectDelay   time.Duration
	LivenessInterval time.Duration
}

// Client maintains at most one live connection and reconnects after drops.
type Client struct {
	transport Transport
	handler   Handler
	logger    *logging.Logger
	delay     time.Duration
	liveness  time.Duration

	state    atomic.Int32
	connects atomic.Int64

	// owned by Run
	conn    Conn
	gen     uint64
	pending bool
	timer   *time.Timer
	frames  chan frame
}

type frame struct {
	gen  uint64
	data []byte
	err  error
}

// NewClient builds a client. Run starts it.
func NewClient(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Handler == nil {
		opts.Handler = func(context.Context, Command) {}
	}
	c := &Client{
		transport: opts.Transport,
		handler:   opts.Handler,
		logger:    opts.Logger,
		delay:     opts.ReconnectDelay,
		liveness:  opts.LivenessInterval,
		frames:    make(chan frame, 16),
	}
	c.state.Store(int32(StateClosed))
	return c
}

// State reports the current connection state. Safe from any goroutine.
func (c *Client) State() ReadyState {
	return ReadyState(c.state.Load())
}

// Ready reports whether a connection is open.
func (c *Client) Ready() bool {
	return c.State() == StateOpen
}

// Connects returns how many connection attempts have been made.
func (c *Client) Connects() int64 {
	return c.connects.Load()
}

// Run connects and processes the stream until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.liveness)
	defer ticker.Stop()
	defer c.shutdown()

	c.connect(ctx)
	for {
		var reconnect <-chan time.Time
		if c.timer != nil {
			reconnect = c.timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case f := <-c.frames:
			if f.gen != c.gen {
				continue // stale connection
			}
			if f.err != nil {
				c.logger.Warn(logging.CategoryStream, "disconnected", "Connection closed. Retrying in "+c.delay.String(), map[string]any{"error": f.err.Error()})
				c.drop()
				c.schedule()
				continue
			}
			c.dispatch(ctx, f.data)
		case <-reconnect:
			c.timer = nil
			c.pending = false
			c.connect(ctx)
		case <-ticker.C:
			if p, ok := c.conn.(Prober); ok && p.Closed() {
				c.drop()
			}
			if c.State() == StateClosed && !c.pending {
				c.logger.Info(logging.CategoryStream, "liveness", "Connection lost, reconnecting...", nil)
				c.connect(ctx)
			}
		}
	}
}

func (c *Client) connect(ctx context.Context) {
	c.drop()
	c.setState(StateConnecting)
	if c.connects.Add(1) > 1 {
		telemetry.StreamReconnects.Inc()
	}
	c.logger.Debug(logging.CategoryStream, "connecting", "Connecting to command stream...", nil)

	conn, err := c.transport.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}
		c.logger.Warn(logging.CategoryStream, "connect_failed", "Connect failed. Retrying in "+c.delay.String(), map[string]any{"error": err.Error()})
		c.setState(StateClosed)
		c.schedule()
		return
	}

	c.conn = conn
	c.setState(StateOpen)
	c.logger.Info(logging.CategoryStream, "connected", "Connected to command stream.", nil)
	go c.read(ctx, conn, c.gen)
}

// drop discards the current connection. Frames it still produces are
// ignored because the generation moves on.
func (c *Client) drop() {
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setState(StateClosed)
}

func (c *Client) schedule() {
	if c.pending {
		return
	}
	c.pending = true
	c.timer = time.NewTimer(c.delay)
}

func (c *Client) shutdown() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = false
	c.drop()
}

func (c *Client) read(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.Next(ctx)
		select {
		case c.frames <- frame{gen: gen, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	cmd, err := Decode(data)
	if err != nil {
		telemetry.StreamDecodeFailures.Inc()
		c.logger.Warn(logging.CategoryStream, "decode_failed", "Error parsing stream message", map[string]any{"error": err.Error()})
		return
	}
	telemetry.CommandsReceived.WithLabelValues(cmd.Type).Inc()

	switch cmd.Type {
	case CommandConnected:
		c.logger.Debug(logging.CategoryStream, "handshake", "Handshake successful.", nil)
	case CommandOpenURL:
		if cmd.URL == "" {
			c.logger.Warn(logging.CategoryStream, "open_url_empty", "open_url without url dropped", map[string]any{"request_id": cmd.RequestID})
			return
		}
		c.handler(ctx, cmd)
	default:
		c.logger.Warn(logging.CategoryStream, "unknown_command", "Unknown command dropped", map[string]any{"type": cmd.Type})
	}
}

func (c *Client) setState(s ReadyState) {
	c.state.Store(int32(s))
	telemetry.StreamState.Set(float64(s))
}
