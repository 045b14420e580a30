package stream

import (
	"context"
	"sync"

	"github.com/odvcencio/affilink/pkg/bus"
)

// DefaultQueue is the queue group used for broker intake, so that several
// affilink processes share one command subject.
const DefaultQueue = "affilink"

// BusTransport consumes commands published on a bus subject.
type BusTransport struct {
	Bus     bus.MessageBus
	Subject string
	Queue   string
}

func (t *BusTransport) Connect(ctx context.Context) (Conn, error) {
	queue := t.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	c := &busConn{
		bus:    t.Bus,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	sub, err := t.Bus.QueueSubscribe(ctx, t.Subject, queue, func(msg *bus.Message) {
		select {
		case c.frames <- msg.Data:
		case <-c.done:
		}
	})
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

type busConn struct {
	bus    bus.MessageBus
	sub    bus.Subscription
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *busConn) Next(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	case <-c.done:
		return nil, bus.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Closed reports whether the underlying bus has gone away.
func (c *busConn) Closed() bool {
	if p, ok := c.bus.(interface{ IsClosed() bool }); ok {
		return p.IsClosed()
	}
	return false
}

func (c *busConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.sub.Unsubscribe()
	})
	return err
}
