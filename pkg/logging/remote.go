package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RemotePayload is the body POSTed to a remote log sink.
type RemotePayload struct {
	Message string `json:"message"`
	Level   string `json:"level"`
	Sender  string `json:"sender"`
}

// RemoteSinkOptions tunes the remote sink.
type RemoteSinkOptions struct {
	QueueSize int
	Rate      rate.Limit
	Burst     int
	Timeout   time.Duration
	Client    *http.Client
}

// RemoteSink forwards events to an HTTP endpoint from a background worker.
// Deliver never blocks; events are dropped when the queue is full or the
// rate limit is exceeded, and transmission failures are ignored.
type RemoteSink struct {
	url     string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	queue   chan RemotePayload

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

// NewRemoteSink starts a sink posting to url.
func NewRemoteSink(url string, opts RemoteSinkOptions) *RemoteSink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Rate <= 0 {
		opts.Rate = rate.Limit(50)
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	s := &RemoteSink{
		url:     url,
		client:  client,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(opts.Rate, opts.Burst),
		queue:   make(chan RemotePayload, opts.QueueSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Deliver implements Sink.
func (s *RemoteSink) Deliver(e Event) {
	sender := e.Sender
	if sender == "" {
		sender = DefaultSender
	}
	payload := RemotePayload{
		Message: e.Message,
		Level:   strings.ToUpper(string(e.Level)),
		Sender:  sender,
	}

	select {
	case <-s.done:
		return
	default:
	}
	if !s.limiter.Allow() {
		s.drop()
		return
	}
	select {
	case s.queue <- payload:
	default:
		s.drop()
	}
}

// Dropped returns how many events were discarded.
func (s *RemoteSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *RemoteSink) drop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *RemoteSink) run() {
	defer s.wg.Done()
	for {
		select {
		case p := <-s.queue:
			s.send(p)
		case <-s.done:
			// drain what is already queued
			for {
				select {
				case p := <-s.queue:
					s.send(p)
				default:
					return
				}
			}
		}
	}
}

func (s *RemoteSink) send(p RemotePayload) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Close stops the worker after flushing queued events.
func (s *RemoteSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}
