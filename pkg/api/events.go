package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/affilink/pkg/bus"
	"github.com/odvcencio/affilink/pkg/logging"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

const (
	feedBuffer     = 64
	feedPingPeriod = 30 * time.Second
	feedReadWait   = 60 * time.Second
	feedWriteWait  = 10 * time.Second
)

// FeedMessage is one frame on the /api/events WebSocket.
type FeedMessage struct {
	Type    string          `json:"type"` // connected or event
	Subject string          `json:"subject,omitempty"`
	Filter  string          `json:"filter,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

// eventFeed relays bus messages to WebSocket clients. Each client gets its
// own subscription; slow clients lose messages rather than stall the bus.
type eventFeed struct {
	bus      bus.MessageBus
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

func newEventFeed(b bus.MessageBus, logger *logging.Logger) *eventFeed {
	return &eventFeed{
		bus:    b,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (f *eventFeed) serve(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = bus.SubjectAll
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn(logging.CategoryServer, "feed_upgrade_failed", "Failed to upgrade event feed connection",
			map[string]any{"error": err.Error(), "remote": r.RemoteAddr})
		return
	}
	defer conn.Close()

	// the request context ends with the upgrade
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := make(chan FeedMessage, feedBuffer)
	sub, err := f.bus.Subscribe(ctx, filter, func(msg *bus.Message) {
		if !json.Valid(msg.Data) {
			return
		}
		select {
		case send <- FeedMessage{Type: "event", Subject: msg.Subject, Event: json.RawMessage(msg.Data)}:
		default:
		}
	})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(feedWriteWait))
		return
	}
	defer sub.Unsubscribe()

	telemetry.EventFeedClients.Inc()
	defer telemetry.EventFeedClients.Dec()
	f.logger.Debug(logging.CategoryServer, "feed_attached", "Event feed client attached",
		map[string]any{"remote": r.RemoteAddr, "filter": filter})

	go readPump(conn, cancel)

	if err := f.write(conn, FeedMessage{Type: "connected", Filter: filter}); err != nil {
		return
	}

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		case msg := <-send:
			if err := f.write(conn, msg); err != nil {
				return
			}
		}
	}
}

func (f *eventFeed) write(conn *websocket.Conn, msg FeedMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return conn.WriteJSON(msg)
}

// readPump discards client frames; it exists to process control frames and
// to notice the client going away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(feedReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
