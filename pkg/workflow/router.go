package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/affilink/pkg/agent"
	"github.com/odvcencio/affilink/pkg/browser"
	"github.com/odvcencio/affilink/pkg/errors"
	"github.com/odvcencio/affilink/pkg/logging"
	"github.com/odvcencio/affilink/pkg/session"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

// route dispatches one surface event to the transition it triggers.
func (o *Orchestrator) route(ctx context.Context, ev browser.Event) {
	switch ev.Type {
	case browser.EventNavigated:
		o.routeNavigation(ctx, ev)
	case browser.EventSignal:
		o.routeSignal(ctx, ev)
	case browser.EventClosed:
		o.onSurfaceClosed(ctx, ev.Handle)
	}
}

func (o *Orchestrator) routeNavigation(ctx context.Context, ev browser.Event) {
	if ev.URL == "" || !strings.Contains(ev.URL, o.affiliate.LinkPageMarker) {
		return
	}
	// loads of the link page for surfaces nobody tracks are not orphans:
	// users may browse there themselves
	sess, ok := o.store.Get(ev.Handle)
	if !ok {
		return
	}
	o.onLinkPageLoaded(ctx, sess, ev.URL)
}

func (o *Orchestrator) routeSignal(ctx context.Context, ev browser.Event) {
	sig, err := agent.DecodeSignal(ev.Payload)
	if err != nil {
		o.logger.Warn(logging.CategoryAgent, "bad_signal", "Dropped undecodable agent message",
			map[string]any{"surface": string(ev.Handle), "error": err.Error()})
		return
	}
	if !sig.Known() {
		o.logger.Debug(logging.CategoryAgent, "unknown_signal",
			fmt.Sprintf("Ignored agent action %s", sig.Action), map[string]any{"surface": string(ev.Handle)})
		return
	}

	if sig.Action == agent.ActionDebugLog {
		o.logger.Log(logging.Event{
			Level:     agentLevel(sig.Level),
			Category:  logging.CategoryAgent,
			EventType: "debug_log",
			Sender:    fmt.Sprintf("CS-%s", ev.Handle),
			Message:   sig.Message,
			Details:   map[string]any{"surface": string(ev.Handle)},
		})
		return
	}

	if ev.Handle == "" {
		o.logger.Warn(logging.CategoryAgent, "unattributed_signal",
			fmt.Sprintf("Dropped %s without a surface", sig.Action), nil)
		return
	}

	switch sig.Action {
	case agent.ActionDetailsScraped:
		if sess, err := o.lookup(ev.Handle, sig.Action); err == nil {
			o.onDetailsScraped(ctx, sess, sig)
		}
	case agent.ActionLinkGenerated:
		if sig.Link == "" {
			return
		}
		if sess, err := o.lookup(ev.Handle, sig.Action); err == nil {
			o.onLinkGenerated(ctx, sess, sig.Link)
		}
	}
}

// lookup finds the session for a signalling surface. A miss is an orphan
// signal: logged, counted and dropped.
func (o *Orchestrator) lookup(h browser.Handle, action agent.Action) (*session.Session, error) {
	sess, ok := o.store.Get(h)
	if ok {
		return sess, nil
	}
	telemetry.OrphanSignals.WithLabelValues(string(action)).Inc()
	err := errors.New(errors.ErrCodeOrphanSignal, fmt.Sprintf("No context found for Tab %s", h)).
		WithContext("action", string(action))
	o.logger.Error(logging.CategoryAgent, "orphan_signal", err.Message,
		map[string]any{"surface": string(h), "action": string(action)})
	return nil, err
}

// productData keeps the scraped payload verbatim even when it does not fit
// the typed fields.
func productData(sig agent.Signal) *session.ProductData {
	raw := bytes.TrimSpace(sig.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	pd, err := session.ParseProductData(raw)
	if err != nil {
		return &session.ProductData{Raw: append(json.RawMessage(nil), raw...)}
	}
	return pd
}

func agentLevel(level string) logging.Level {
	if level == "" {
		return logging.LevelDebug
	}
	return logging.ParseLevel(level)
}
