// Package workflow drives affiliate-link sessions from an open_url command to
// a reported result. All session state is owned by one goroutine.
package workflow

import (
	"fmt"

	"github.com/odvcencio/affilink/pkg/errors"
	"github.com/odvcencio/affilink/pkg/session"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

// Trigger is an input that moves a session between states.
type Trigger string

const (
	TriggerDetailsScraped Trigger = "details_scraped"
	TriggerLinkPageLoaded Trigger = "link_page_loaded"
	TriggerLinkGenerated  Trigger = "link_generated"
	TriggerReported       Trigger = "reported"
	TriggerAbandon        Trigger = "abandon"
)

type transitionKey struct {
	from    session.State
	trigger Trigger
}

// transitions lists every legal move. Re-entering LINK_PAGE_LOADED is legal
// because navigation completions can repeat.
var transitions = map[transitionKey]session.State{
	{session.StateSurfaceOpened, TriggerDetailsScraped}:  session.StateScraped,
	{session.StateSurfaceOpened, TriggerLinkPageLoaded}:  session.StateLinkPageLoaded,
	{session.StateScraped, TriggerLinkPageLoaded}:        session.StateLinkPageLoaded,
	{session.StateLinkPageLoaded, TriggerLinkPageLoaded}: session.StateLinkPageLoaded,
	{session.StateLinkPageLoaded, TriggerLinkGenerated}:  session.StateLinkGenerated,
	{session.StateLinkGenerated, TriggerReported}:        session.StateReported,
}

// next returns the state trigger leads to from s.
func next(s session.State, trigger Trigger) (session.State, bool) {
	if s.Terminal() {
		return s, false
	}
	if trigger == TriggerAbandon {
		return session.StateAbandoned, true
	}
	to, ok := transitions[transitionKey{s, trigger}]
	return to, ok
}

// advance applies trigger to sess, or returns an INVALID_TRANSITION error
// leaving sess untouched.
func advance(sess *session.Session, trigger Trigger) error {
	from := sess.State
	to, ok := next(from, trigger)
	if !ok {
		telemetry.RejectedTransitions.WithLabelValues(string(from), string(trigger)).Inc()
		return errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("%s not allowed in state %s", trigger, from)).
			WithContext("surface", string(sess.Surface))
	}
	sess.State = to
	if from != to {
		telemetry.Transitions.WithLabelValues(string(from), string(to)).Inc()
	}
	return nil
}
