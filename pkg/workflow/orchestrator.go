package workflow

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/affilink/pkg/agent"
	"github.com/odvcencio/affilink/pkg/browser"
	"github.com/odvcencio/affilink/pkg/bus"
	"github.com/odvcencio/affilink/pkg/config"
	"github.com/odvcencio/affilink/pkg/errors"
	"github.com/odvcencio/affilink/pkg/logging"
	"github.com/odvcencio/affilink/pkg/report"
	"github.com/odvcencio/affilink/pkg/resolver"
	"github.com/odvcencio/affilink/pkg/session"
	"github.com/odvcencio/affilink/pkg/storage"
	"github.com/odvcencio/affilink/pkg/stream"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

//go:generate mockgen -package=workflow -destination=mock_surfaces_test.go github.com/odvcencio/affilink/pkg/workflow Surfaces

const commandQueueSize = 64

// Surfaces opens and drives automation surfaces. browser.Manager
// implements it.
type Surfaces interface {
	Open(ctx context.Context, url string) (browser.Handle, error)
	Navigate(ctx context.Context, h browser.Handle, url string) error
	Dispatch(ctx context.Context, h browser.Handle, cmd agent.Command) error
	Close(h browser.Handle) error
}

// Resolver turns an inbound URL into a resolution.
type Resolver interface {
	Resolve(ctx context.Context, raw string) resolver.Resolution
}

// Ledger records terminal outcomes. storage.Store implements it.
type Ledger interface {
	RecordOutcome(ctx context.Context, o *storage.Outcome) error
}

// Options wires an Orchestrator.
type Options struct {
	Surfaces  Surfaces
	Events    <-chan browser.Event
	Resolver  Resolver
	Reporter  report.Reporter
	Store     session.Store
	Ledger    Ledger
	Bus       bus.MessageBus
	Logger    *logging.Logger
	Affiliate config.AffiliateConfig

	TTL            time.Duration
	ReapInterval   time.Duration
	CommandTimeout time.Duration
	Now            func() time.Time
}

type resolvedMsg struct {
	cmd stream.Command
	res resolver.Resolution
}

type snapshotReq struct {
	reply chan Snapshot
}

// Snapshot is a point-in-time view of the loop.
type Snapshot struct {
	Sessions  []*session.Session `json:"sessions"`
	Resolving int                `json:"resolving"`
}

// Orchestrator runs the workflow loop. Session state is only touched from
// Run.
type Orchestrator struct {
	surfaces  Surfaces
	events    <-chan browser.Event
	resolver  Resolver
	reporter  report.Reporter
	store     session.Store
	ledger    Ledger
	bus       bus.MessageBus
	logger    *logging.Logger
	affiliate config.AffiliateConfig

	ttl            time.Duration
	reapInterval   time.Duration
	commandTimeout time.Duration
	now            func() time.Time

	commands  chan stream.Command
	resolved  chan resolvedMsg
	snapshots chan snapshotReq
	resolving int

	workers sync.WaitGroup
}

// New builds an Orchestrator. Surfaces, Resolver and Reporter are required.
func New(opts Options) *Orchestrator {
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 30 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		surfaces:       opts.Surfaces,
		events:         opts.Events,
		resolver:       opts.Resolver,
		reporter:       opts.Reporter,
		store:          opts.Store,
		ledger:         opts.Ledger,
		bus:            opts.Bus,
		logger:         opts.Logger,
		affiliate:      opts.Affiliate,
		ttl:            opts.TTL,
		reapInterval:   opts.ReapInterval,
		commandTimeout: opts.CommandTimeout,
		now:            opts.Now,
		commands:       make(chan stream.Command, commandQueueSize),
		resolved:       make(chan resolvedMsg, 64),
		snapshots:      make(chan snapshotReq),
	}
}

// ErrQueueFull is returned by Submit when the command queue is at capacity.
var ErrQueueFull = stdliberrors.New("command queue full")

// Submit queues an open_url command without blocking. A full queue drops the
// command with ErrQueueFull.
func (o *Orchestrator) Submit(ctx context.Context, cmd stream.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case o.commands <- cmd:
		return nil
	default:
		telemetry.CommandsDropped.Inc()
		return ErrQueueFull
	}
}

// Snapshot returns copies of the in-flight sessions.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	req := snapshotReq{reply: make(chan Snapshot, 1)}
	select {
	case o.snapshots <- req:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run processes commands, surface events and expiry until ctx is cancelled.
// Sessions still in flight at exit are abandoned.
func (o *Orchestrator) Run(ctx context.Context) error {
	reap := time.NewTicker(o.reapInterval)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			o.drain()
			o.workers.Wait()
			return nil
		case cmd := <-o.commands:
			o.startResolve(ctx, cmd)
		case msg := <-o.resolved:
			o.resolving--
			o.open(ctx, msg.cmd, msg.res)
		case ev := <-o.events:
			o.route(ctx, ev)
		case <-reap.C:
			o.reap(ctx, o.now())
		case req := <-o.snapshots:
			req.reply <- o.snapshot()
		}
	}
}

func (o *Orchestrator) startResolve(ctx context.Context, cmd stream.Command) {
	o.logger.Info(logging.CategoryWorkflow, "resolving",
		fmt.Sprintf("Resolving URL: %s (ReqID: %s, User: %s)", cmd.URL, cmd.RequestID, cmd.UserID),
		map[string]any{"request_id": cmd.RequestID, "user_id": cmd.UserID, "url": cmd.URL})

	o.resolving++
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		start := time.Now()
		res := o.resolver.Resolve(ctx, cmd.URL)
		branch := "product"
		if res.Direct() {
			branch = "direct"
		}
		telemetry.ResolveDuration.WithLabelValues(branch).Observe(time.Since(start).Seconds())
		select {
		case o.resolved <- resolvedMsg{cmd: cmd, res: res}:
		case <-ctx.Done():
		}
	}()
}

// open creates the surface and the session for a resolved command.
func (o *Orchestrator) open(ctx context.Context, cmd stream.Command, res resolver.Resolution) {
	target := o.affiliate.LinkEndpoint
	if res.Direct() {
		o.logger.Info(logging.CategoryWorkflow, "direct_link",
			"Could not extract Item ID. Skipping scraping, going to Custom Link.",
			map[string]any{"request_id": cmd.RequestID, "url": res.URL})
	} else {
		target = o.affiliate.ProductURL(res.ItemID)
		o.logger.Info(logging.CategoryWorkflow, "item_extracted",
			fmt.Sprintf("Extracted Item ID: %s", res.ItemID),
			map[string]any{"request_id": cmd.RequestID, "item_id": res.ItemID, "matcher": res.Matcher})
	}

	openCtx, cancel := context.WithTimeout(ctx, o.commandTimeout)
	h, err := o.surfaces.Open(openCtx, target)
	cancel()
	if err != nil {
		err = errors.Wrap(err, errors.ErrCodeSurfaceOpen, "open surface").WithContext("url", target)
		o.logger.Error(logging.CategoryWorkflow, "open_failed",
			fmt.Sprintf("Fatal resolve error: %v", err),
			map[string]any{"request_id": cmd.RequestID, "url": target})
		telemetry.ResultsTotal.WithLabelValues(telemetry.OutcomeOpenFailed).Inc()
		o.record(ctx, &storage.Outcome{
			Status:      storage.StatusOpenFailed,
			RequestID:   cmd.RequestID,
			UserID:      cmd.UserID,
			OriginalURL: cmd.URL,
			ProductURL:  res.URL,
			ItemID:      res.ItemID,
			Error:       err.Error(),
		})
		o.publish(ctx, "open_failed", map[string]any{"requestId": cmd.RequestID, "error": err.Error()})
		return
	}

	if prev, exists := o.store.Get(h); exists {
		// a reused handle means the previous session is gone with its surface
		o.logger.Warn(logging.CategorySession, "handle_reused",
			fmt.Sprintf("Tab %s reused while Request %s was in flight", h, prev.RequestID),
			map[string]any{"surface": string(h), "request_id": prev.RequestID})
		o.retire(ctx, prev, "surface reused", false)
	}

	sess := session.New(cmd.RequestID, cmd.UserID, cmd.URL, res.URL, res.ItemID, h, o.now())
	telemetry.Transitions.WithLabelValues(string(session.StateResolving), string(session.StateSurfaceOpened)).Inc()
	o.store.Set(h, sess)
	telemetry.ActiveSessions.Set(float64(o.store.Len()))

	o.logger.Info(logging.CategorySession, "mapped",
		fmt.Sprintf("Mapped Tab %s to Request %s", h, cmd.RequestID),
		o.details(sess, nil))
	o.publish(ctx, "opened", o.eventData(sess, nil))
}

func (o *Orchestrator) onDetailsScraped(ctx context.Context, sess *session.Session, sig agent.Signal) {
	if sess.IsDirectLink {
		o.reject(sess, TriggerDetailsScraped, "details scraped on a direct-link session")
		return
	}
	if err := advance(sess, TriggerDetailsScraped); err != nil {
		o.logger.Warn(logging.CategoryWorkflow, "transition_rejected", err.Error(), o.details(sess, nil))
		return
	}
	o.logger.Info(logging.CategoryWorkflow, "details_scraped",
		fmt.Sprintf("Step 1 Complete: Details Scraped for Tab %s", sess.Surface), o.details(sess, nil))

	sess.ProductData = productData(sig)
	sess.EnsureSubID()
	sess.UpdatedAt = o.now()
	o.publish(ctx, "scraped", o.eventData(sess, nil))

	o.logger.Info(logging.CategoryWorkflow, "navigate_link_page",
		fmt.Sprintf("Navigating Tab %s to Custom Link Page...", sess.Surface), o.details(sess, nil))
	navCtx, cancel := context.WithTimeout(ctx, o.commandTimeout)
	err := o.surfaces.Navigate(navCtx, sess.Surface, o.affiliate.LinkEndpoint)
	cancel()
	if err != nil {
		err = errors.Wrap(err, errors.ErrCodeSurfaceCommand, "navigate to link page")
		o.abandon(ctx, sess, err.Error())
	}
}

func (o *Orchestrator) onLinkPageLoaded(ctx context.Context, sess *session.Session, url string) {
	if err := advance(sess, TriggerLinkPageLoaded); err != nil {
		o.logger.Warn(logging.CategoryWorkflow, "transition_rejected", err.Error(), o.details(sess, nil))
		return
	}
	o.logger.Info(logging.CategoryWorkflow, "link_page_loaded",
		fmt.Sprintf("Custom Link Page Loaded for Tab %s. Executing Flow...", sess.Surface),
		o.details(sess, map[string]any{"url": url}))

	if sess.SubID == "" {
		sess.EnsureSubID()
		o.logger.Debug(logging.CategorySession, "subid_late", "subId assigned on link page load", o.details(sess, nil))
	}
	sess.UpdatedAt = o.now()
	o.publish(ctx, "link_page_loaded", o.eventData(sess, nil))

	dispatchCtx, cancel := context.WithTimeout(ctx, o.commandTimeout)
	err := o.surfaces.Dispatch(dispatchCtx, sess.Surface, agent.NewLinkFlowCommand(sess.ProductURL, sess.SubID))
	cancel()
	if err != nil {
		// the next load of the link page retries the command
		o.logger.Warn(logging.CategoryAgent, "dispatch_failed",
			fmt.Sprintf("Could not reach agent in Tab %s: %v", sess.Surface, err), o.details(sess, nil))
	}
}

func (o *Orchestrator) onLinkGenerated(ctx context.Context, sess *session.Session, link string) {
	if err := advance(sess, TriggerLinkGenerated); err != nil {
		o.logger.Warn(logging.CategoryWorkflow, "transition_rejected", err.Error(), o.details(sess, nil))
		return
	}
	o.logger.Info(logging.CategoryWorkflow, "link_generated",
		fmt.Sprintf("Step 2 Complete: Link Generated for Tab %s", sess.Surface),
		o.details(sess, map[string]any{"link": link}))
	o.publish(ctx, "link_generated", o.eventData(sess, map[string]any{"link": link}))

	result := report.FromSession(sess, link)
	if err := advance(sess, TriggerReported); err != nil {
		o.logger.Warn(logging.CategoryWorkflow, "transition_rejected", err.Error(), o.details(sess, nil))
	}
	done := sess.Clone()
	o.evict(sess)

	o.workers.Add(1)
	go o.transmit(context.WithoutCancel(ctx), done, result)
}

// transmit sends a result off the loop. It only sees a retired copy of the
// session.
func (o *Orchestrator) transmit(ctx context.Context, sess *session.Session, result report.Result) {
	defer o.workers.Done()

	outcome := o.outcome(sess, storage.StatusReported)
	outcome.Link = result.Link
	if err := o.reporter.Report(ctx, result); err != nil {
		o.logger.Error(logging.CategoryReport, "report_failed",
			fmt.Sprintf("Failed to send result to server: %v", err), o.details(sess, nil))
		telemetry.ResultsTotal.WithLabelValues(telemetry.OutcomeReportFailed).Inc()
		outcome.Status = storage.StatusReportFailed
		outcome.Error = err.Error()
		o.publish(ctx, "report_failed", o.eventData(sess, map[string]any{"error": err.Error()}))
	} else {
		o.logger.Info(logging.CategoryReport, "reported", "Result sent to server successfully.", o.details(sess, nil))
		telemetry.ResultsTotal.WithLabelValues(telemetry.OutcomeReported).Inc()
		o.publish(ctx, "reported", o.eventData(sess, map[string]any{"link": result.Link}))
	}
	o.record(ctx, outcome)
}

func (o *Orchestrator) onSurfaceClosed(ctx context.Context, h browser.Handle) {
	sess, ok := o.store.Get(h)
	if !ok {
		return
	}
	o.abandon(ctx, sess, "surface closed")
}

// reap abandons sessions that outlived the ttl.
func (o *Orchestrator) reap(ctx context.Context, now time.Time) {
	if o.ttl <= 0 {
		return
	}
	for _, sess := range o.store.Expired(now, o.ttl) {
		o.abandon(ctx, sess, fmt.Sprintf("expired after %s", o.ttl))
	}
}

func (o *Orchestrator) drain() {
	ctx := context.Background()
	for _, sess := range o.store.List() {
		o.abandon(ctx, sess, "shutdown")
	}
}

// abandon retires a session without a result and closes its surface.
func (o *Orchestrator) abandon(ctx context.Context, sess *session.Session, reason string) {
	if err := advance(sess, TriggerAbandon); err != nil {
		return
	}
	o.logger.Warn(logging.CategoryWorkflow, "abandoned",
		fmt.Sprintf("Abandoned Tab %s (Request %s): %s", sess.Surface, sess.RequestID, reason),
		o.details(sess, map[string]any{"reason": reason}))
	o.retire(ctx, sess, reason, true)
}

// retire records an abandoned session and evicts it. closeSurface is false
// when the handle already belongs to a new surface.
func (o *Orchestrator) retire(ctx context.Context, sess *session.Session, reason string, closeSurface bool) {
	if !sess.State.Terminal() {
		_ = advance(sess, TriggerAbandon)
	}
	if closeSurface {
		o.evict(sess)
	} else {
		o.store.Delete(sess.Surface)
		telemetry.ActiveSessions.Set(float64(o.store.Len()))
	}
	telemetry.ResultsTotal.WithLabelValues(telemetry.OutcomeAbandoned).Inc()
	outcome := o.outcome(sess, storage.StatusAbandoned)
	outcome.Error = reason
	o.record(ctx, outcome)
	o.publish(ctx, "abandoned", o.eventData(sess, map[string]any{"reason": reason}))
}

// evict removes the session and closes its surface. A surface that is
// already gone is not an error.
func (o *Orchestrator) evict(sess *session.Session) {
	if cur, ok := o.store.Get(sess.Surface); ok && cur == sess {
		o.store.Delete(sess.Surface)
	}
	telemetry.ActiveSessions.Set(float64(o.store.Len()))
	if err := o.surfaces.Close(sess.Surface); err != nil && !browser.IsGone(err) {
		o.logger.Warn(logging.CategoryWorkflow, "close_failed",
			fmt.Sprintf("Could not close Tab %s: %v", sess.Surface, err), o.details(sess, nil))
	}
}

func (o *Orchestrator) reject(sess *session.Session, trigger Trigger, reason string) {
	telemetry.RejectedTransitions.WithLabelValues(string(sess.State), string(trigger)).Inc()
	o.logger.Warn(logging.CategoryWorkflow, "transition_rejected", reason, o.details(sess, nil))
}

func (o *Orchestrator) snapshot() Snapshot {
	list := o.store.List()
	out := Snapshot{Sessions: make([]*session.Session, 0, len(list)), Resolving: o.resolving}
	for _, s := range list {
		out.Sessions = append(out.Sessions, s.Clone())
	}
	return out
}

func (o *Orchestrator) outcome(sess *session.Session, status string) *storage.Outcome {
	out := &storage.Outcome{
		Status:      status,
		RequestID:   sess.RequestID,
		UserID:      sess.UserID,
		OriginalURL: sess.OriginalURL,
		ProductURL:  sess.ProductURL,
		ItemID:      sess.ItemID,
		SubID:       sess.SubID,
		Surface:     string(sess.Surface),
		StartedAt:   sess.CreatedAt,
		FinishedAt:  o.now(),
	}
	if sess.ProductData != nil {
		if raw, err := sess.ProductData.MarshalJSON(); err == nil {
			out.ProductData = raw
		}
	}
	return out
}

func (o *Orchestrator) record(ctx context.Context, outcome *storage.Outcome) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordOutcome(ctx, outcome); err != nil {
		o.logger.Error(logging.CategoryStorage, "record_failed",
			fmt.Sprintf("Could not record outcome: %v", err),
			map[string]any{"request_id": outcome.RequestID, "status": outcome.Status})
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, data map[string]any) {
	if o.bus == nil {
		return
	}
	if err := bus.PublishEvent(ctx, o.bus, eventType, data); err != nil {
		o.logger.Debug(logging.CategoryWorkflow, "publish_failed", err.Error(), map[string]any{"type": eventType})
	}
}

func (o *Orchestrator) details(sess *session.Session, extra map[string]any) map[string]any {
	d := map[string]any{
		"workflow_id": sess.ID,
		"request_id":  sess.RequestID,
		"surface":     string(sess.Surface),
		"state":       string(sess.State),
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

func (o *Orchestrator) eventData(sess *session.Session, extra map[string]any) map[string]any {
	d := map[string]any{
		"workflowId": sess.ID,
		"requestId":  sess.RequestID,
		"userId":     sess.UserID,
		"surface":    string(sess.Surface),
		"state":      string(sess.State),
		"direct":     sess.IsDirectLink,
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}
