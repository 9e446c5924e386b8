// Package honeypot drives a conversation turn through classification,
// extraction, reply rendering and persistence, and finalizes sessions.
package honeypot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/honeypot/internal/classify"
	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/extract"
	"github.com/ashureev/honeypot/internal/observability"
	"github.com/ashureev/honeypot/internal/store"
	"github.com/ashureev/honeypot/internal/strategy"
)

var (
	// ErrSessionNotFound is returned for sessions the store has never seen.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTurn is returned for turns without a session id or text.
	ErrInvalidTurn = errors.New("invalid turn")
)

// Classifier decides whether a conversation is a scam.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) classify.Result
}

// Extractor pulls intelligence fragments out of a message.
type Extractor interface {
	Extract(ctx context.Context, text string, history []string) extract.Result
	ExtractPatterns(text string) []domain.Fragment
}

// Replier renders the persona's next utterance.
type Replier interface {
	Reply(ctx context.Context, t strategy.Turn) strategy.Reply
}

// Reporter delivers finalized summaries to the external evaluator.
type Reporter interface {
	Report(ctx context.Context, summary domain.Summary) error
}

// EventSink receives session events. Publish must not block.
type EventSink interface {
	Publish(ev domain.Event)
}

// Metadata is the caller-supplied context of a turn.
type Metadata struct {
	Channel  string
	Language string
	Locale   string
}

// TurnRequest is one inbound message.
type TurnRequest struct {
	SessionID string
	Message   domain.Message
	// History is the caller's view of earlier messages. It is only used to
	// seed sessions the store does not know.
	History  []domain.Message
	Metadata Metadata
}

// TurnResult is what the caller gets back for a turn.
type TurnResult struct {
	SessionID                 string
	ScamDetected              bool
	ScamType                  domain.ScamType
	Status                    domain.Status
	Reply                     string
	ReplyPath                 string
	TurnCount                 int
	EngagementDurationSeconds int64
	Intelligence              domain.ExtractedIntelligence
	AgentNotes                string
	// Degraded is true when the turn ran on an ephemeral session.
	Degraded  bool
	Duplicate bool
}

// Options tunes an Orchestrator.
type Options struct {
	AutoFinalize FinalizePolicy
	ContextTurns int
	LockTimeout  time.Duration
	// MergeTimeout bounds how long a turn served without the session lock
	// waits to be merged into the stored session. Defaults to four times
	// LockTimeout.
	MergeTimeout time.Duration
	Now          func() time.Time
}

// Orchestrator owns the turn lifecycle.
type Orchestrator struct {
	store      *store.Store
	classifier Classifier
	extractor  Extractor
	replier    Replier
	reporter   Reporter
	opts       Options
	locks      *sessionLocks
	logger     *slog.Logger
	merges     sync.WaitGroup

	sinksMu sync.RWMutex
	sinks   []EventSink
}

// New creates an Orchestrator. reporter may be nil.
func New(st *store.Store, classifier Classifier, extractor Extractor, replier Replier, reporter Reporter, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 20 * time.Second
	}
	if opts.MergeTimeout <= 0 {
		opts.MergeTimeout = 4 * opts.LockTimeout
	}
	if opts.ContextTurns <= 0 {
		opts.ContextTurns = 6
	}
	return &Orchestrator{
		store:      st,
		classifier: classifier,
		extractor:  extractor,
		replier:    replier,
		reporter:   reporter,
		opts:       opts,
		locks:      newSessionLocks(),
		logger:     logger,
	}
}

// AddSink registers an event sink.
func (o *Orchestrator) AddSink(s EventSink) {
	o.sinksMu.Lock()
	o.sinks = append(o.sinks, s)
	o.sinksMu.Unlock()
}

func (o *Orchestrator) publish(ev domain.Event) {
	ev.ID = uuid.NewString()
	o.sinksMu.RLock()
	defer o.sinksMu.RUnlock()
	for _, s := range o.sinks {
		s.Publish(ev)
	}
}

// HandleTurn processes one inbound message. Dependency outages degrade the
// turn but never fail it; the only error is ErrInvalidTurn.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Message.Text) == "" {
		return TurnResult{}, ErrInvalidTurn
	}
	start := o.opts.Now()

	ctx, span := observability.Tracer().Start(ctx, "honeypot.turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	lockCtx, cancel := context.WithTimeout(ctx, o.opts.LockTimeout)
	release, err := o.locks.acquire(lockCtx, req.SessionID)
	cancel()
	if err != nil {
		o.logger.Warn("Session busy, merging turn once the session frees up",
			"session_id", req.SessionID,
			"error", err)
		span.AddEvent("lock_timeout")
		eph := o.ephemeral(req)
		res := o.runTurn(ctx, eph, req, start)
		if !res.Duplicate {
			o.mergeLater(ctx, req, eph)
		}
		return res, nil
	}
	defer release()

	// A caller that disconnects mid-turn must not push the session into
	// ephemeral mode; store calls are bounded by their own timeout.
	sess, err := o.store.Load(context.WithoutCancel(ctx), req.SessionID)
	switch {
	case err != nil:
		observability.RecordStoreFailure("load")
		o.logger.Warn("Session store unavailable, using ephemeral session",
			"session_id", req.SessionID,
			"error", err)
		span.RecordError(err)
		sess = o.ephemeral(req)
	case sess == nil:
		sess = o.seed(req)
	}

	return o.runTurn(ctx, sess, req, start), nil
}

func (o *Orchestrator) ephemeral(req TurnRequest) *domain.Session {
	sess := o.seed(req)
	sess.Ephemeral = true
	return sess
}

// seed builds a new session and replays the caller's history into it, so a
// session lost by the store resumes with its earlier turns and intelligence.
func (o *Orchestrator) seed(req TurnRequest) *domain.Session {
	now := o.opts.Now()
	sess := domain.NewSession(req.SessionID, now)
	sess.Language = req.Metadata.Language
	sess.Channel = req.Metadata.Channel

	for _, m := range req.History {
		if strings.TrimSpace(m.Text) == "" || sameMessage(m, req.Message) {
			continue
		}
		if !m.Inbound() {
			sess.RecordReply(m.Text, m.Timestamp)
			continue
		}
		if !sess.RecordInbound(m) {
			continue
		}
		for _, f := range o.extractor.ExtractPatterns(m.Text) {
			sess.Intelligence.Add(f, sess.TurnCount, now)
		}
	}
	if first := firstTimestamp(req.History); !first.IsZero() && first.Before(now) {
		sess.CreatedAt = first
	}
	return sess
}

func sameMessage(a, b domain.Message) bool {
	return a.Text == b.Text && !a.Timestamp.IsZero() && a.Timestamp.Equal(b.Timestamp)
}

func firstTimestamp(history []domain.Message) time.Time {
	for _, m := range history {
		if !m.Timestamp.IsZero() {
			return m.Timestamp
		}
	}
	return time.Time{}
}

func (o *Orchestrator) runTurn(ctx context.Context, sess *domain.Session, req TurnRequest, start time.Time) TurnResult {
	now := o.opts.Now()
	msg := req.Message
	if msg.Sender == "" {
		msg.Sender = domain.SenderScammer
	}
	if sess.Language == "" {
		sess.Language = req.Metadata.Language
	}
	if sess.Channel == "" {
		sess.Channel = req.Metadata.Channel
	}

	prior := inboundTexts(sess.History, o.opts.ContextTurns)
	if !sess.RecordInbound(msg) {
		if last := sess.LastReply(); last != "" {
			observability.RecordTurn("duplicate", o.opts.Now().Sub(start))
			o.publish(domain.Event{
				Kind:         domain.EventTurn,
				SessionID:    sess.ID,
				At:           now,
				Inbound:      msg.Text,
				Reply:        last,
				ScamDetected: sess.ScamDetected,
				ScamType:     sess.ScamType,
				Status:       sess.Status,
				Stage:        sess.Stage,
				TurnCount:    sess.TurnCount,
				Degraded:     sess.Ephemeral,
				Duplicate:    true,
			})
			res := o.result(sess, last, "")
			res.Duplicate = true
			return res
		}
	}
	sess.LastActivityAt = now
	turn := sess.TurnCount

	verdict, extraction := o.analyze(ctx, sess, msg.Text, prior)

	if verdict != nil && verdict.IsScam && sess.PinScamType(verdict.ScamType) {
		o.logger.Info("Scam detected",
			"session_id", sess.ID,
			"scam_type", sess.ScamType,
			"strategy", verdict.Strategy,
			"confidence", verdict.Confidence)
	}

	var added []domain.Fragment
	newActionable := false
	for _, f := range extraction.Fragments {
		if !sess.Intelligence.Add(f, turn, now) {
			continue
		}
		added = append(added, f)
		observability.RecordIntelligence(string(f.Category), string(f.Source), 1)
		if f.Category.Actionable() {
			newActionable = true
		}
	}

	if sess.ScamDetected {
		if sess.Intelligence.Actionable() > 0 {
			sess.Advance(domain.StatusExtracted)
		}
		sess.AdvanceStage(strategy.NextStage(sess.Stage, turn, newActionable))
		sess.AddNote(classify.AnalyzeTactics(msg.Text).Note(sess.ScamType, turn))
	}

	reply := o.replier.Reply(ctx, strategy.Turn{
		SessionID:    sess.ID,
		ScamDetected: sess.ScamDetected,
		ScamType:     sess.ScamType,
		Stage:        sess.Stage,
		Text:         msg.Text,
		History:      historyBefore(sess.History, o.opts.ContextTurns*2),
		Language:     sess.Language,
		Sensitive:    sess.Intelligence.SensitiveValues(),
		LastReply:    sess.LastReply(),
	})
	sess.RecordReply(reply.Text, o.opts.Now())

	var autoSummary *domain.Summary
	trigger := o.opts.AutoFinalize.due(sess)
	if trigger != "" {
		s := sess.Finalize(now)
		autoSummary = &s
	}

	if !sess.Ephemeral {
		// Intelligence is persisted even when the caller went away.
		if err := o.store.Save(context.WithoutCancel(ctx), sess); err != nil {
			observability.RecordStoreFailure("save")
			o.logger.Warn("Failed to persist session, turn served without persistence",
				"session_id", sess.ID,
				"error", err)
			sess.Ephemeral = true
			autoSummary = nil
		}
	}

	if autoSummary != nil {
		o.autoFinalized(ctx, sess, *autoSummary, trigger)
	}

	outcome := "ok"
	if sess.Ephemeral {
		outcome = "degraded"
	}
	observability.RecordTurn(outcome, o.opts.Now().Sub(start))
	o.publish(domain.Event{
		Kind:         domain.EventTurn,
		SessionID:    sess.ID,
		At:           now,
		Inbound:      msg.Text,
		Reply:        reply.Text,
		ReplyPath:    reply.Path,
		ScamDetected: sess.ScamDetected,
		ScamType:     sess.ScamType,
		Status:       sess.Status,
		Stage:        sess.Stage,
		TurnCount:    sess.TurnCount,
		NewIntel:     added,
		Degraded:     sess.Ephemeral,
	})

	return o.result(sess, reply.Text, reply.Path)
}

// analyze classifies (until a scam is pinned) and extracts concurrently.
func (o *Orchestrator) analyze(ctx context.Context, sess *domain.Session, text string, prior []string) (*classify.Result, extract.Result) {
	var (
		verdict    *classify.Result
		extraction extract.Result
	)
	// Both steps fall back internally and never fail.
	var g errgroup.Group
	if !sess.ScamDetected {
		in := classify.Input{Text: text, Context: prior, Language: sess.Language}
		g.Go(func() error {
			v := o.classifier.Classify(ctx, in)
			verdict = &v
			return nil
		})
	}
	g.Go(func() error {
		extraction = o.extractor.Extract(ctx, text, prior)
		return nil
	})
	_ = g.Wait()
	return verdict, extraction
}

func (o *Orchestrator) result(sess *domain.Session, reply, path string) TurnResult {
	return TurnResult{
		SessionID:                 sess.ID,
		ScamDetected:              sess.ScamDetected,
		ScamType:                  sess.ScamType,
		Status:                    sess.Status,
		Reply:                     reply,
		ReplyPath:                 path,
		TurnCount:                 sess.TurnCount,
		EngagementDurationSeconds: int64(sess.EngagementDuration().Seconds()),
		Intelligence:              sess.Intelligence.Snapshot(),
		AgentNotes:                sess.AgentNotes(),
		Degraded:                  sess.Ephemeral,
	}
}

// Finalize freezes a session and hands its summary to the reporter. It is
// idempotent: later calls return the first summary and report nothing.
func (o *Orchestrator) Finalize(ctx context.Context, sessionID string) (domain.Summary, error) {
	ctx, span := observability.Tracer().Start(ctx, "honeypot.finalize")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	lockCtx, cancel := context.WithTimeout(ctx, o.opts.LockTimeout)
	release, err := o.locks.acquire(lockCtx, sessionID)
	cancel()
	if err != nil {
		span.SetStatus(codes.Error, "lock timeout")
		return domain.Summary{}, fmt.Errorf("finalize %s: %w: %w", sessionID, store.ErrUnavailable, err)
	}
	summary, transitioned, err := o.store.Finalize(ctx, sessionID, o.opts.Now())
	release()

	if err != nil {
		span.RecordError(err)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Summary{}, fmt.Errorf("finalize %s: %w", sessionID, ErrSessionNotFound)
		}
		observability.RecordStoreFailure("finalize")
		return domain.Summary{}, err
	}

	if !transitioned {
		observability.RecordFinalize("repeat")
		return summary, nil
	}

	o.logger.Info("Session finalized",
		"session_id", sessionID,
		"scam_detected", summary.ScamDetected,
		"turns", summary.TotalTurns)
	observability.RecordFinalize("finalized")
	o.report(ctx, summary)
	o.publishFinalized(nil, summary)
	return summary, nil
}

func (o *Orchestrator) autoFinalized(ctx context.Context, sess *domain.Session, summary domain.Summary, trigger string) {
	o.logger.Info("Session finalized automatically",
		"session_id", sess.ID,
		"trigger", trigger,
		"turns", sess.TurnCount,
		"actionable", sess.Intelligence.Actionable())
	observability.RecordFinalize("auto")
	o.report(ctx, summary)
	o.publishFinalized(sess, summary)
}

// mergeLater folds a turn that was served without the session lock into the
// stored session once the lock frees up, so its message and intelligence are
// not lost.
func (o *Orchestrator) mergeLater(ctx context.Context, req TurnRequest, eph *domain.Session) {
	var frags []domain.Fragment
	for _, c := range domain.Categories {
		for _, it := range eph.Intelligence.Items[c] {
			frags = append(frags, domain.Fragment{
				Category:   c,
				Value:      it.Value,
				Source:     it.Source,
				Confidence: it.Confidence,
			})
		}
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.MergeTimeout)
	o.merges.Add(1)
	go func() {
		defer o.merges.Done()
		defer cancel()
		if err := o.merge(mctx, req, eph, frags); err != nil {
			o.logger.Error("Failed to merge turn into session",
				"session_id", req.SessionID,
				"fragments", len(frags),
				"error", err)
		}
	}()
}

func (o *Orchestrator) merge(ctx context.Context, req TurnRequest, eph *domain.Session, frags []domain.Fragment) error {
	release, err := o.locks.acquire(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("wait for session lock: %w", err)
	}
	defer release()

	sess, err := o.store.Load(ctx, req.SessionID)
	if err != nil {
		observability.RecordStoreFailure("load")
		return err
	}
	if sess == nil {
		sess = o.seed(req)
	}

	msg := req.Message
	if msg.Sender == "" {
		msg.Sender = domain.SenderScammer
	}
	if !sess.RecordInbound(msg) {
		return nil
	}
	now := o.opts.Now()
	sess.LastActivityAt = now
	if eph.ScamDetected {
		sess.PinScamType(eph.ScamType)
	}
	for _, f := range frags {
		sess.Intelligence.Add(f, sess.TurnCount, now)
	}
	if sess.ScamDetected && sess.Intelligence.Actionable() > 0 {
		sess.Advance(domain.StatusExtracted)
	}
	sess.AdvanceStage(eph.Stage)
	if reply := eph.LastReply(); reply != "" {
		sess.RecordReply(reply, now)
	}

	var summary *domain.Summary
	trigger := o.opts.AutoFinalize.due(sess)
	if trigger != "" {
		s := sess.Finalize(now)
		summary = &s
	}
	if err := o.store.Save(ctx, sess); err != nil {
		observability.RecordStoreFailure("save")
		return err
	}
	o.logger.Info("Merged deferred turn",
		"session_id", sess.ID,
		"turns", sess.TurnCount)
	if summary != nil {
		o.autoFinalized(ctx, sess, *summary, trigger)
	}
	return nil
}

// Close waits for pending merges until ctx is done.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.merges.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pending session merges: %w", ctx.Err())
	}
}

func (o *Orchestrator) report(ctx context.Context, summary domain.Summary) {
	if o.reporter == nil || !summary.ScamDetected {
		return
	}
	if err := o.reporter.Report(context.WithoutCancel(ctx), summary); err != nil {
		o.logger.Warn("Failed to hand summary to reporter",
			"session_id", summary.SessionID,
			"error", err)
	}
}

func (o *Orchestrator) publishFinalized(sess *domain.Session, summary domain.Summary) {
	ev := domain.Event{
		Kind:         domain.EventFinalized,
		SessionID:    summary.SessionID,
		At:           summary.FinalizedAt,
		ScamDetected: summary.ScamDetected,
		ScamType:     summary.ScamType,
		Status:       domain.StatusFinalized,
		TurnCount:    summary.TotalTurns,
		Summary:      &summary,
	}
	if sess != nil {
		ev.Stage = sess.Stage
	}
	o.publish(ev)
}

// Session returns a snapshot of a stored session.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("load %s: %w", sessionID, ErrSessionNotFound)
	}
	return sess, nil
}

func inboundTexts(history []domain.Message, n int) []string {
	var out []string
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].Inbound() {
			out = append(out, history[i].Text)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// historyBefore returns up to n entries preceding the newest one.
func historyBefore(history []domain.Message, n int) []domain.Message {
	if len(history) == 0 {
		return nil
	}
	prev := history[:len(history)-1]
	if len(prev) > n {
		prev = prev[len(prev)-n:]
	}
	return prev
}
