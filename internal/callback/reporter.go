// Package callback delivers finalized session summaries to the external
// evaluation endpoint.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/observability"
)

var (
	// ErrQueueFull is returned when the delivery queue cannot take more work.
	ErrQueueFull = errors.New("callback queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("callback reporter closed")
)

const emptyNotes = "No additional notes"

// deliveryNamespace scopes delivery ids so the same session always maps to
// the same id.
var deliveryNamespace = uuid.MustParse("6f1c1f4e-3b7a-4c55-9a51-0d7c8f8e2a10")

// Payload is the body posted to the evaluation endpoint.
type Payload struct {
	SessionID                 string                       `json:"sessionId"`
	ScamDetected              bool                         `json:"scamDetected"`
	ScamType                  domain.ScamType              `json:"scamType"`
	TotalMessagesExchanged    int                          `json:"totalMessagesExchanged"`
	EngagementDurationSeconds int64                        `json:"engagementDurationSeconds"`
	ExtractedIntelligence     domain.ExtractedIntelligence `json:"extractedIntelligence"`
	AgentNotes                string                       `json:"agentNotes"`
}

// NewPayload converts a summary into the wire payload.
func NewPayload(s domain.Summary) Payload {
	notes := s.AgentNotes
	if notes == "" {
		notes = emptyNotes
	}
	return Payload{
		SessionID:                 s.SessionID,
		ScamDetected:              s.ScamDetected,
		ScamType:                  s.ScamType,
		TotalMessagesExchanged:    s.TotalTurns,
		EngagementDurationSeconds: s.EngagementDurationSeconds,
		ExtractedIntelligence:     s.Intelligence,
		AgentNotes:                notes,
	}
}

// DeliveryID is stable per session so downstream can drop retried posts.
func DeliveryID(sessionID string) string {
	return uuid.NewSHA1(deliveryNamespace, []byte(sessionID)).String()
}

// NoopReporter discards summaries. Used when no callback URL is configured.
type NoopReporter struct{}

// Report implements honeypot.Reporter.
func (NoopReporter) Report(context.Context, domain.Summary) error { return nil }

// Options tunes an HTTPReporter.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	QueueSize  int
	// BaseDelay is the first retry backoff; it doubles per attempt.
	BaseDelay time.Duration
	Client    *http.Client
}

// HTTPReporter posts summaries from a bounded queue on a single worker so
// finalization never waits on the network.
type HTTPReporter struct {
	url    string
	opts   Options
	client *http.Client
	logger *slog.Logger

	queue  chan domain.Summary
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewHTTPReporter creates a reporter and starts its worker.
func NewHTTPReporter(url string, opts Options, logger *slog.Logger) *HTTPReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &HTTPReporter{
		url:    url,
		opts:   opts,
		client: client,
		logger: logger,
		queue:  make(chan domain.Summary, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Report queues a summary for delivery. It never blocks.
func (r *HTTPReporter) Report(_ context.Context, s domain.Summary) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logDropped("Callback reporter closed, dropping summary", s, ErrClosed)
		return ErrClosed
	}
	select {
	case r.queue <- s:
		return nil
	default:
		observability.RecordCallback("dropped")
		r.logDropped("Callback queue full, dropping summary", s, ErrQueueFull)
		return ErrQueueFull
	}
}

// logDropped logs the full payload of a summary that will never be delivered.
// A finalized session is not reported again, so the log line is the only
// copy an operator can replay.
func (r *HTTPReporter) logDropped(msg string, s domain.Summary, err error) {
	r.logger.Error(msg,
		"session_id", s.SessionID,
		"delivery_id", DeliveryID(s.SessionID),
		"payload", NewPayload(s),
		"error", err)
}

func (r *HTTPReporter) run() {
	defer r.wg.Done()
	for s := range r.queue {
		if err := r.deliver(r.ctx, s); err != nil {
			observability.RecordCallback("failed")
			r.logDropped("Callback delivery failed", s, err)
			continue
		}
		observability.RecordCallback("delivered")
	}
}

// deliver posts with exponential backoff. Client errors other than 408 and
// 429 are not retried.
func (r *HTTPReporter) deliver(ctx context.Context, s domain.Summary) error {
	body, err := json.Marshal(NewPayload(s))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	deliveryID := DeliveryID(s.SessionID)

	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.opts.BaseDelay * time.Duration(1<<(attempt-1))
			r.logger.Debug("Retrying callback delivery",
				"session_id", s.SessionID,
				"attempt", attempt+1,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
			}
		}

		retry, err := r.post(ctx, deliveryID, body)
		if err == nil {
			r.logger.Info("Callback delivered",
				"session_id", s.SessionID,
				"delivery_id", deliveryID,
				"attempts", attempt+1)
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

func (r *HTTPReporter) post(ctx context.Context, deliveryID string, body []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := r.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("callback returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout
	return retry, err
}

// Close stops accepting summaries and delivers what is queued until ctx is
// done; anything still pending after that is abandoned.
func (r *HTTPReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		r.logger.Warn("Callback reporter closed with pending deliveries")
		return ctx.Err()
	}
}
