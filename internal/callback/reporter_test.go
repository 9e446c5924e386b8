package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/honeypot/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest keeps idle keep-alive connections around briefly.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

func summary(id string) domain.Summary {
	return domain.Summary{
		SessionID:                 id,
		ScamDetected:              true,
		ScamType:                  domain.ScamUPI,
		TotalTurns:                4,
		EngagementDurationSeconds: 95,
		Intelligence: domain.ExtractedIntelligence{
			BankAccounts:       []string{},
			UPIIDs:             []string{"scammer@upi"},
			PhishingLinks:      []string{},
			PhoneNumbers:       []string{"+919876543210"},
			SuspiciousKeywords: []string{"urgent"},
		},
	}
}

func closeReporter(t *testing.T, r *HTTPReporter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

func TestHTTPReporterDelivers(t *testing.T) {
	var (
		mu      sync.Mutex
		got     Payload
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL, Options{}, nil)
	require.NoError(t, r.Report(context.Background(), summary("s-1")))
	closeReporter(t, r)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "s-1", got.SessionID)
	assert.True(t, got.ScamDetected)
	assert.Equal(t, 4, got.TotalMessagesExchanged)
	assert.Equal(t, []string{"scammer@upi"}, got.ExtractedIntelligence.UPIIDs)
	assert.Equal(t, emptyNotes, got.AgentNotes)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, DeliveryID("s-1"), headers.Get("X-Delivery-ID"))
}

func TestHTTPReporterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ids := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get("X-Delivery-ID")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL, Options{MaxRetries: 3, BaseDelay: time.Millisecond}, nil)
	require.NoError(t, r.Report(context.Background(), summary("s-1")))
	closeReporter(t, r)

	assert.Equal(t, int32(3), calls.Load())
	close(ids)
	for id := range ids {
		assert.Equal(t, DeliveryID("s-1"), id)
	}
}

func TestHTTPReporterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL, Options{MaxRetries: 3, BaseDelay: time.Millisecond}, nil)
	require.NoError(t, r.Report(context.Background(), summary("s-1")))
	closeReporter(t, r)

	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPReporterQueueFullAndClosed(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL, Options{QueueSize: 1}, nil)
	// The worker takes the first summary and blocks on the server; the
	// second fills the queue.
	require.NoError(t, r.Report(context.Background(), summary("s-1")))
	require.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Report(context.Background(), summary("s-2")))
	assert.ErrorIs(t, r.Report(context.Background(), summary("s-3")), ErrQueueFull)

	close(block)
	closeReporter(t, r)
	assert.ErrorIs(t, r.Report(context.Background(), summary("s-4")), ErrClosed)
	assert.NoError(t, r.Close(context.Background()))
}

func TestHTTPReporterLogsUndeliveredPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	r := NewHTTPReporter(srv.URL, Options{MaxRetries: 1, BaseDelay: time.Millisecond}, logger)
	require.NoError(t, r.Report(context.Background(), summary("s-1")))
	closeReporter(t, r)

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry struct {
			Msg        string  `json:"msg"`
			DeliveryID string  `json:"delivery_id"`
			Payload    Payload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry.Msg != "Callback delivery failed" {
			continue
		}
		found = true
		assert.Equal(t, DeliveryID("s-1"), entry.DeliveryID)
		assert.Equal(t, NewPayload(summary("s-1")), entry.Payload)
	}
	assert.True(t, found, "undelivered summary must be logged with its payload")
}

func TestDeliveryIDStable(t *testing.T) {
	assert.Equal(t, DeliveryID("abc"), DeliveryID("abc"))
	assert.NotEqual(t, DeliveryID("abc"), DeliveryID("abd"))
}

func TestNoopReporter(t *testing.T) {
	assert.NoError(t, NoopReporter{}.Report(context.Background(), summary("s-1")))
}
