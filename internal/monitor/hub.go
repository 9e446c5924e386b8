// Package monitor fans processed session events out to live subscribers.
package monitor

import (
	"log/slog"
	"sync"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/observability"
)

// AllSessions subscribes to every session.
const AllSessions = "*"

const (
	defaultBuffer      = 64
	defaultBacklog     = 20
	maxBacklogSessions = 1000
)

// Subscription receives events for one session, or all of them.
type Subscription struct {
	SessionID string
	C         <-chan domain.Event

	ch      chan domain.Event
	dropped int
}

// Hub is an EventSink that routes events to subscriptions by session id.
// Publish never blocks: a subscriber whose buffer is full misses the event.
// The last few events of each session are kept and replayed to new
// subscribers of that session.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	backlog *backlog
	buffer  int
	logger  *slog.Logger
}

// NewHub creates a Hub. buffer is the per-subscriber queue length.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		backlog: newBacklog(min(defaultBacklog, buffer), maxBacklogSessions),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe registers a subscriber for sessionID, or AllSessions. A session
// subscriber first receives that session's recent events.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan domain.Event, h.buffer)
	sub := &Subscription{SessionID: sessionID, C: ch, ch: ch}

	h.mu.Lock()
	if sessionID != AllSessions {
		for _, ev := range h.backlog.replay(sessionID) {
			ch <- ev
		}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	observability.AddMonitorSubscribers(1)
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.SessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.SessionID)
	}
	close(sub.ch)
	observability.AddMonitorSubscribers(-1)
	if sub.dropped > 0 {
		h.logger.Debug("Monitor subscriber missed events",
			"session_id", sub.SessionID,
			"dropped", sub.dropped)
	}
}

// Publish implements honeypot.EventSink.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog.record(ev)
	h.deliver(h.subs[ev.SessionID], ev)
	if ev.SessionID != AllSessions {
		h.deliver(h.subs[AllSessions], ev)
	}
}

func (h *Hub) deliver(set map[*Subscription]struct{}, ev domain.Event) {
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			close(sub.ch)
			observability.AddMonitorSubscribers(-1)
		}
	}
}
