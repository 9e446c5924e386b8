package monitor

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/honeypot/internal/domain"
)

func event(sessionID string, turn int) domain.Event {
	return domain.Event{Kind: domain.EventTurn, SessionID: sessionID, TurnCount: turn}
}

func TestHubRoutesBySession(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe("a")
	all := h.Subscribe(AllSessions)
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(all)

	h.Publish(event("a", 1))
	h.Publish(event("b", 1))

	require.Len(t, a.C, 1)
	assert.Equal(t, "a", (<-a.C).SessionID)

	require.Len(t, all.C, 2)
	assert.Equal(t, "a", (<-all.C).SessionID)
	assert.Equal(t, "b", (<-all.C).SessionID)
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe("a")

	h.Publish(event("a", 1))
	h.Publish(event("a", 2))

	assert.Equal(t, 1, (<-sub.C).TurnCount)
	assert.Equal(t, 1, sub.dropped)
	h.Unsubscribe(sub)
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(0, nil)
	sub := h.Subscribe("a")
	assert.Equal(t, 1, h.Subscribers())

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Zero(t, h.Subscribers())
	_, open := <-sub.C
	assert.False(t, open)

	// Publishing with no subscribers is a no-op.
	h.Publish(event("a", 1))
}

func TestHubClose(t *testing.T) {
	h := NewHub(0, nil)
	a := h.Subscribe("a")
	b := h.Subscribe(AllSessions)
	h.Close()

	_, open := <-a.C
	assert.False(t, open)
	_, open = <-b.C
	assert.False(t, open)
	assert.Zero(t, h.Subscribers())
	h.Unsubscribe(a)
}

func TestWebSocketFeed(t *testing.T) {
	hub := NewHub(8, nil)
	r := chi.NewRouter()
	NewWebSocketHandler(hub, nil, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/s-1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var greet hello
	require.NoError(t, wsjson.Read(ctx, conn, &greet))
	assert.Equal(t, hello{Type: "subscribed", SessionID: "s-1"}, greet)

	hub.Publish(event("other", 1))
	hub.Publish(domain.Event{Kind: domain.EventTurn, SessionID: "s-1", TurnCount: 3, Reply: "Who is this?"})

	var got domain.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, 3, got.TurnCount)
	assert.Equal(t, "Who is this?", got.Reply)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubReplaysBacklogToLateSubscribers(t *testing.T) {
	h := NewHub(4, nil)
	for i := 1; i <= 6; i++ {
		h.Publish(event("a", i))
	}
	h.Publish(event("b", 1))

	sub := h.Subscribe("a")
	defer h.Unsubscribe(sub)
	require.Len(t, sub.C, 4)
	for want := 3; want <= 6; want++ {
		assert.Equal(t, want, (<-sub.C).TurnCount)
	}

	all := h.Subscribe(AllSessions)
	defer h.Unsubscribe(all)
	assert.Empty(t, all.C, "wildcard subscribers get no replay")
}

func TestEventRing(t *testing.T) {
	r := newEventRing(3)
	assert.Empty(t, r.events())

	r.push(event("a", 1))
	r.push(event("a", 2))
	assert.Equal(t, 2, r.len())
	assert.Equal(t, []int{1, 2}, turns(r.events()))

	r.push(event("a", 3))
	r.push(event("a", 4))
	assert.Equal(t, 3, r.len())
	assert.Equal(t, []int{2, 3, 4}, turns(r.events()))
}

func TestBacklogBoundsSessions(t *testing.T) {
	b := newBacklog(2, 2)
	b.record(event("a", 1))
	b.record(event("b", 1))
	b.record(event("c", 1))

	assert.Nil(t, b.replay("a"))
	assert.Len(t, b.replay("b"), 1)
	assert.Len(t, b.replay("c"), 1)
}

func turns(evs []domain.Event) []int {
	out := make([]int, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.TurnCount)
	}
	return out
}
