package monitor

import "github.com/ashureev/honeypot/internal/domain"

// eventRing is a fixed-size circular buffer of recent events for one session.
// When full, the oldest event is overwritten.
type eventRing struct {
	buf  []domain.Event
	head int // write position
	full bool
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]domain.Event, size)}
}

func (r *eventRing) push(ev domain.Event) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

// events returns the buffered events oldest first.
func (r *eventRing) events() []domain.Event {
	if !r.full {
		return append([]domain.Event(nil), r.buf[:r.head]...)
	}
	out := make([]domain.Event, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}

func (r *eventRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

// backlog keeps a ring per session, dropping the oldest session once more
// than maxSessions are tracked.
type backlog struct {
	size        int
	maxSessions int
	rings       map[string]*eventRing
	order       []string
}

func newBacklog(size, maxSessions int) *backlog {
	return &backlog{
		size:        size,
		maxSessions: maxSessions,
		rings:       make(map[string]*eventRing),
	}
}

func (b *backlog) record(ev domain.Event) {
	if b.size <= 0 {
		return
	}
	r, ok := b.rings[ev.SessionID]
	if !ok {
		r = newEventRing(b.size)
		b.rings[ev.SessionID] = r
		b.order = append(b.order, ev.SessionID)
		for len(b.order) > b.maxSessions {
			delete(b.rings, b.order[0])
			b.order = b.order[1:]
		}
	}
	r.push(ev)
}

func (b *backlog) replay(sessionID string) []domain.Event {
	r, ok := b.rings[sessionID]
	if !ok {
		return nil
	}
	return r.events()
}
