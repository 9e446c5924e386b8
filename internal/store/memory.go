package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
)

// MemoryStore keeps sessions in process memory. Values are stored as JSON
// snapshots so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryRecord
}

type memoryRecord struct {
	version      int64
	data         []byte
	scamDetected bool
	status       domain.Status
	lastActivity time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryRecord)}
}

// Load retrieves a session by ID.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var sess domain.Session
	if err := json.Unmarshal(rec.data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	sess.Version = rec.version
	return &sess, nil
}

// Save inserts or conditionally updates a session.
func (m *MemoryStore) Save(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.sessions[sess.ID]
	if sess.Version == 0 && exists || sess.Version != 0 && (!exists || rec.version != sess.Version) {
		return fmt.Errorf("save session %s at version %d: %w", sess.ID, sess.Version, ErrVersionConflict)
	}

	next := *sess
	next.Version = sess.Version + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	m.sessions[sess.ID] = memoryRecord{
		version:      next.Version,
		data:         data,
		scamDetected: sess.ScamDetected,
		status:       sess.Status,
		lastActivity: sess.LastActivityAt,
	}
	sess.Version = next.Version
	return nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// DeleteInactive removes sessions idle since before the given instant.
func (m *MemoryStore) DeleteInactive(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, rec := range m.sessions {
		if rec.lastActivity.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// ListIdle returns IDs of idle scam sessions that are not finalized yet.
func (m *MemoryStore) ListIdle(_ context.Context, before time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	type idle struct {
		id string
		at time.Time
	}
	var found []idle
	for id, rec := range m.sessions {
		if rec.scamDetected && rec.status != domain.StatusFinalized && rec.lastActivity.Before(before) {
			found = append(found, idle{id: id, at: rec.lastActivity})
		}
	}
	m.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]string, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.id)
	}
	return ids, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
