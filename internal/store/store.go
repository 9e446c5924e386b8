// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/shared"
)

var (
	// ErrUnavailable wraps any failure to reach the backing store.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrVersionConflict is returned when a save loses an optimistic
	// concurrency race against another writer.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrNotFound is returned by Finalize for unknown sessions.
	ErrNotFound = errors.New("session not found")
)

// Repository defines the interface for persisting honeypot sessions.
type Repository interface {
	// Load retrieves a session by ID. A missing session yields (nil, nil).
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Save writes the session. A session with Version 0 is inserted; any
	// other version only updates a row still at that version. On success
	// the session's Version is incremented.
	Save(ctx context.Context, session *domain.Session) error

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error

	// DeleteInactive removes every session whose last activity is before the
	// given instant, regardless of status.
	DeleteInactive(ctx context.Context, before time.Time) (int64, error)

	// ListIdle returns scam sessions that are not finalized and have been
	// inactive since before the given instant, oldest first.
	ListIdle(ctx context.Context, before time.Time, limit int) ([]string, error)

	// Ping verifies connectivity and returns an error if the store is unreachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

const (
	defaultOpTimeout = 2 * time.Second
	maxRetries       = 3
	baseRetryDelay   = 50 * time.Millisecond
)

// Store wraps a Repository with per-operation timeouts, retry on transient
// lock contention and error normalization.
type Store struct {
	repo    Repository
	timeout time.Duration
	logger  *slog.Logger
}

// New wraps repo. A non-positive timeout selects the default.
func New(repo Repository, timeout time.Duration, logger *slog.Logger) *Store {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, timeout: timeout, logger: logger}
}

// Repository returns the wrapped repository.
func (s *Store) Repository() Repository {
	return s.repo
}

// Load fetches a session. A missing session yields (nil, nil).
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.withRetry(ctx, "load", sessionID, func(ctx context.Context) error {
		var err error
		sess, err = s.repo.Load(ctx, sessionID)
		return err
	})
	return sess, err
}

// Save persists a session. Ephemeral sessions are never written.
func (s *Store) Save(ctx context.Context, sess *domain.Session) error {
	if sess.Ephemeral {
		return fmt.Errorf("save ephemeral session %s: %w", sess.ID, ErrUnavailable)
	}
	return s.withRetry(ctx, "save", sess.ID, func(ctx context.Context) error {
		return s.repo.Save(ctx, sess)
	})
}

// Finalize moves a stored session to FINALIZED and returns its frozen
// summary. The boolean is true only for the call that performed the
// transition; repeated calls return the stored summary unchanged.
func (s *Store) Finalize(ctx context.Context, sessionID string, now time.Time) (domain.Summary, bool, error) {
	sess, err := s.Load(ctx, sessionID)
	if err != nil {
		return domain.Summary{}, false, err
	}
	if sess == nil {
		return domain.Summary{}, false, fmt.Errorf("finalize %s: %w", sessionID, ErrNotFound)
	}
	if sess.Finalized() && sess.Summary != nil {
		return *sess.Summary, false, nil
	}

	summary := sess.Finalize(now)
	if err := s.Save(ctx, sess); err != nil {
		return domain.Summary{}, false, fmt.Errorf("finalize %s: %w", sessionID, err)
	}
	return summary, true, nil
}

// EvictInactive deletes sessions idle since before the given instant.
func (s *Store) EvictInactive(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "evict", "", func(ctx context.Context) error {
		var err error
		n, err = s.repo.DeleteInactive(ctx, before)
		return err
	})
	return n, err
}

// IdleSessions lists scam sessions due for idle finalization.
func (s *Store) IdleSessions(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.withRetry(ctx, "list_idle", "", func(ctx context.Context) error {
		var err error
		ids, err = s.repo.ListIdle(ctx, before, limit)
		return err
	})
	return ids, err
}

// Ping checks store reachability within the operation timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// withRetry runs fn under the operation timeout, retrying lock contention
// with exponential backoff: 50ms, 100ms.
func (s *Store) withRetry(ctx context.Context, op, sessionID string, fn func(context.Context) error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrUnavailable) {
			return err
		}
		if !shared.IsRetryableStoreError(err) || i == maxRetries-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<i)
		s.logger.Debug("Store operation hit lock contention, retrying",
			"op", op,
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("store %s: %w: %w", op, ErrUnavailable, ctx.Err())
		}
	}
	return fmt.Errorf("store %s: %w: %w", op, ErrUnavailable, err)
}
