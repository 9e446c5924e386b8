package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "honeypot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repository{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func newScamSession(id string, at time.Time) *domain.Session {
	s := domain.NewSession(id, at)
	s.RecordInbound(domain.Message{Sender: domain.SenderScammer, Text: "Your account will be blocked", Timestamp: at})
	s.PinScamType(domain.ScamBankFraud)
	return s
}

func TestRepositoryContract(t *testing.T) {
	t.Parallel()

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			missing, err := repo.Load(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			sess := newScamSession("s-1", now)
			require.NoError(t, repo.Save(ctx, sess))
			assert.Equal(t, int64(1), sess.Version)

			loaded, err := repo.Load(ctx, "s-1")
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, int64(1), loaded.Version)
			assert.Equal(t, domain.ScamBankFraud, loaded.ScamType)
			assert.Equal(t, 1, loaded.TurnCount)

			loaded.RecordReply("which account?", now)
			require.NoError(t, repo.Save(ctx, loaded))
			assert.Equal(t, int64(2), loaded.Version)

			// sess still holds version 1: a stale writer must lose.
			err = repo.Save(ctx, sess)
			assert.ErrorIs(t, err, ErrVersionConflict)

			dup := newScamSession("s-1", now)
			assert.ErrorIs(t, repo.Save(ctx, dup), ErrVersionConflict)

			require.NoError(t, repo.Delete(ctx, "s-1"))
			gone, err := repo.Load(ctx, "s-1")
			require.NoError(t, err)
			assert.Nil(t, gone)
		})
	}
}

func TestRepositoryIdleAndEviction(t *testing.T) {
	t.Parallel()

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			old := newScamSession("old", base)
			require.NoError(t, repo.Save(ctx, old))

			benign := domain.NewSession("benign", base)
			require.NoError(t, repo.Save(ctx, benign))

			done := newScamSession("done", base)
			done.Finalize(base)
			require.NoError(t, repo.Save(ctx, done))

			fresh := newScamSession("fresh", base.Add(time.Hour))
			require.NoError(t, repo.Save(ctx, fresh))

			ids, err := repo.ListIdle(ctx, base.Add(time.Minute), 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"old"}, ids)

			n, err := repo.DeleteInactive(ctx, base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			left, err := repo.Load(ctx, "fresh")
			require.NoError(t, err)
			assert.NotNil(t, left)
		})
	}
}

func TestStoreFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := New(NewMemory(), time.Second, nil)

	_, _, err := st.Finalize(ctx, "missing", now)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Save(ctx, newScamSession("s-1", now)))

	first, transitioned, err := st.Finalize(ctx, "s-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, transitioned)

	second, transitioned, err := st.Finalize(ctx, "s-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, first, second)
}

func TestStoreRefusesEphemeralSessions(t *testing.T) {
	t.Parallel()

	st := New(NewMemory(), time.Second, nil)
	sess := domain.NewSession("eph", time.Now())
	sess.Ephemeral = true

	assert.ErrorIs(t, st.Save(context.Background(), sess), ErrUnavailable)
}

type flakyRepo struct {
	*MemoryStore
	failures atomic.Int32
	err      error
}

func (f *flakyRepo) Load(ctx context.Context, id string) (*domain.Session, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, f.err
	}
	return f.MemoryStore.Load(ctx, id)
}

func TestStoreRetriesLockContention(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{MemoryStore: NewMemory(), err: errors.New("database is locked")}
	repo.failures.Store(2)
	st := New(repo, time.Second, nil)

	sess, err := st.Load(context.Background(), "any")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestStoreWrapsFailuresAsUnavailable(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{MemoryStore: NewMemory(), err: errors.New("connection refused")}
	repo.failures.Store(10)
	st := New(repo, time.Second, nil)

	_, err := st.Load(context.Background(), "any")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(9), repo.failures.Load(), "non-retryable errors are not retried")
}
