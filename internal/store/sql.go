package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
)

// sqlStore implements Repository over database/sql. SQLite and PostgreSQL
// share the schema and queries; only the placeholder style differs.
type sqlStore struct {
	db       *sql.DB
	dialect  string
	numbered bool        // PostgreSQL-style $n placeholders
	writeMu  *sync.Mutex // serializes writers on SQLite to avoid SQLITE_BUSY
}

var sessionSchema = []string{
	`CREATE TABLE IF NOT EXISTS honeypot_sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		scam_detected INTEGER NOT NULL DEFAULT 0,
		scam_type TEXT NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		version BIGINT NOT NULL,
		data_json TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		last_activity_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_honeypot_sessions_activity ON honeypot_sessions(last_activity_at)`,
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	for _, stmt := range sessionSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// bind rewrites ? placeholders for dialects that number them.
func (s *sqlStore) bind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping verifies database connectivity.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Load retrieves a session by ID.
func (s *sqlStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := s.bind(`SELECT version, data_json FROM honeypot_sessions WHERE session_id = ?`)

	var version int64
	var data string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	sess.Version = version
	return &sess, nil
}

// Save inserts or conditionally updates a session.
func (s *sqlStore) Save(ctx context.Context, sess *domain.Session) error {
	if s.writeMu != nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	next := *sess
	next.Version = sess.Version + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	scamDetected := 0
	if sess.ScamDetected {
		scamDetected = 1
	}

	var res sql.Result
	if sess.Version == 0 {
		query := s.bind(`
		INSERT INTO honeypot_sessions (session_id, status, scam_detected, scam_type, turn_count, version, data_json, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`)
		res, err = s.db.ExecContext(ctx, query,
			sess.ID, string(sess.Status), scamDetected, string(sess.ScamType), sess.TurnCount,
			next.Version, string(data), sess.CreatedAt.UnixMilli(), sess.LastActivityAt.UnixMilli())
	} else {
		query := s.bind(`
		UPDATE honeypot_sessions SET
			status = ?, scam_detected = ?, scam_type = ?, turn_count = ?,
			version = ?, data_json = ?, last_activity_at = ?
		WHERE session_id = ? AND version = ?`)
		res, err = s.db.ExecContext(ctx, query,
			string(sess.Status), scamDetected, string(sess.ScamType), sess.TurnCount,
			next.Version, string(data), sess.LastActivityAt.UnixMilli(),
			sess.ID, sess.Version)
	}
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("save session %s at version %d: %w", sess.ID, sess.Version, ErrVersionConflict)
	}

	sess.Version = next.Version
	return nil
}

// Delete removes a session.
func (s *sqlStore) Delete(ctx context.Context, sessionID string) error {
	if s.writeMu != nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	if _, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM honeypot_sessions WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteInactive removes sessions idle since before the given instant.
func (s *sqlStore) DeleteInactive(ctx context.Context, before time.Time) (int64, error) {
	if s.writeMu != nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	res, err := s.db.ExecContext(ctx,
		s.bind(`DELETE FROM honeypot_sessions WHERE last_activity_at < ?`), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete inactive sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListIdle returns IDs of idle scam sessions that are not finalized yet.
func (s *sqlStore) ListIdle(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.bind(`
		SELECT session_id FROM honeypot_sessions
		WHERE scam_detected = 1 AND status <> ? AND last_activity_at < ?
		ORDER BY last_activity_at
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, string(domain.StatusFinalized), before.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
