// Package transcript writes session events as NDJSON conversation logs.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/ashureev/honeypot/internal/domain"
)

// Config controls where transcripts go.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Entry is one NDJSON line.
type Entry struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventID    string            `json:"eventId,omitempty"`
	SessionID  string            `json:"sessionId"`
	Direction  string            `json:"direction"`
	EventType  string            `json:"eventType"`
	Content    string            `json:"content,omitempty"`
	ContentRaw string            `json:"contentRaw,omitempty"`
	ScamType   domain.ScamType   `json:"scamType,omitempty"`
	Status     domain.Status     `json:"status,omitempty"`
	Stage      int               `json:"strategyStage"`
	TurnCount  int               `json:"turnCount"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Event types.
const (
	EventScammerMessage   = "scammer_message"
	EventAgentReply       = "agent_reply"
	EventIntelligence     = "intelligence_extracted"
	EventSessionFinalized = "session_finalized"
)

// Logger appends entries from a bounded queue on a single goroutine.
// Publish never blocks; entries are dropped when the queue is full.
type Logger struct {
	cfg    Config
	logger *slog.Logger

	queue chan Entry
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewLogger creates the transcript directories and starts the writer.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Enabled {
		if cfg.Dir == "" {
			return nil, errors.New("transcript dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if cfg.GlobalPath == "" {
			return nil, errors.New("global transcript path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
	}

	l := &Logger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Entry, cfg.QueueSize),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Publish implements honeypot.EventSink.
func (l *Logger) Publish(ev domain.Event) {
	for _, e := range entriesFor(ev) {
		l.Log(e)
	}
}

// Log queues one entry.
func (l *Logger) Log(e Entry) {
	if e.ContentRaw != "" && e.Content == "" {
		e.Content = cleanForReadability(e.ContentRaw)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		if dropped := l.dropped.Add(1); dropped == 1 || dropped%100 == 0 {
			l.logger.Warn("Transcript queue full, dropping entries",
				"session_id", e.SessionID,
				"dropped_total", dropped)
		}
	}
}

// Close flushes queued entries and stops the writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()
	for e := range l.queue {
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Error("Failed to encode transcript entry", "session_id", e.SessionID, "error", err)
			continue
		}
		line = append(line, '\n')
		if l.cfg.Enabled {
			if err := appendLine(l.sessionPath(e.SessionID), line); err != nil {
				l.logger.Error("Failed to write session transcript", "session_id", e.SessionID, "error", err)
			}
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Error("Failed to write global transcript", "error", err)
			}
		}
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func (l *Logger) sessionPath(sessionID string) string {
	name := unsafeName.ReplaceAllString(sessionID, "_")
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_"
	}
	return filepath.Join(l.cfg.Dir, name+".ndjson")
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func entriesFor(ev domain.Event) []Entry {
	base := Entry{
		Timestamp: ev.At,
		EventID:   ev.ID,
		SessionID: ev.SessionID,
		ScamType:  ev.ScamType,
		Status:    ev.Status,
		Stage:     ev.Stage,
		TurnCount: ev.TurnCount,
	}

	switch ev.Kind {
	case domain.EventFinalized:
		e := base
		e.Direction = "system"
		e.EventType = EventSessionFinalized
		if ev.Summary != nil {
			e.ContentRaw = ev.Summary.AgentNotes
			e.Metadata = map[string]string{
				"scamDetected":              fmt.Sprint(ev.Summary.ScamDetected),
				"totalTurns":                fmt.Sprint(ev.Summary.TotalTurns),
				"engagementDurationSeconds": fmt.Sprint(ev.Summary.EngagementDurationSeconds),
			}
		}
		return []Entry{e}
	case domain.EventTurn:
		if ev.Duplicate {
			return nil
		}
		var out []Entry
		if ev.Inbound != "" {
			e := base
			e.Direction = "inbound"
			e.EventType = EventScammerMessage
			e.ContentRaw = ev.Inbound
			if ev.Degraded {
				e.Metadata = map[string]string{"degraded": "true"}
			}
			out = append(out, e)
		}
		for _, f := range ev.NewIntel {
			e := base
			e.Direction = "system"
			e.EventType = EventIntelligence
			e.ContentRaw = f.Value
			e.Metadata = map[string]string{"category": string(f.Category), "source": string(f.Source)}
			out = append(out, e)
		}
		if ev.Reply != "" {
			e := base
			e.Direction = "outbound"
			e.EventType = EventAgentReply
			e.ContentRaw = ev.Reply
			e.Metadata = map[string]string{"replyPath": ev.ReplyPath}
			out = append(out, e)
		}
		return out
	}
	return nil
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of whitespace.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
