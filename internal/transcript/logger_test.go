package transcript

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
)

func TestLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewLogger(Config{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Publish(domain.Event{
		ID:        "ev-1",
		Kind:      domain.EventTurn,
		SessionID: "sess-1",
		At:        time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC),
		Inbound:   "Send \x1b[31m₹500\x1b[0m to\nscammer@upi",
		Reply:     "Which UPI app?",
		ReplyPath: "canned",
		ScamType:  domain.ScamUPI,
		Status:    domain.StatusExtracted,
		TurnCount: 1,
		NewIntel: []domain.Fragment{
			{Category: domain.CategoryUPIIDs, Value: "scammer@upi", Source: domain.SourcePattern},
		},
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "sess-1.ndjson"))
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}

	var inbound, intel, reply Entry
	for i, dst := range []*Entry{&inbound, &intel, &reply} {
		if err := json.Unmarshal([]byte(lines[i]), dst); err != nil {
			t.Fatalf("failed to unmarshal line %d: %v", i, err)
		}
	}
	if inbound.EventType != EventScammerMessage || inbound.Direction != "inbound" {
		t.Fatalf("unexpected inbound entry: %+v", inbound)
	}
	if inbound.Content != "Send ₹500 to scammer@upi" {
		t.Fatalf("expected cleaned content, got %q", inbound.Content)
	}
	if intel.EventType != EventIntelligence || intel.Metadata["category"] != string(domain.CategoryUPIIDs) {
		t.Fatalf("unexpected intelligence entry: %+v", intel)
	}
	if reply.EventType != EventAgentReply || reply.ContentRaw != "Which UPI app?" || reply.Metadata["replyPath"] != "canned" {
		t.Fatalf("unexpected reply entry: %+v", reply)
	}
}

func TestLoggerGlobalFileAndFinalize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	logger, err := NewLogger(Config{GlobalEnabled: true, GlobalPath: global}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Publish(domain.Event{Kind: domain.EventTurn, SessionID: "a", Inbound: "hello"})
	logger.Publish(domain.Event{Kind: domain.EventTurn, SessionID: "a", Inbound: "hello", Duplicate: true})
	logger.Publish(domain.Event{
		Kind:      domain.EventFinalized,
		SessionID: "b",
		Summary:   &domain.Summary{SessionID: "b", ScamDetected: true, TotalTurns: 4, AgentNotes: "urgency"},
	})
	_ = logger.Close()

	lines := readLines(t, global)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var fin Entry
	if err := json.Unmarshal([]byte(lines[1]), &fin); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if fin.EventType != EventSessionFinalized || fin.Metadata["totalTurns"] != "4" {
		t.Fatalf("unexpected finalize entry: %+v", fin)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.ndjson")); !os.IsNotExist(err) {
		t.Fatal("per-session file written while disabled")
	}
}

func TestLoggerDropsAfterClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewLogger(Config{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	_ = logger.Close()
	_ = logger.Close()
	logger.Log(Entry{SessionID: "late", ContentRaw: "x"})

	if _, err := os.Stat(filepath.Join(dir, "late.ndjson")); !os.IsNotExist(err) {
		t.Fatal("entry written after Close")
	}
}

func TestNewLoggerRequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := NewLogger(Config{Enabled: true}, nil); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestSessionPathSanitized(t *testing.T) {
	t.Parallel()

	l := &Logger{cfg: Config{Dir: "/logs"}}
	tests := map[string]string{
		"sess-1":      "/logs/sess-1.ndjson",
		"a:b":         "/logs/a_b.ndjson",
		"../../etc/x": "/logs/.._.._etc_x.ndjson",
		"..":          "/logs/_.ndjson",
	}
	for in, want := range tests {
		if got := l.sessionPath(in); got != want {
			t.Errorf("sessionPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\x07"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if clean != "error plain" {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
