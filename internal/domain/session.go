package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Sender values used by the evaluation platform. The honeypot persona speaks
// as the "user"; everything else is treated as inbound.
const (
	SenderScammer = "scammer"
	SenderAgent   = "user"
)

const maxNotes = 20

// Message is one entry of the conversation history.
type Message struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Inbound reports whether the message came from the counterpart.
func (m Message) Inbound() bool {
	return m.Sender != SenderAgent
}

// Session is the durable state of one conversation.
type Session struct {
	ID             string       `json:"sessionId"`
	Status         Status       `json:"status"`
	ScamDetected   bool         `json:"scamDetected"`
	ScamType       ScamType     `json:"scamType"`
	TurnCount      int          `json:"turnCount"`
	Stage          int          `json:"strategyStage"`
	Language       string       `json:"language,omitempty"`
	Channel        string       `json:"channel,omitempty"`
	History        []Message    `json:"history"`
	Intelligence   Intelligence `json:"intelligence"`
	Notes          []string     `json:"notes"`
	Summary        *Summary     `json:"summary,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	Version        int64        `json:"version"`

	// Ephemeral marks an in-memory session created while the store was
	// unreachable. It is never saved nor finalized.
	Ephemeral bool `json:"-"`
}

// NewSession returns an empty session in the NEW state.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:             id,
		Status:         StatusNew,
		ScamType:       ScamUnknown,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// RecordInbound appends an inbound message and bumps the turn count. A
// redelivery of a message already in the history is ignored and reported as
// false.
func (s *Session) RecordInbound(m Message) bool {
	if m.Sender == "" {
		m.Sender = SenderScammer
	}
	if !m.Timestamp.IsZero() {
		for _, h := range s.History {
			if h.Sender == m.Sender && h.Text == m.Text && h.Timestamp.Equal(m.Timestamp) {
				return false
			}
		}
	}
	s.History = append(s.History, m)
	if m.Inbound() {
		s.TurnCount++
	}
	return true
}

// RecordReply appends the persona's reply.
func (s *Session) RecordReply(text string, at time.Time) {
	s.History = append(s.History, Message{Sender: SenderAgent, Text: text, Timestamp: at})
}

// Advance moves the status forward. It refuses to go backwards or to enter
// FINALIZED, which only Finalize may set.
func (s *Session) Advance(to Status) bool {
	if to == StatusFinalized || to.Rank() <= s.Status.Rank() {
		return false
	}
	s.Status = to
	return true
}

// PinScamType records a positive classification. The first archetype wins;
// later calls never change it.
func (s *Session) PinScamType(t ScamType) bool {
	if s.ScamDetected {
		return false
	}
	s.ScamDetected = true
	s.ScamType = t
	s.Advance(StatusEngaged)
	return true
}

// AdvanceStage raises the strategy stage; lower values are ignored.
func (s *Session) AdvanceStage(stage int) {
	if stage > s.Stage {
		s.Stage = stage
	}
}

// AddNote appends an agent note, keeping the most recent ones.
func (s *Session) AddNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if n := len(s.Notes); n > 0 && s.Notes[n-1] == note {
		return
	}
	s.Notes = append(s.Notes, note)
	if len(s.Notes) > maxNotes {
		s.Notes = append([]string(nil), s.Notes[len(s.Notes)-maxNotes:]...)
	}
}

// AgentNotes joins the notes the way the evaluation platform expects.
func (s *Session) AgentNotes() string {
	return strings.Join(s.Notes, " | ")
}

// RecentHistory returns the last n history entries.
func (s *Session) RecentHistory(n int) []Message {
	if n <= 0 || n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// LastReply returns the most recent persona reply, if any.
func (s *Session) LastReply() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if !s.History[i].Inbound() {
			return s.History[i].Text
		}
	}
	return ""
}

// EngagementDuration is the time between the first and the latest activity.
func (s *Session) EngagementDuration() time.Duration {
	d := s.LastActivityAt.Sub(s.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Finalized reports whether the session reached its terminal state.
func (s *Session) Finalized() bool {
	return s.Status == StatusFinalized
}

// Finalize freezes the summary and moves the session to FINALIZED. Calling it
// again returns the summary frozen the first time.
func (s *Session) Finalize(at time.Time) Summary {
	if s.Finalized() && s.Summary != nil {
		return *s.Summary
	}
	sum := Summary{
		SessionID:                 s.ID,
		ScamDetected:              s.ScamDetected,
		ScamType:                  s.ScamType,
		TotalTurns:                s.TurnCount,
		EngagementDurationSeconds: int64(s.EngagementDuration().Seconds()),
		Intelligence:              s.Intelligence.Snapshot(),
		AgentNotes:                s.AgentNotes(),
		FinalizedAt:               at,
	}
	s.Status = StatusFinalized
	s.Summary = &sum
	return sum
}

// Clone returns a deep copy through the JSON representation used by stores.
func (s *Session) Clone() *Session {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	out := &Session{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	out.Ephemeral = s.Ephemeral
	return out
}

// Summary is the frozen result of a finalized session.
type Summary struct {
	SessionID                 string                `json:"sessionId"`
	ScamDetected              bool                  `json:"scamDetected"`
	ScamType                  ScamType              `json:"scamType"`
	TotalTurns                int                   `json:"totalTurns"`
	EngagementDurationSeconds int64                 `json:"engagementDurationSeconds"`
	Intelligence              ExtractedIntelligence `json:"extractedIntelligence"`
	AgentNotes                string                `json:"agentNotes"`
	FinalizedAt               time.Time             `json:"finalizedAt"`
}
