package domain

import "time"

// EventKind distinguishes session events.
type EventKind string

const (
	EventTurn      EventKind = "turn"
	EventFinalized EventKind = "finalized"
)

// Event describes something that happened to a session. Events feed the
// live monitor and the transcript log; they are not persisted.
type Event struct {
	ID           string     `json:"id"`
	Kind         EventKind  `json:"kind"`
	SessionID    string     `json:"sessionId"`
	At           time.Time  `json:"at"`
	Inbound      string     `json:"inbound,omitempty"`
	Reply        string     `json:"reply,omitempty"`
	ReplyPath    string     `json:"replyPath,omitempty"`
	ScamDetected bool       `json:"scamDetected"`
	ScamType     ScamType   `json:"scamType"`
	Status       Status     `json:"status"`
	Stage        int        `json:"strategyStage"`
	TurnCount    int        `json:"turnCount"`
	NewIntel     []Fragment `json:"newIntelligence,omitempty"`
	Degraded     bool       `json:"degraded,omitempty"`
	Duplicate    bool       `json:"duplicate,omitempty"`
	Summary      *Summary   `json:"summary,omitempty"`
}
