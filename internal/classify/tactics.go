package classify

import (
	"fmt"
	"strings"

	"github.com/ashureev/honeypot/internal/domain"
)

// Request is what the sender is asking for in a message.
type Request string

const (
	RequestNone        Request = ""
	RequestPayment     Request = "payment"
	RequestCredentials Request = "credentials"
	RequestLink        Request = "link"
	RequestInformation Request = "information"
)

// Tactics describes the pressure techniques visible in one message.
type Tactics struct {
	Urgency   bool
	Threat    bool
	Emotional bool
	Request   Request
}

var (
	urgencyCues   = cues(1, "urgent", "urgently", "immediately", "now", "today", "asap", "hurry", "quick", "quickly")
	threatCues    = cues(1, "blocked", "suspended", "closed", "terminated", "legal action", "police", "arrest")
	emotionalCues = cues(1, "congratulations", "winner", "lucky", "selected", "prize", "free")

	// Checked in order; the first group that matches names the request.
	requestCues = []struct {
		request Request
		cues    []cue
	}{
		{RequestPayment, append(cues(1, "send", "pay", "transfer", "₹"), cue{phrase: "rs", re: rupeeAmount})},
		{RequestCredentials, cues(1, "otp", "code", "pin", "password", "cvv")},
		{RequestLink, cues(1, "click", "link", "visit", "website")},
		{RequestInformation, cues(1, "verify", "confirm", "update", "details")},
	}
)

func anyMatch(lower string, cs []cue) bool {
	for _, c := range cs {
		if c.matches(lower) {
			return true
		}
	}
	return false
}

// AnalyzeTactics inspects a single inbound message.
func AnalyzeTactics(text string) Tactics {
	lower := strings.ToLower(text)
	t := Tactics{
		Urgency:   anyMatch(lower, urgencyCues),
		Threat:    anyMatch(lower, threatCues),
		Emotional: anyMatch(lower, emotionalCues),
	}
	for _, rc := range requestCues {
		if anyMatch(lower, rc.cues) {
			t.Request = rc.request
			break
		}
	}
	return t
}

// Note renders the tactics as an analyst note for the given turn.
func (t Tactics) Note(scamType domain.ScamType, turn int) string {
	parts := []string{fmt.Sprintf("Scam type: %s", scamType)}
	if t.Urgency {
		parts = append(parts, "using urgency tactics")
	}
	if t.Threat {
		parts = append(parts, "making threats")
	}
	if t.Request != RequestNone {
		parts = append(parts, "requesting "+string(t.Request))
	}
	if t.Emotional {
		parts = append(parts, "using emotional manipulation")
	}
	parts = append(parts, fmt.Sprintf("turn %d", turn))
	return strings.Join(parts, ", ")
}
