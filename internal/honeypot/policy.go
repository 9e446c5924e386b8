package honeypot

import "github.com/ashureev/honeypot/internal/domain"

// Auto-finalize triggers.
const (
	TriggerTurnLimit    = "turn_limit"
	TriggerIntelligence = "intelligence"
)

// FinalizePolicy decides when a scam session is finalized without an
// explicit request. A zero field disables its trigger.
type FinalizePolicy struct {
	// MaxTurns is the number of inbound messages after which the session
	// is finalized.
	MaxTurns int
	// MinActionable actionable items seen within at least MinTurnsWithIntel
	// inbound messages also finalize the session.
	MinTurnsWithIntel int
	MinActionable     int
}

// due returns the trigger that fires for sess, or "" when none does.
// Sessions that are not scams, already final or ephemeral never trigger.
func (p FinalizePolicy) due(sess *domain.Session) string {
	if sess.Ephemeral || !sess.ScamDetected || sess.Finalized() {
		return ""
	}
	if p.MaxTurns > 0 && sess.TurnCount >= p.MaxTurns {
		return TriggerTurnLimit
	}
	if p.MinTurnsWithIntel > 0 && p.MinActionable > 0 &&
		sess.TurnCount >= p.MinTurnsWithIntel &&
		sess.Intelligence.Actionable() >= p.MinActionable {
		return TriggerIntelligence
	}
	return ""
}
