package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/llm"
	"github.com/ashureev/honeypot/internal/observability"
)

// NeutralReply is sent when the conversation is not a scam.
const NeutralReply = "I'm sorry, I don't understand what you're asking. If you need assistance, please contact official support channels. Thank you."

// Reply paths reported in metrics and events.
const (
	PathModel   = "model"
	PathCanned  = "canned"
	PathNeutral = "neutral"
)

var errEmptyReply = errors.New("empty reply")

// Turn is everything a responder may use to write the next reply.
type Turn struct {
	SessionID    string
	ScamDetected bool
	ScamType     domain.ScamType
	Stage        int
	Text         string
	// History is the recent conversation, oldest first, excluding Text.
	History   []domain.Message
	Language  string
	Sensitive []string
	LastReply string
}

// Responder writes a reply for a turn.
type Responder interface {
	Name() string
	Respond(ctx context.Context, t Turn) (string, error)
}

// Reply is the rendered utterance and the path that produced it.
type Reply struct {
	Text string
	Path string
}

// Engine tries responders in order and keeps the first usable reply.
type Engine struct {
	responders  []Responder
	imperfector *Imperfector
	logger      *slog.Logger
}

// NewEngine builds an engine. A CannedResponder is always appended so the
// conversation never stalls.
func NewEngine(logger *slog.Logger, imperfector *Imperfector, responders ...Responder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	responders = append(responders, NewCannedResponder(nil))
	return &Engine{responders: responders, imperfector: imperfector, logger: logger}
}

// Reply always returns non-empty text that contains none of t.Sensitive.
func (e *Engine) Reply(ctx context.Context, t Turn) Reply {
	if !t.ScamDetected {
		observability.RecordReply(PathNeutral)
		return Reply{Text: NeutralReply, Path: PathNeutral}
	}

	for _, r := range e.responders {
		text, err := r.Respond(ctx, t)
		text = strings.TrimSpace(text)
		if err == nil && text == "" {
			err = errEmptyReply
		}
		if err != nil {
			e.logger.Warn("Responder failed, falling back",
				"session_id", t.SessionID,
				"responder", r.Name(),
				"error", err)
			continue
		}
		if Leaks(text, t.Sensitive) {
			e.logger.Warn("Reply rejected: echoes captured intelligence",
				"session_id", t.SessionID,
				"responder", r.Name())
			continue
		}
		if text == t.LastReply && r.Name() != PathCanned {
			continue
		}
		observability.RecordReply(r.Name())
		return Reply{Text: e.imperfector.Apply(text), Path: r.Name()}
	}

	// Unreachable while a CannedResponder is in the chain.
	observability.RecordReply(PathCanned)
	return Reply{Text: PersonaFor(t.ScamType).Stance(t.Stage).Canned[0], Path: PathCanned}
}

// CannedResponder picks a stage-appropriate line from the persona table.
type CannedResponder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCannedResponder returns a CannedResponder. A nil rng gets a randomly
// seeded source.
func NewCannedResponder(rng *rand.Rand) *CannedResponder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &CannedResponder{rng: rng}
}

// Name implements Responder.
func (c *CannedResponder) Name() string { return PathCanned }

// Respond implements Responder. It avoids repeating the previous reply
// when the stance has an alternative.
func (c *CannedResponder) Respond(_ context.Context, t Turn) (string, error) {
	options := PersonaFor(t.ScamType).Stance(t.Stage).Canned
	candidates := make([]string, 0, len(options))
	for _, o := range options {
		if o != t.LastReply {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		candidates = options
	}
	c.mu.Lock()
	i := c.rng.IntN(len(candidates))
	c.mu.Unlock()
	return candidates[i], nil
}

const agentSystemPrompt = `You are roleplaying as %s who has received a suspicious message.
Engage naturally so the sender keeps talking and reveals more about themselves.

PERSONA:
- You are slightly worried and confused about the situation
- You ask questions to understand what is happening
- You are cautious but can be gradually convinced
- You never reveal that you suspect a scam

OBJECTIVES:
- Keep the conversation going
- Get them to share account numbers, UPI IDs, phone numbers, links and names
- Ask for "proof" or "verification details"

RULES:
- NEVER say or hint that you know this is a scam
- NEVER repeat back account numbers, UPI IDs, phone numbers or links they sent
- Reply in 1-3 short sentences of casual language, no lists, no quotes`

// ModelResponder renders replies through the generation backend.
type ModelResponder struct {
	gen llm.Generator
}

// NewModelResponder returns a ModelResponder backed by gen.
func NewModelResponder(gen llm.Generator) *ModelResponder {
	return &ModelResponder{gen: gen}
}

// Name implements Responder.
func (m *ModelResponder) Name() string { return PathModel }

// Respond implements Responder.
func (m *ModelResponder) Respond(ctx context.Context, t Turn) (string, error) {
	persona := PersonaFor(t.ScamType)
	stance := persona.Stance(t.Stage)

	var prompt strings.Builder
	if len(t.History) == 0 {
		prompt.WriteString("This is the first message in the conversation.\n")
	} else {
		prompt.WriteString("Previous conversation:\n")
		for _, msg := range t.History {
			role := "You"
			if msg.Inbound() {
				role = "Scammer"
			}
			fmt.Fprintf(&prompt, "%s: %s\n", role, msg.Text)
		}
	}
	fmt.Fprintf(&prompt, "\nCurrent message from scammer: %q\n\n", t.Text)
	fmt.Fprintf(&prompt, "Scam type: %s\nYour mood: %s\n%s\n", t.ScamType, stance.Name, stance.Directive)
	if lang := languageInstruction(t.Language); lang != "" {
		prompt.WriteString("\n")
		prompt.WriteString(lang)
		prompt.WriteString("\n")
	}
	if t.LastReply != "" {
		fmt.Fprintf(&prompt, "\nDo not repeat your previous reply: %q\n", t.LastReply)
	}
	prompt.WriteString("\nWrite only your next message.")

	return m.gen.Generate(ctx, llm.Request{
		Purpose:     llm.PurposeReply,
		System:      fmt.Sprintf(agentSystemPrompt, persona.Description),
		Prompt:      prompt.String(),
		Temperature: 0.8,
		MaxTokens:   150,
		Scope:       t.SessionID,
	})
}

func languageInstruction(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", "en", "english":
		return ""
	}
	return fmt.Sprintf("IMPORTANT: Respond in %s. Match the language style of the scammer's message.", language)
}
