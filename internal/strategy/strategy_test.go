package strategy

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/llm"
)

type genFunc func(ctx context.Context, req llm.Request) (string, error)

func (f genFunc) Generate(ctx context.Context, req llm.Request) (string, error) {
	return f(ctx, req)
}

func failing() llm.Generator {
	return genFunc(func(context.Context, llm.Request) (string, error) {
		return "", llm.ErrUnavailable
	})
}

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestEveryArchetypeHasFullPersona(t *testing.T) {
	t.Parallel()

	for _, st := range append([]domain.ScamType{domain.ScamUnknown}, domain.ScamTypes...) {
		p := PersonaFor(st)
		assert.NotEmpty(t, p.Name, st)
		for stage := range stageCount {
			s := p.Stance(stage)
			assert.NotEmpty(t, s.Directive, "%s stage %d", st, stage)
			assert.NotEmpty(t, s.Canned, "%s stage %d", st, stage)
		}
	}
	assert.Equal(t, genericPersona.Name, PersonaFor("romance").Name)
}

func TestNextStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  int
		turn     int
		newIntel bool
		want     int
	}{
		{"first turn", 0, 1, false, StageSkeptical},
		{"threshold reached", 0, 3, false, StageConcerned},
		{"one step per turn", 0, 11, false, StageConcerned},
		{"intel nudge", 0, 1, true, StageConcerned},
		{"never regresses", StageInterested, 1, false, StageInterested},
		{"bounded", StageTrusting, 40, true, StageTrusting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NextStage(tt.current, tt.turn, tt.newIntel))
		})
	}
}

func TestStageMonotonicOverConversation(t *testing.T) {
	t.Parallel()

	stage := 0
	for turn := 1; turn <= 20; turn++ {
		next := NextStage(stage, turn, turn%4 == 0)
		assert.GreaterOrEqual(t, next, stage)
		assert.LessOrEqual(t, next-stage, 1)
		stage = next
	}
	assert.Equal(t, StageTrusting, stage)
}

func TestEngineNeutralForNonScam(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, nil, NewModelResponder(failing()))
	r := e.Reply(context.Background(), Turn{Text: "hello"})
	assert.Equal(t, NeutralReply, r.Text)
	assert.Equal(t, PathNeutral, r.Path)
}

func TestEngineFallsBackToCanned(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, nil, NewModelResponder(failing()))
	r := e.Reply(context.Background(), Turn{
		ScamDetected: true,
		ScamType:     domain.ScamBankFraud,
		Text:         "Your account will be blocked. Verify now.",
	})
	assert.Equal(t, PathCanned, r.Path)
	assert.Contains(t, PersonaFor(domain.ScamBankFraud).Stance(0).Canned, r.Text)
}

func TestEngineUsesModelReply(t *testing.T) {
	t.Parallel()

	var got llm.Request
	gen := genFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return "  Oh no! Which branch are you from?  ", nil
	})
	e := NewEngine(nil, nil, NewModelResponder(gen))
	r := e.Reply(context.Background(), Turn{
		SessionID:    "s-1",
		ScamDetected: true,
		ScamType:     domain.ScamBankFraud,
		Stage:        StageInterested,
		Text:         "Verify now",
		History:      []domain.Message{{Sender: domain.SenderScammer, Text: "Hello sir"}},
		Language:     "Hindi",
	})

	assert.Equal(t, "Oh no! Which branch are you from?", r.Text)
	assert.Equal(t, PathModel, r.Path)
	assert.Equal(t, llm.PurposeReply, got.Purpose)
	assert.Equal(t, "s-1", got.Scope)
	assert.Contains(t, got.Prompt, "Scammer: Hello sir")
	assert.Contains(t, got.Prompt, "Respond in Hindi")
	assert.Contains(t, got.Prompt, PersonaFor(domain.ScamBankFraud).Stance(StageInterested).Directive)
}

func TestEngineRejectsLeakingReply(t *testing.T) {
	t.Parallel()

	gen := genFunc(func(context.Context, llm.Request) (string, error) {
		return "Okay I will send it to scammer@upi right away", nil
	})
	e := NewEngine(nil, nil, NewModelResponder(gen))
	r := e.Reply(context.Background(), Turn{
		ScamDetected: true,
		ScamType:     domain.ScamUPI,
		Sensitive:    []string{"scammer@upi"},
	})
	assert.Equal(t, PathCanned, r.Path)
	assert.NotContains(t, r.Text, "scammer@upi")
}

func TestEngineRejectsEmptyAndRepeatedModelReply(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"   ", "Why do I need to send money?"} {
		gen := genFunc(func(context.Context, llm.Request) (string, error) { return body, nil })
		e := NewEngine(nil, nil, NewModelResponder(gen))
		r := e.Reply(context.Background(), Turn{
			ScamDetected: true,
			ScamType:     domain.ScamUPI,
			LastReply:    "Why do I need to send money?",
		})
		assert.Equal(t, PathCanned, r.Path)
		assert.NotEmpty(t, strings.TrimSpace(r.Text))
		assert.NotEqual(t, "Why do I need to send money?", r.Text)
	}
}

func TestCannedAvoidsRepeat(t *testing.T) {
	t.Parallel()

	c := NewCannedResponder(seeded())
	last := PersonaFor(domain.ScamOTP).Stance(0).Canned[0]
	for range 50 {
		text, err := c.Respond(context.Background(), Turn{ScamType: domain.ScamOTP, LastReply: last})
		require.NoError(t, err)
		assert.NotEqual(t, last, text)
	}
}

func TestLeaks(t *testing.T) {
	t.Parallel()

	sensitive := []string{"+919876543210", "fraud@ybl", "https://kyc-update.xyz/login", "IFSC:SBIN0001234", "123456789012"}

	assert.True(t, Leaks("call me on 98765 43210", sensitive))
	assert.True(t, Leaks("is FRAUD@YBL your id?", sensitive))
	assert.True(t, Leaks("I opened kyc-update.xyz/login", sensitive))
	assert.True(t, Leaks("my ifsc is sbin0001234", sensitive))
	assert.True(t, Leaks("account 1234-5678-9012 right?", sensitive))
	assert.False(t, Leaks("Which bank are you calling from?", sensitive))
	assert.False(t, Leaks("anything", nil))
}

func TestImperfector(t *testing.T) {
	t.Parallel()

	never := NewImperfector(0, seeded())
	assert.Equal(t, "Why do you need this?", never.Apply("Why do you need this?"))

	always := NewImperfector(1, seeded())
	changed := 0
	for range 50 {
		out := always.Apply("Okay. Why do you need this?")
		assert.NotEmpty(t, out)
		if out != "Okay. Why do you need this?" {
			changed++
		}
	}
	assert.Positive(t, changed)

	var nilImp *Imperfector
	assert.Equal(t, "x", nilImp.Apply("x"))
}
