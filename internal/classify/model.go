package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/llm"
)

// ErrUnparseable is returned when the model verdict cannot be mapped onto
// a known archetype.
var ErrUnparseable = errors.New("unparseable classification output")

const classificationSystemPrompt = `You are a fraud analyst for Indian messaging channels (SMS, WhatsApp, email).
Decide whether the latest message, read with any earlier messages, is a scam attempt.
Respond ONLY with JSON:
{"is_scam": true|false, "confidence": 0.0-1.0, "scam_type": "<type>", "reasoning": "<one sentence>"}
scam_type must be one of: bank_fraud, upi_scam, phishing, prize_scam, otp_scam, impersonation, payment_scam, investment_scam, not_scam.
- bank_fraud: threats about bank accounts, KYC, blocked cards
- upi_scam: UPI collect requests, QR codes, UPI PIN
- phishing: links to fake login or verification pages
- prize_scam: lottery, prize, reward or lucky draw claims
- otp_scam: requests to share an OTP or verification code
- impersonation: posing as police, customs, government or company officials
- payment_scam: fees, refunds, bills or advance payments
- investment_scam: guaranteed returns, trading, crypto schemes`

// ModelClassifier asks the generation backend for a verdict.
type ModelClassifier struct {
	gen llm.Generator
}

// NewModelClassifier returns a ModelClassifier backed by gen.
func NewModelClassifier(gen llm.Generator) *ModelClassifier {
	return &ModelClassifier{gen: gen}
}

// Name implements Strategy.
func (m *ModelClassifier) Name() string { return "model" }

type verdict struct {
	IsScam     *bool   `json:"is_scam"`
	Confidence float64 `json:"confidence"`
	ScamType   string  `json:"scam_type"`
	Reasoning  string  `json:"reasoning"`
}

// Classify implements Strategy.
func (m *ModelClassifier) Classify(ctx context.Context, in Input) (Result, error) {
	var prompt strings.Builder
	if len(in.Context) > 0 {
		prompt.WriteString("Earlier messages from the sender:\n")
		for _, c := range in.Context {
			prompt.WriteString("- ")
			prompt.WriteString(c)
			prompt.WriteString("\n")
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("Latest message:\n")
	prompt.WriteString(in.Text)

	resp, err := m.gen.Generate(ctx, llm.Request{
		Purpose:     llm.PurposeClassify,
		System:      classificationSystemPrompt,
		Prompt:      prompt.String(),
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		return Result{}, err
	}
	return parseVerdict(resp)
}

func parseVerdict(resp string) (Result, error) {
	raw := llm.ExtractJSON(resp)
	if raw == "" {
		return Result{}, ErrUnparseable
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	if v.IsScam == nil {
		return Result{}, fmt.Errorf("%w: missing is_scam", ErrUnparseable)
	}

	confidence := v.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	if !*v.IsScam {
		return Result{IsScam: false, ScamType: domain.ScamUnknown, Confidence: confidence, Reasoning: v.Reasoning}, nil
	}

	t, ok := domain.ParseScamType(v.ScamType)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown scam_type %q", ErrUnparseable, v.ScamType)
	}
	return Result{IsScam: true, ScamType: t, Confidence: confidence, Reasoning: v.Reasoning}, nil
}
