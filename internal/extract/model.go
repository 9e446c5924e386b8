package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/llm"
)

const modelConfidence = 0.7

const extractionSystemPrompt = `You extract scammer details from chat messages for fraud investigators.
Return ONLY a JSON object with these arrays of strings:
{"bankAccounts": [], "upiIds": [], "phishingLinks": [], "phoneNumbers": [], "suspiciousKeywords": []}
Rules:
- Include values written in words or split across spaces (e.g. "nine eight seven...") as digits.
- bankAccounts: account numbers or IFSC codes.
- upiIds: handles of the form name@provider.
- suspiciousKeywords: single words from the message that signal pressure or fraud.
- Use empty arrays when nothing is present. Never invent values.`

// ErrUnparseable is returned when the model output is not the expected JSON.
var ErrUnparseable = errors.New("unparseable extraction output")

// ModelExtractor asks the generation backend for intelligence the patterns
// may miss (spelled-out numbers, obfuscated handles).
type ModelExtractor struct {
	gen llm.Generator
}

// NewModelExtractor returns a ModelExtractor backed by gen.
func NewModelExtractor(gen llm.Generator) *ModelExtractor {
	return &ModelExtractor{gen: gen}
}

type modelOutput struct {
	BankAccounts       []string `json:"bankAccounts"`
	UPIIDs             []string `json:"upiIds"`
	PhishingLinks      []string `json:"phishingLinks"`
	PhoneNumbers       []string `json:"phoneNumbers"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
}

// Extract returns validated fragments from the message. Prior turns are
// passed as context only; values must come from the current message.
func (m *ModelExtractor) Extract(ctx context.Context, text string, history []string) ([]domain.Fragment, error) {
	var prompt strings.Builder
	if len(history) > 0 {
		prompt.WriteString("Earlier messages (context only):\n")
		for _, h := range history {
			prompt.WriteString("- ")
			prompt.WriteString(h)
			prompt.WriteString("\n")
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("Message to extract from:\n")
	prompt.WriteString(text)

	resp, err := m.gen.Generate(ctx, llm.Request{
		Purpose:     llm.PurposeExtract,
		System:      extractionSystemPrompt,
		Prompt:      prompt.String(),
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, err
	}
	return parseModelOutput(resp, text)
}

func parseModelOutput(resp, text string) ([]domain.Fragment, error) {
	raw := llm.ExtractJSON(resp)
	if raw == "" {
		return nil, ErrUnparseable
	}
	var parsed modelOutput
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	lowerText := strings.ToLower(text)
	var out []domain.Fragment
	add := func(c domain.Category, values []string) {
		for _, rawValue := range values {
			v, ok := Normalize(c, rawValue)
			if !ok {
				continue
			}
			// Keywords stay bounded to words actually present in the message.
			if c == domain.CategorySuspiciousKeywords && !keywordPresent(lowerText, v) {
				continue
			}
			out = append(out, domain.Fragment{
				Category:   c,
				Value:      v,
				Raw:        rawValue,
				Source:     domain.SourceModel,
				Confidence: modelConfidence,
			})
		}
	}
	add(domain.CategoryBankAccounts, parsed.BankAccounts)
	add(domain.CategoryUPIIDs, parsed.UPIIDs)
	add(domain.CategoryPhishingLinks, parsed.PhishingLinks)
	add(domain.CategoryPhoneNumbers, parsed.PhoneNumbers)
	add(domain.CategorySuspiciousKeywords, parsed.SuspiciousKeywords)
	return out, nil
}

func keywordPresent(lowerText, word string) bool {
	for _, tok := range strings.FieldsFunc(lowerText, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r > 127)
	}) {
		if tok == word {
			return true
		}
	}
	return false
}
