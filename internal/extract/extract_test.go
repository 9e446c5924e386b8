package extract

import (
	"context"
	"errors"
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

func values(frags []domain.Fragment, c domain.Category) []string {
	var out []string
	for _, f := range frags {
		if f.Category == c {
			out = append(out, f.Value)
		}
	}
	return out
}

func TestPatternExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		category domain.Category
		want     []string
	}{
		{"upi handle", "Send money to scammer@upi", domain.CategoryUPIIDs, []string{"scammer@upi"}},
		{"upi uppercase", "pay FRAUD.King@PayTM now", domain.CategoryUPIIDs, []string{"fraud.king@paytm"}},
		{"email is not upi", "mail me at john@gmail.com", domain.CategoryUPIIDs, nil},
		{"bare mobile", "call 9876543210 today", domain.CategoryPhoneNumbers, []string{"+919876543210"}},
		{"prefixed mobile", "WhatsApp +91 98765 43210.", domain.CategoryPhoneNumbers, []string{"+919876543210"}},
		{"international", "reach +1 (555) 123-4567", domain.CategoryPhoneNumbers, []string{"+15551234567"}},
		{"account number", "transfer to 123456789012 now", domain.CategoryBankAccounts, []string{"123456789012"}},
		{"phone-shaped account with cue", "A/C No: 9876543210", domain.CategoryBankAccounts, []string{"9876543210"}},
		{"ifsc", "IFSC SBIN0001234 branch", domain.CategoryBankAccounts, []string{"IFSC:SBIN0001234"}},
		{"https link", "verify at https://SBI-Secure.example.com/login.", domain.CategoryPhishingLinks, []string{"https://sbi-secure.example.com/login"}},
		{"shortener", "click bit.ly/3xYz now", domain.CategoryPhishingLinks, []string{"bit.ly/3xYz"}},
		{"suspicious tld", "go to kyc-update.xyz", domain.CategoryPhishingLinks, []string{"kyc-update.xyz"}},
		{"keywords", "Your account will be blocked. Verify now.", domain.CategorySuspiciousKeywords, []string{"account", "blocked", "verify"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := values(PatternExtractor{}.Extract(tt.text), tt.category)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatternExtractorDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	frags := PatternExtractor{}.Extract("Pay 9876543210@ybl or visit https://x.example.com/9876543210 or call 9876543210")

	assert.Equal(t, []string{"9876543210@ybl"}, values(frags, domain.CategoryUPIIDs))
	assert.Equal(t, []string{"+919876543210"}, values(frags, domain.CategoryPhoneNumbers))
	assert.Empty(t, values(frags, domain.CategoryBankAccounts))
	assert.Len(t, values(frags, domain.CategoryPhishingLinks), 1)
}

func TestPatternExtractorEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, PatternExtractor{}.Extract("   "))
	assert.Empty(t, PatternExtractor{}.Extract("hello, how are you?"))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category domain.Category
		raw      string
		want     string
		ok       bool
	}{
		{domain.CategoryPhoneNumbers, "098765 43210", "+919876543210", true},
		{domain.CategoryPhoneNumbers, "12345", "", false},
		{domain.CategoryBankAccounts, "1234 5678 9012", "123456789012", true},
		{domain.CategoryBankAccounts, "XXXXXXXX1234", "", false},
		{domain.CategoryUPIIDs, "Scam@Ybl.", "scam@ybl", true},
		{domain.CategoryUPIIDs, "a@b.com", "", false},
		{domain.CategoryPhishingLinks, "nota link", "", false},
		{domain.CategorySuspiciousKeywords, "Urgent", "urgent", true},
		{domain.CategorySuspiciousKeywords, "act now please", "", false},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.category, tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestModelOutputValidation(t *testing.T) {
	t.Parallel()

	text := "my number is nine eight seven six five four three two one zero, urgent"
	resp := "```json\n" + `{"phoneNumbers": ["9876543210", "42"], "upiIds": ["not a handle"], "suspiciousKeywords": ["urgent", "lottery"]}` + "\n```"

	frags, err := parseModelOutput(resp, text)
	require.NoError(t, err)
	assert.Equal(t, []string{"+919876543210"}, values(frags, domain.CategoryPhoneNumbers))
	assert.Empty(t, values(frags, domain.CategoryUPIIDs))
	assert.Equal(t, []string{"urgent"}, values(frags, domain.CategorySuspiciousKeywords))
	for _, f := range frags {
		assert.Equal(t, domain.SourceModel, f.Source)
	}

	_, err = parseModelOutput("I cannot help with that", text)
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestMergePatternWins(t *testing.T) {
	t.Parallel()

	pattern := []domain.Fragment{{Category: domain.CategoryPhoneNumbers, Value: "+919876543210", Source: domain.SourcePattern, Confidence: 0.9}}
	model := []domain.Fragment{
		{Category: domain.CategoryPhoneNumbers, Value: "+919876543210", Source: domain.SourceModel, Confidence: 0.7},
		{Category: domain.CategoryUPIIDs, Value: "x@ybl", Source: domain.SourceModel, Confidence: 0.7},
	}

	merged := Merge(pattern, model)
	require.Len(t, merged, 2)
	assert.Equal(t, domain.SourcePattern, merged[0].Source)
	assert.InDelta(t, 0.9, merged[0].Confidence, 1e-9)
	assert.Equal(t, "x@ybl", merged[1].Value)
}

func TestEngineAddsModelFragments(t *testing.T) {
	t.Parallel()

	gen := genFunc(func(_ context.Context, req llm.Request) (string, error) {
		assert.Equal(t, llm.PurposeExtract, req.Purpose)
		assert.Contains(t, req.Prompt, "earlier")
		return `{"upiIds": ["fraud@oksbi"]}`, nil
	})
	e := NewEngine(NewModelExtractor(gen), nil)

	res := e.Extract(context.Background(), "send to fraud at oksbi, urgent", []string{"earlier"})
	assert.False(t, res.ModelDegraded)
	assert.Equal(t, []string{"fraud@oksbi"}, values(res.Fragments, domain.CategoryUPIIDs))
	assert.Equal(t, []string{"urgent"}, values(res.Fragments, domain.CategorySuspiciousKeywords))
}

func TestEngineDegradesToPatterns(t *testing.T) {
	t.Parallel()

	gen := genFunc(func(context.Context, llm.Request) (string, error) {
		return "", errors.Join(llm.ErrUnavailable, errors.New("boom"))
	})
	e := NewEngine(NewModelExtractor(gen), nil)

	res := e.Extract(context.Background(), "Send money to scammer@upi", nil)
	assert.True(t, res.ModelDegraded)
	assert.Equal(t, []string{"scammer@upi"}, values(res.Fragments, domain.CategoryUPIIDs))
}

func TestEngineKeepsPatternsOnCancellation(t *testing.T) {
	t.Parallel()

	gen := genFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := NewEngine(NewModelExtractor(gen), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Extract(ctx, "call 9876543210", nil)
	assert.True(t, res.ModelDegraded)
	assert.Equal(t, []string{"+919876543210"}, values(res.Fragments, domain.CategoryPhoneNumbers))
}
