package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/honeypot/internal/domain"
)

// Scam is declared when the best archetype reaches minArchetypeScore and
// the archetype plus shared signals reach scamThreshold.
const (
	scamThreshold     = 3.5
	minArchetypeScore = 1.5
)

type cue struct {
	phrase string
	weight float64
	re     *regexp.Regexp
}

func (c cue) matches(lower string) bool {
	if c.re != nil {
		return c.re.MatchString(lower)
	}
	return strings.Contains(lower, c.phrase)
}

// newCue matches on word boundaries when the phrase starts and ends with a
// letter or digit, and on plain substrings otherwise ("₹", "http://").
func newCue(phrase string, weight float64) cue {
	c := cue{phrase: phrase, weight: weight}
	if isWordByte(phrase[0]) && isWordByte(phrase[len(phrase)-1]) {
		c.re = regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	}
	return c
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func cues(weight float64, phrases ...string) []cue {
	out := make([]cue, len(phrases))
	for i, p := range phrases {
		out[i] = newCue(p, weight)
	}
	return out
}

func join(groups ...[]cue) []cue {
	var out []cue
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var archetypeLexicon = map[domain.ScamType][]cue{
	domain.ScamBankFraud: join(
		cues(1.5, "account", "bank", "kyc", "debit card", "credit card", "net banking", "bank account"),
		cues(1.0, "verify", "atm", "pan card", "branch", "ifsc"),
	),
	domain.ScamUPI: join(
		cues(2.0, "upi", "upi pin", "collect request"),
		cues(1.5, "paytm", "phonepe", "gpay", "google pay", "bhim", "qr code", "receive money"),
		cues(1.0, "scan"),
	),
	domain.ScamPhishing: join(
		cues(1.5, "link", "click", "password", "login", "log in"),
		cues(1.0, "website", "update your", "verify", "sign in"),
	),
	domain.ScamPrize: join(
		cues(2.0, "prize", "winner", "lottery", "lucky draw", "jackpot"),
		cues(1.5, "won", "congratulations", "reward", "claim"),
		cues(1.0, "gift", "cashback", "selected"),
	),
	domain.ScamOTP: join(
		cues(2.5, "otp", "one time password"),
		cues(2.0, "verification code", "security code"),
		cues(1.0, "share the code", "sms code"),
	),
	domain.ScamImpersonation: join(
		cues(2.0, "cbi", "customs", "narcotics", "cyber crime"),
		cues(1.5, "police", "income tax", "rbi", "trai", "arrest warrant", "officer"),
		cues(1.0, "courier", "parcel", "government", "aadhaar", "department"),
	),
	domain.ScamPayment: join(
		cues(2.0, "processing fee", "registration fee", "electricity bill"),
		cues(1.5, "payment", "fee", "refund", "disconnected", "pending bill"),
		cues(1.0, "pay", "deposit", "invoice", "advance"),
	),
	domain.ScamInvestment: join(
		cues(2.0, "invest", "investment", "double your", "stock tips"),
		cues(1.5, "returns", "profit", "trading", "crypto", "bitcoin", "guaranteed"),
		cues(1.0, "scheme", "portfolio"),
	),
}

// rupeeAmount matches "Rs 500" and "rs.500" without firing on words ending in "rs".
var rupeeAmount = regexp.MustCompile(`\brs\.?\s?\d`)

type signal struct {
	name string
	cap  float64
	cues []cue
}

// Signals shared across archetypes. Each contributes at most its cap.
var sharedSignals = []signal{
	{name: "urgency", cap: 1.5, cues: cues(1.0,
		"urgent", "urgently", "immediately", "now", "today", "asap", "hurry", "quickly",
		"within 24 hours", "last chance", "expire", "expires", "expired")},
	{name: "threat", cap: 2.0, cues: cues(1.5,
		"blocked", "suspended", "deactivated", "terminated", "frozen",
		"legal action", "penalty", "arrest", "jail")},
	{name: "credentials", cap: 2.0, cues: cues(1.5,
		"otp", "pin", "cvv", "password", "card number", "account number")},
	{name: "money", cap: 1.5, cues: append(
		cues(1.0, "₹", "rupees", "inr", "send money", "transfer", "lakh", "crore"),
		cue{phrase: "rs", weight: 1.0, re: rupeeAmount},
	)},
	{name: "link", cap: 1.0, cues: cues(1.0, "http://", "https://", "www.", "bit.ly")},
}

// KeywordClassifier scores messages against per-archetype lexicons plus
// shared pressure signals. It never fails and needs no network.
type KeywordClassifier struct{}

// Name implements Strategy.
func (KeywordClassifier) Name() string { return "keyword" }

// Classify implements Strategy. Context messages are scored together with
// the latest text so that a scam built up over several turns is caught.
func (k KeywordClassifier) Classify(_ context.Context, in Input) (Result, error) {
	return k.Score(strings.Join(append(append([]string(nil), in.Context...), in.Text), "\n")), nil
}

// Score classifies a single block of text.
func (KeywordClassifier) Score(text string) Result {
	lower := strings.ToLower(text)

	best, bestScore := domain.ScamUnknown, 0.0
	for _, t := range domain.ScamTypes {
		score := 0.0
		for _, c := range archetypeLexicon[t] {
			if c.matches(lower) {
				score += c.weight
			}
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}

	shared := 0.0
	var fired []string
	for _, s := range sharedSignals {
		sum := 0.0
		for _, c := range s.cues {
			if c.matches(lower) {
				sum += c.weight
			}
		}
		if sum > s.cap {
			sum = s.cap
		}
		if sum > 0 {
			fired = append(fired, s.name)
		}
		shared += sum
	}

	total := bestScore + shared
	confidence := total / 8
	if confidence > 0.95 {
		confidence = 0.95
	}

	if bestScore < minArchetypeScore || total < scamThreshold {
		return Result{
			ScamType:   domain.ScamUnknown,
			Confidence: 1 - confidence,
			Reasoning:  fmt.Sprintf("score %.1f below threshold", total),
		}
	}
	return Result{
		IsScam:     true,
		ScamType:   best,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("%s cues %.1f, signals %s", best, bestScore, strings.Join(fired, ",")),
	}
}
