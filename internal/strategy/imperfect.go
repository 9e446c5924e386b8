package strategy

import (
	"math/rand/v2"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Imperfector occasionally roughens a reply so it reads like it was typed
// on a phone. Safe for concurrent use.
type Imperfector struct {
	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewImperfector applies an imperfection to roughly rate of replies. A nil
// rng gets a randomly seeded source.
func NewImperfector(rate float64, rng *rand.Rand) *Imperfector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Imperfector{rate: rate, rng: rng}
}

var textSpeak = strings.NewReplacer(" you ", " u ", " your ", " ur ", "okay", "ok", " please", " pls")

var imperfections = []func(string) string{
	func(s string) string { return strings.Replace(s, "?", "??", 1) },
	func(s string) string { return strings.Replace(s, ".", "..", 1) },
	lowerFirst,
	func(s string) string { return textSpeak.Replace(s) },
	func(s string) string { return strings.TrimRight(s, ".!") },
}

// Apply returns text, possibly with one imperfection.
func (im *Imperfector) Apply(text string) string {
	if im == nil || im.rate <= 0 || text == "" {
		return text
	}
	im.mu.Lock()
	roll := im.rng.Float64()
	pick := im.rng.IntN(len(imperfections))
	im.mu.Unlock()

	if roll >= im.rate {
		return text
	}
	out := imperfections[pick](text)
	if strings.TrimSpace(out) == "" {
		return text
	}
	return out
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
