package extract

import (
	"regexp"
	"strings"

	"github.com/ashureev/honeypot/internal/domain"
)

// Confidence assigned to deterministic matches.
const (
	patternConfidence = 0.9
	keywordConfidence = 0.6
)

var (
	linkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bhttps?://[^\s<>"'\]\)}]+`),
		regexp.MustCompile(`(?i)\bwww\.[a-z0-9-]+(?:\.[a-z0-9-]+)+[^\s<>"']*`),
		regexp.MustCompile(`(?i)\b(?:bit\.ly|tinyurl\.com|t\.co|t\.ly|goo\.gl|is\.gd|cutt\.ly|rb\.gy|tiny\.cc|ow\.ly|shorturl\.at)/[^\s<>"']+`),
		regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9-]*(?:\.[a-z0-9-]+)*\.(?:xyz|top|click|link|tk|ml|ga|cf|gq|online|site|live|buzz|icu|rest|support|work)\b(?:/[^\s<>"']*)?`),
	}

	upiPattern     = regexp.MustCompile(`(?i)\b([a-z0-9][a-z0-9._-]{1,255})@([a-z][a-z0-9]{1,63})\b(\.[a-z]{2,})?`)
	ifscPattern    = regexp.MustCompile(`\b[A-Z]{4}0[A-Z0-9]{6}\b`)
	accountPattern = regexp.MustCompile(`\b\d{9,18}\b`)
	accountCue     = regexp.MustCompile(`(?i)(?:a/c|acc(?:ount)?|acct|khata)\s*(?:no\.?|number|num|#)?\s*[:.\-#]?\s*$`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:\+91[\s-]?|\b91[\s-]?|\b0|\b)[6-9]\d{4}[\s-]?\d{5}\b`),
		regexp.MustCompile(`\+\d{1,3}[\s-]?\(?\d{1,4}\)?(?:[\s-]?\d{2,5}){2,4}\b`),
	}

	// suspiciousKeywords is the fixed lexicon reported as suspiciousKeywords.
	suspiciousKeywords = []string{
		"urgent", "verify", "blocked", "suspended", "immediately", "otp",
		"prize", "winner", "claim", "congratulations", "account", "payment",
		"transfer", "bank", "upi", "kyc", "update", "confirm", "refund",
		"cashback", "lottery", "selected", "won", "free", "offer",
		"expire", "penalty", "arrest", "legal",
	}
	keywordPattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(suspiciousKeywords, "|") + `)\b`)
)

// PatternExtractor finds intelligence with deterministic rules. It never
// fails and never blocks.
type PatternExtractor struct{}

// Extract returns fragments in discovery order, deduplicated by normalized
// value.
func (PatternExtractor) Extract(text string) []domain.Fragment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []domain.Fragment
	seen := make(map[string]bool)
	add := func(c domain.Category, raw string, confidence float64) {
		v, ok := Normalize(c, raw)
		if !ok || seen[string(c)+"|"+v] {
			return
		}
		seen[string(c)+"|"+v] = true
		out = append(out, domain.Fragment{
			Category:   c,
			Value:      v,
			Raw:        raw,
			Source:     domain.SourcePattern,
			Confidence: confidence,
		})
	}

	// Links are matched first and masked so their paths and hosts do not
	// produce handles or digit runs.
	masked := []byte(text)
	var taken []span
	for _, re := range linkPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if overlaps(taken, loc) || precededBy(text, loc[0], '@') {
				continue
			}
			taken = append(taken, span{loc[0], loc[1]})
			add(domain.CategoryPhishingLinks, text[loc[0]:loc[1]], patternConfidence)
			mask(masked, loc)
		}
	}

	rest := string(masked)
	for _, m := range upiPattern.FindAllStringSubmatchIndex(rest, -1) {
		if m[6] >= 0 {
			continue // e-mail address
		}
		add(domain.CategoryUPIIDs, rest[m[0]:m[1]], patternConfidence)
		mask(masked, []int{m[0], m[1]})
	}

	rest = string(masked)
	for _, loc := range ifscPattern.FindAllStringIndex(rest, -1) {
		add(domain.CategoryBankAccounts, rest[loc[0]:loc[1]], patternConfidence)
	}
	for _, loc := range accountPattern.FindAllStringIndex(rest, -1) {
		digits := rest[loc[0]:loc[1]]
		if phoneShaped(digits) && !hasAccountCue(rest, loc[0]) {
			continue
		}
		add(domain.CategoryBankAccounts, digits, patternConfidence)
		mask(masked, loc)
	}

	rest = string(masked)
	for _, re := range phonePatterns {
		for _, loc := range re.FindAllStringIndex(rest, -1) {
			add(domain.CategoryPhoneNumbers, rest[loc[0]:loc[1]], patternConfidence)
		}
	}

	for _, k := range keywordPattern.FindAllString(string(masked), -1) {
		add(domain.CategorySuspiciousKeywords, k, keywordConfidence)
	}
	return out
}

type span struct{ start, end int }

func overlaps(taken []span, loc []int) bool {
	for _, s := range taken {
		if loc[0] < s.end && s.start < loc[1] {
			return true
		}
	}
	return false
}

func precededBy(text string, i int, b byte) bool {
	return i > 0 && text[i-1] == b
}

func mask(buf []byte, loc []int) {
	for i := loc[0]; i < loc[1]; i++ {
		buf[i] = ' '
	}
}

func hasAccountCue(text string, at int) bool {
	start := at - 24
	if start < 0 {
		start = 0
	}
	return accountCue.MatchString(text[start:at])
}
