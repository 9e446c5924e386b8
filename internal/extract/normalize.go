package extract

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/ashureev/honeypot/internal/domain"
)

var (
	upiShape  = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,255}@[a-z][a-z0-9]{1,63}$`)
	ifscShape = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	wordShape = regexp.MustCompile(`^\p{L}{2,24}$`)
)

// Normalize canonicalizes a raw value for its category. The boolean is
// false when the value is not valid for the category.
func Normalize(c domain.Category, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	switch c {
	case domain.CategoryBankAccounts:
		return normalizeAccount(raw)
	case domain.CategoryUPIIDs:
		return normalizeUPI(raw)
	case domain.CategoryPhoneNumbers:
		return normalizePhone(raw)
	case domain.CategoryPhishingLinks:
		return normalizeLink(raw)
	case domain.CategorySuspiciousKeywords:
		k := strings.ToLower(raw)
		return k, wordShape.MatchString(k)
	}
	return "", false
}

func normalizeAccount(raw string) (string, bool) {
	upper := strings.ToUpper(strings.TrimPrefix(strings.ToUpper(raw), "IFSC:"))
	if ifscShape.MatchString(upper) {
		return "IFSC:" + upper, true
	}
	digits := onlyDigits(raw)
	if len(digits) < 9 || len(digits) > 18 || strings.Contains(raw, "@") {
		return "", false
	}
	letters := 0
	for _, r := range raw {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	// Allows "A/C 1234..." prefixes but not masked values like "XXXXXX1234".
	if letters > 4 {
		return "", false
	}
	return digits, true
}

func normalizeUPI(raw string) (string, bool) {
	v := strings.ToLower(strings.Trim(raw, ".,;:!?()[]{}<>\"'"))
	return v, upiShape.MatchString(v)
}

// normalizePhone canonicalizes to +<country><number>. Bare Indian mobiles get
// the +91 prefix.
func normalizePhone(raw string) (string, bool) {
	plus := strings.HasPrefix(strings.TrimSpace(raw), "+")
	digits := onlyDigits(raw)
	switch {
	case len(digits) == 10 && isMobileLead(digits[0]):
		return "+91" + digits, true
	case len(digits) == 11 && digits[0] == '0' && isMobileLead(digits[1]):
		return "+91" + digits[1:], true
	case len(digits) == 12 && strings.HasPrefix(digits, "91") && isMobileLead(digits[2]):
		return "+" + digits, true
	case plus && len(digits) >= 10 && len(digits) <= 15:
		return "+" + digits, true
	}
	return "", false
}

// phoneShaped reports whether a digit run is an Indian mobile number.
func phoneShaped(digits string) bool {
	switch len(digits) {
	case 10:
		return isMobileLead(digits[0])
	case 11:
		return digits[0] == '0' && isMobileLead(digits[1])
	case 12:
		return strings.HasPrefix(digits, "91") && isMobileLead(digits[2])
	}
	return false
}

func isMobileLead(b byte) bool {
	return b >= '6' && b <= '9'
}

// normalizeLink trims trailing punctuation and lowercases scheme and host.
func normalizeLink(raw string) (string, bool) {
	v := strings.TrimRight(raw, ".,;:!?)]}'\"")
	if v == "" {
		return "", false
	}

	hasScheme := strings.Contains(v, "://")
	parse := v
	if !hasScheme {
		parse = "http://" + v
	}
	u, err := url.Parse(parse)
	if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	out := u.String()
	if !hasScheme {
		out = strings.TrimPrefix(out, "http://")
	}
	return out, true
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
