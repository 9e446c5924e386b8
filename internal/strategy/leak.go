package strategy

import "strings"

// Leaks reports whether reply repeats any captured value. Digits are
// compared with separators removed so "98765 43210" still counts as the
// captured "+919876543210".
func Leaks(reply string, sensitive []string) bool {
	if len(sensitive) == 0 {
		return false
	}
	lower := strings.ToLower(reply)
	replyDigits := digitsOf(reply)

	for _, v := range sensitive {
		v = strings.ToLower(strings.TrimPrefix(v, "IFSC:"))
		if v == "" {
			continue
		}
		if strings.Contains(lower, v) {
			return true
		}
		if i := strings.Index(v, "://"); i >= 0 && strings.Contains(lower, v[i+3:]) {
			return true
		}
		if d := digitsOf(v); len(d) >= 9 && len(d) == countDigitsOrSeparators(v) {
			if len(d) > 10 {
				d = d[len(d)-10:]
			}
			if strings.Contains(replyDigits, d) {
				return true
			}
		}
	}
	return false
}

func digitsOf(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// countDigitsOrSeparators returns the digit count when v is made of digits
// and phone punctuation only, and -1 otherwise.
func countDigitsOrSeparators(v string) int {
	n := 0
	for i := 0; i < len(v); i++ {
		switch c := v[i]; {
		case c >= '0' && c <= '9':
			n++
		case c == '+' || c == ' ' || c == '-':
		default:
			return -1
		}
	}
	return n
}
