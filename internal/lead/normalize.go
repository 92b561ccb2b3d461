package lead

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// emailShape is a deliberately loose check: one @, something on both sides,
// a dot somewhere in the domain. Full RFC validation rejects real addresses.
var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail canonicalizes a raw email for identity matching: NFKC fold,
// trim, lower-case. Returns "" when the input is absent or not email-shaped.
// Idempotent: NormalizeEmail(NormalizeEmail(x)) == NormalizeEmail(x).
func NormalizeEmail(raw string) string {
	e := strings.TrimSpace(norm.NFKC.String(raw))
	e = strings.ToLower(e)
	if e == "" || !emailShape.MatchString(e) {
		return ""
	}
	return e
}

// NormalizePhone strips everything but digits and a single leading "+".
// Returns "" when fewer than 7 digits remain. No default country code is
// inferred; callers wanting cross-country dedupe must submit E.164 input.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(s))
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if digits < 7 {
		return ""
	}
	return b.String()
}
