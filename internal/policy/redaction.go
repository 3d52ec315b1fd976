package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)

	jwtPattern    = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*`)
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]+`)
)

// RedactPII masks common high-risk PII patterns and bearer credentials.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{bearerPattern, "[REDACTED_TOKEN]"},
		{jwtPattern, "[REDACTED_TOKEN]"},
		{emailPattern, "[REDACTED_EMAIL]"},
		// Card before phone so card numbers are not classified as phones.
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
