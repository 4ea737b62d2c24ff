package safety

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// DefaultMaxOutputBytes bounds tool output handed back to the model.
const DefaultMaxOutputBytes = 8000

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

type redactRule struct {
	re          *regexp.Regexp
	replacement string
}

var redactRules = []redactRule{
	{regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|bearer)\s*[=:]\s*\S+`), "$1=<REDACTED>"},
	{regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)\S+`), "$1<REDACTED>"},
	{regexp.MustCompile(`sk[_-]test[_-]\S+`), "<STRIPE_KEY_REDACTED>"},
	{regexp.MustCompile(`sk[_-]live[_-]\S+`), "<STRIPE_KEY_REDACTED>"},
	{regexp.MustCompile(`pk[_-]test[_-]\S+`), "<STRIPE_KEY_REDACTED>"},
	{regexp.MustCompile(`whsec_\S+`), "<WEBHOOK_SECRET_REDACTED>"},
}

// Sanitizer cleans external output before it reaches the model or the
// audit trail: ANSI escapes stripped, secrets redacted, length bounded.
type Sanitizer struct {
	maxBytes int
}

// NewSanitizer creates a Sanitizer. maxBytes <= 0 uses the default bound.
func NewSanitizer(maxBytes int) *Sanitizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	return &Sanitizer{maxBytes: maxBytes}
}

// Sanitize applies stripping, redaction and truncation in that order.
func (s *Sanitizer) Sanitize(output string) string {
	result := ansiPattern.ReplaceAllString(output, "")
	for _, rule := range redactRules {
		result = rule.re.ReplaceAllString(result, rule.replacement)
	}
	if len(result) > s.maxBytes {
		cut := s.maxBytes
		// Back off to a rune boundary so truncation never emits invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut] +
			fmt.Sprintf("\n\n... (output truncated, %d total chars)", len(output))
	}
	return result
}
