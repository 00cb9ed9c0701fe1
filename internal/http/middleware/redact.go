package middleware

// Redaction of request metadata before it reaches the logs.
//
// Sensitive headers (Authorization, Cookie, Set-Cookie) are dropped from the
// snapshot entirely; operator-configured headers are kept but fully masked;
// protocol headers with numeric or token values are only truncated; every
// other header value and all query values are scrubbed of obvious PII
// (UUID-like ids, emails, phone numbers). Bodies are never logged.

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// maxLogValueLength caps the number of bytes logged per header/query value.
	maxLogValueLength = 2048
	redacted          = "[REDACTED]"
)

// excludedHeaders never appear in logs, not even as keys.
var excludedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
}

// verbatimHeaders carry protocol values, never PII, and are logged as is.
var verbatimHeaders = map[string]struct{}{
	"accept":            {},
	"accept-encoding":   {},
	"accept-language":   {},
	"cache-control":     {},
	"connection":        {},
	"content-encoding":  {},
	"content-length":    {},
	"content-type":      {},
	"max-forwards":      {},
	"te":                {},
	"transfer-encoding": {},
	"x-forwarded-port":  {},
	"x-forwarded-proto": {},
}

// NOTE: redact UUIDs before phone numbers so the phone pattern does not eat
// the digit/hyphen segments of a UUID.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex characters of ids are never matched.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

type redactor struct {
	mask map[string]struct{}
}

func newRedactor(maskHeaders []string) redactor {
	mask := make(map[string]struct{}, len(maskHeaders))
	for _, h := range maskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return redactor{mask: mask}
}

// headers returns a loggable snapshot of h.
func (r redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		key := strings.ToLower(k)
		if _, ok := excludedHeaders[key]; ok {
			continue
		}
		if _, ok := r.mask[key]; ok {
			out[k] = redacted
			continue
		}
		if _, ok := verbatimHeaders[key]; ok {
			out[k] = truncate(strings.Join(vv, ", "), maxLogValueLength)
			continue
		}
		out[k] = scrub(strings.Join(vv, ", "))
	}
	return out
}

// query flattens q (repeated keys are joined with ", ") and scrubs values.
func (r redactor) query(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, vv := range q {
		out[k] = scrub(strings.Join(vv, ", "))
	}
	return out
}

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = truncate(s, maxLogValueLength)
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// truncate returns s unchanged when within max length, otherwise it cuts s to
// at most max bytes on a rune boundary and appends an ellipsis. A max <= 0
// disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "…"
}
