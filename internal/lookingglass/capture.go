package lookingglass

import (
	"net/http"
	"strings"
	"time"
)

// CapturedExchange is one inbound HTTP request/response pair as seen by the playground.
type CapturedExchange struct {
	Request    CapturedRequest  `json:"request"`
	Response   CapturedResponse `json:"response"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMS int64            `json:"duration_ms"`
}

// CapturedRequest describes the request half of an exchange.
type CapturedRequest struct {
	Method        string            `json:"method"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body,omitempty"`
	BodyTruncated bool              `json:"body_truncated,omitempty"`
}

// CapturedResponse describes the response half of an exchange.
type CapturedResponse struct {
	Status        int               `json:"status"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body,omitempty"`
	BodyTruncated bool              `json:"body_truncated,omitempty"`
}

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
}

// FlattenHeaders joins multi-valued headers and masks credentials.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		value := strings.Join(values, ", ")
		if sensitiveHeaders[strings.ToLower(name)] {
			value = MaskCredential(value)
		}
		out[name] = value
	}
	return out
}

// MaskCredential keeps the scheme and a short prefix of a credential.
func MaskCredential(value string) string {
	scheme, rest, found := strings.Cut(value, " ")
	if !found {
		rest, scheme = scheme, ""
	}
	if len(rest) > 10 {
		rest = rest[:10] + "..."
	}
	if scheme == "" {
		return rest
	}
	return scheme + " " + rest
}
