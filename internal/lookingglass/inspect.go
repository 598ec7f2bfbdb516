package lookingglass

import "time"

// TokenInspection is a decoded token with teaching notes attached.
type TokenInspection struct {
	Header      map[string]interface{} `json:"header"`
	Payload     map[string]interface{} `json:"payload"`
	Signature   string                 `json:"signature"`
	Analysis    JWTAnalysis            `json:"analysis"`
	Annotations []Annotation           `json:"annotations"`
}

// DecodeToken decodes a token for display. The signature is never checked.
func (e *Engine) DecodeToken(token string) (*TokenInspection, error) {
	decoded, err := e.decoder.DecodeJWT(token)
	if err != nil {
		return nil, err
	}
	return &TokenInspection{
		Header:      decoded.Header,
		Payload:     decoded.Payload,
		Signature:   decoded.Signature,
		Analysis:    decoded.Analysis,
		Annotations: tokenNotes(decoded.Header, decoded.Payload, e.decoder.now()),
	}, nil
}

// tokenNote returns an annotation when it applies to the token.
type tokenNote func(header, payload map[string]interface{}, now time.Time) (Annotation, bool)

var tokenNoteRules = []tokenNote{
	func(_, _ map[string]interface{}, _ time.Time) (Annotation, bool) {
		return Annotation{
			Type:        AnnotationTypeSecurityHint,
			Title:       "Not verified",
			Description: "Decoded for display only. Resource servers must verify the signature against the realm keys.",
			Severity:    "info",
		}, true
	},
	func(header, _ map[string]interface{}, _ time.Time) (Annotation, bool) {
		return Annotation{
			Type:        AnnotationTypeVulnerability,
			Title:       "Insecure Algorithm",
			Description: "alg=none carries no signature; a resource server must never accept it.",
			Severity:    "error",
		}, StringClaim(header, "alg") == "none"
	},
	func(_, payload map[string]interface{}, _ time.Time) (Annotation, bool) {
		iss := StringClaim(payload, "iss")
		return Annotation{
			Type:        AnnotationTypeExplanation,
			Title:       "Issuer (iss)",
			Description: "The realm that issued the token: " + iss,
			Reference:   "RFC 7519 Section 4.1.1",
		}, iss != ""
	},
	func(_, payload map[string]interface{}, _ time.Time) (Annotation, bool) {
		return Annotation{
			Type:        AnnotationTypeExplanation,
			Title:       "Audience (aud)",
			Description: "The clients the token is meant for; a resource server checks its own client id is listed.",
			Reference:   "RFC 7519 Section 4.1.3",
		}, len(Audiences(payload)) > 0
	},
	func(_, payload map[string]interface{}, now time.Time) (Annotation, bool) {
		exp, ok := ExpiresAt(payload)
		return Annotation{
			Type:        AnnotationTypeSecurityHint,
			Title:       "Token Expired",
			Description: "Expired at " + exp.UTC().Format(time.RFC3339) + "; refresh it or sign in again.",
			Severity:    "warning",
		}, ok && exp.Before(now)
	},
	func(_, payload map[string]interface{}, _ time.Time) (Annotation, bool) {
		_, ok := payload["resource_access"]
		return Annotation{
			Type:        AnnotationTypeExplanation,
			Title:       "Client roles",
			Description: "resource_access lists roles per client; role checks such as client:user read from here.",
		}, ok
	},
}

func tokenNotes(header, payload map[string]interface{}, now time.Time) []Annotation {
	notes := make([]Annotation, 0, len(tokenNoteRules))
	for _, rule := range tokenNoteRules {
		if note, ok := rule(header, payload, now); ok {
			notes = append(notes, note)
		}
	}
	return notes
}
