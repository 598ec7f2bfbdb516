package lookingglass

// Annotation keys for the exchanges the playground performs.
const (
	TopicDiscovery     = "discovery"
	TopicAuthorization = "authorization"
	TopicCodeExchange  = "authorization_code"
	TopicRefresh       = "refresh_token"
	TopicUserInfo      = "userinfo"
	TopicLogout        = "logout"
	TopicBearer        = "bearer"
)

var topicAnnotations = map[string][]Annotation{
	TopicDiscovery: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "OpenID Connect Discovery",
			Description: "The realm publishes its endpoints and capabilities at <issuer>/.well-known/openid-configuration.",
			Reference:   "OpenID Connect Discovery 1.0",
		},
	},
	TopicAuthorization: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Authorization Code Flow",
			Description: "The browser is sent to the realm's authorization endpoint and comes back with a one-time code on the redirect URI.",
			Reference:   "RFC 6749 Section 4.1",
		},
		{
			Type:        AnnotationTypeSecurityHint,
			Title:       "CSRF Protection",
			Description: "The state parameter should be random and checked when the code comes back.",
			Reference:   "RFC 6749 Section 10.12",
			Severity:    "warning",
		},
	},
	TopicCodeExchange: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Code Exchange",
			Description: "The code is swapped for tokens on a back channel. redirect_uri must match the authorization request.",
			Reference:   "RFC 6749 Section 4.1.3",
		},
	},
	TopicRefresh: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Refresh Token",
			Description: "Obtains new tokens without user interaction. Keycloak rotates the refresh token on use when configured.",
			Reference:   "RFC 6749 Section 6",
		},
	},
	TopicUserInfo: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "UserInfo Endpoint",
			Description: "Returns claims about the authenticated user for the bearer access token.",
			Reference:   "OpenID Connect Core 1.0 Section 5.3",
		},
	},
	TopicLogout: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "RP-Initiated Logout",
			Description: "The browser is sent to the end_session_endpoint with id_token_hint and a post-logout redirect.",
			Reference:   "OpenID Connect RP-Initiated Logout 1.0",
		},
	},
	TopicBearer: {
		{
			Type:        AnnotationTypeSecurityHint,
			Title:       "Bearer Token",
			Description: "Whoever holds the access token can use it. Send it only over TLS and only to its audience.",
			Reference:   "RFC 6750",
			Severity:    "warning",
		},
	},
}

// AnnotationsFor returns the annotations registered for a topic.
func AnnotationsFor(topic string) []Annotation {
	src := topicAnnotations[topic]
	out := make([]Annotation, len(src))
	copy(out, src)
	return out
}
