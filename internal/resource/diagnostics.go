package resource

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
)

// Expectations are what a good token for this backend looks like.
type Expectations struct {
	Issuer   string
	Audience string
	Role     RoleRequirement
}

// Report is a read-only look at a bearer token. It is never used to authorize.
type Report struct {
	TokenPresent bool
	Issuer       string
	Subject      string
	Username     string
	Audience     []string
	ExpiresAt    time.Time
	// Warnings lists every mismatch against the expectations.
	Warnings []string
}

// Inspect decodes the bearer token in an Authorization header without verifying it.
func Inspect(authorization string, exp Expectations, now time.Time) Report {
	token, ok := BearerToken(authorization)
	if !ok {
		return Report{}
	}
	rep := Report{TokenPresent: true}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("Invalid JWT format (expected 3 parts, got %d)", len(parts)))
		return rep
	}
	claims, err := lookingglass.DecodePayload(token)
	if err != nil {
		rep.Warnings = append(rep.Warnings, "Could not decode token: "+err.Error())
		return rep
	}

	rep.Issuer = lookingglass.StringClaim(claims, "iss")
	rep.Subject = lookingglass.StringClaim(claims, "sub")
	rep.Username = lookingglass.StringClaim(claims, "preferred_username")
	rep.Audience = lookingglass.Audiences(claims)
	rep.ExpiresAt, _ = lookingglass.ExpiresAt(claims)

	if rep.Issuer != "" && exp.Issuer != "" && rep.Issuer != exp.Issuer {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("Issuer mismatch (expected: %s, got: %s)", exp.Issuer, rep.Issuer))
	}
	if !rep.ExpiresAt.IsZero() && rep.ExpiresAt.Before(now) {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("Token EXPIRED (expired %d minutes ago)", int(now.Sub(rep.ExpiresAt).Minutes())))
	}
	if exp.Audience != "" && !contains(rep.Audience, exp.Audience) {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("Token audience mismatch (expected: %s, got: %v)", exp.Audience, rep.Audience))
	}
	if exp.Role.Role != "" && !exp.Role.SatisfiedBy(&Claims{Raw: claims}) {
		var has []string
		if exp.Role.Realm {
			has = lookingglass.RealmRoles(claims)
		} else {
			has = lookingglass.ClientRoles(claims, exp.Role.Client)
		}
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("Missing required role '%s' (has: %v)", exp.Role.Role, has))
	}
	return rep
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// DenialReason explains a guard status for the log.
func DenialReason(status int, tokenPresent bool) string {
	switch {
	case status == http.StatusUnauthorized && !tokenPresent:
		return "No token provided"
	case status == http.StatusUnauthorized:
		return "Invalid or expired token"
	case status == http.StatusForbidden:
		return "Insufficient permissions"
	}
	return ""
}

// Diagnostics logs what each request's token looks like and how the request ended.
// It never changes the response. The index page is skipped.
func Diagnostics(logger hclog.Logger, exp Expectations, publicPaths ...string) func(http.Handler) http.Handler {
	logger = logger.Named("diagnostics")
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" {
				next.ServeHTTP(w, r)
				return
			}

			rep := Inspect(r.Header.Get("Authorization"), exp, time.Now())
			isPublic := public[r.URL.Path]
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "token", tokenState(rep.TokenPresent, isPublic))
			if rep.TokenPresent {
				logger.Debug("token claims", "iss", rep.Issuer, "sub", rep.Subject,
					"username", rep.Username, "aud", rep.Audience, "exp", rep.ExpiresAt)
				for _, warning := range rep.Warnings {
					logger.Warn(warning, "path", r.URL.Path)
				}
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			switch {
			case isPublic && status < 400:
				logger.Info("public endpoint accessed", "method", r.Method, "path", r.URL.Path, "status", status)
			case isPublic:
				logger.Warn("public endpoint error", "method", r.Method, "path", r.URL.Path, "status", status)
			case status < 400:
				logger.Info("AUTHORIZED", "method", r.Method, "path", r.URL.Path, "status", status)
			default:
				logger.Warn("DENIED", "method", r.Method, "path", r.URL.Path, "status", status,
					"reason", DenialReason(status, rep.TokenPresent))
			}
		})
	}
}

func tokenState(present, public bool) string {
	switch {
	case present && public:
		return "present (not required)"
	case present:
		return "present"
	case public:
		return "not required"
	}
	return "missing"
}
