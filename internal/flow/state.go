// Package flow is the playground client: the wizard that walks a user through discovery,
// the authorization request, the code exchange and the calls made with the tokens.
//
// State transitions are pure functions over State. Persistence happens only through a
// Store, at the points the caller chooses.
package flow

import (
	"fmt"
)

// Step is one wizard step.
type Step string

const (
	StepDiscovery      Step = "discovery"
	StepAuthentication Step = "authentication"
	StepAuthorization  Step = "authorization"
	StepToken          Step = "token"
	StepRefresh        Step = "refresh"
	StepUserInfo       Step = "userinfo"
	StepInvoke         Step = "invoke"
)

// Variant selects the wizard: the OpenID Connect playground or the OAuth 2.0 one.
type Variant string

const (
	VariantOIDC   Variant = "oidc"
	VariantOAuth2 Variant = "oauth2"
)

var variantSteps = map[Variant][]Step{
	VariantOIDC:   {StepDiscovery, StepAuthentication, StepToken, StepRefresh, StepUserInfo},
	VariantOAuth2: {StepDiscovery, StepAuthorization, StepInvoke},
}

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	if _, ok := variantSteps[v]; !ok {
		return "", fmt.Errorf("unknown variant %q (want %q or %q)", s, VariantOIDC, VariantOAuth2)
	}
	return v, nil
}

// Steps lists the variant's steps in wizard order.
func (v Variant) Steps() []Step {
	steps := variantSteps[v]
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// AuthorizationStep is the step an authorization callback lands on.
func (v Variant) AuthorizationStep() Step {
	if v == VariantOAuth2 {
		return StepAuthorization
	}
	return StepAuthentication
}

// Has reports whether step belongs to the variant.
func (v Variant) Has(step Step) bool {
	for _, s := range variantSteps[v] {
		if s == step {
			return true
		}
	}
	return false
}

// AuthorizationInput is what the user entered on the authorization step.
type AuthorizationInput struct {
	ClientID  string `json:"clientId"`
	Scope     string `json:"scope"`
	Prompt    string `json:"prompt,omitempty"`
	MaxAge    string `json:"maxAge,omitempty"`
	LoginHint string `json:"loginHint,omitempty"`
}

// State is the whole persisted client state. It is saved and loaded as one JSON blob.
type State struct {
	Step               Step                   `json:"step"`
	Issuer             string                 `json:"issuer,omitempty"`
	Discovery          map[string]interface{} `json:"discovery,omitempty"`
	AccessToken        string                 `json:"accessToken,omitempty"`
	RefreshToken       string                 `json:"refreshToken,omitempty"`
	IDToken            string                 `json:"idToken,omitempty"`
	AuthorizationInput *AuthorizationInput    `json:"authorizationInput,omitempty"`

	// AuthorizationCode is a code received on the callback and not yet exchanged.
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	// AuthState is the state parameter sent on the last authorization request.
	AuthState string `json:"authState,omitempty"`
	// AuthorizationResponse is the callback as shown to the user.
	AuthorizationResponse string `json:"authorizationResponse,omitempty"`
}

// NewState is the state of a first visit.
func NewState() State {
	return State{Step: StepDiscovery}
}

// Endpoint returns a discovery document field, or "" when discovery is not loaded or the
// field is absent.
func (s State) Endpoint(name string) string {
	v, _ := s.Discovery[name].(string)
	return v
}

// HasDiscovery reports whether a discovery document has been loaded.
func (s State) HasDiscovery() bool {
	return len(s.Discovery) > 0
}

// ClientID returns the client id from the last authorization input.
func (s State) ClientID() string {
	if s.AuthorizationInput == nil {
		return ""
	}
	return s.AuthorizationInput.ClientID
}
