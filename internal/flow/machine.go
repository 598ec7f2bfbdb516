package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

// GuardError is a precondition failure shown to the user instead of attempting the step.
type GuardError struct {
	Step    Step
	Message string
}

func (e *GuardError) Error() string {
	return e.Message
}

// Guard messages.
const (
	msgNeedDiscovery    = "Please load discovery first"
	msgNeedLogoutConfig = "Please load discovery first to enable logout"
	msgNeedRefreshToken = "No refresh token: complete the token step first"
	msgNeedAccessToken  = "No access token: complete the token step first"
	msgNeedCode         = "No authorization code: complete the authorization step first"
	msgNeedClientID     = "No client id: generate an authorization request first"
)

// ErrStateMismatch is returned when a callback's state differs from the one sent.
var ErrStateMismatch = errors.New("authorization response state does not match the request")

// UpstreamError is an OAuth error answered by the identity provider.
type UpstreamError struct {
	Code        string
	Description string
}

func (e *UpstreamError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Machine holds the transition rules of one variant.
type Machine struct {
	variant Variant
}

// NewMachine creates the state machine for a variant.
func NewMachine(v Variant) *Machine {
	return &Machine{variant: v}
}

// Variant returns the machine's variant.
func (m *Machine) Variant() Variant {
	return m.variant
}

// Goto moves to step when its preconditions hold.
func (m *Machine) Goto(s State, step Step) (State, error) {
	if !m.variant.Has(step) {
		return s, fmt.Errorf("step %q is not part of the %s playground", step, m.variant)
	}
	if err := m.check(s, step); err != nil {
		return s, err
	}
	s.Step = step
	return s, nil
}

func (m *Machine) check(s State, step Step) error {
	if step == StepDiscovery {
		return nil
	}
	if !s.HasDiscovery() {
		return &GuardError{Step: step, Message: msgNeedDiscovery}
	}
	switch step {
	case StepRefresh:
		if s.RefreshToken == "" {
			return &GuardError{Step: step, Message: msgNeedRefreshToken}
		}
	case StepUserInfo, StepInvoke:
		if s.AccessToken == "" {
			return &GuardError{Step: step, Message: msgNeedAccessToken}
		}
	}
	return nil
}

// LoadDiscovery records the issuer and its discovery document.
func (m *Machine) LoadDiscovery(s State, issuer string, doc map[string]interface{}) State {
	s.Issuer = issuer
	s.Discovery = doc
	return s
}

// SetAuthorizationInput records the authorization step's inputs and the state value
// that will be sent with the request.
func (m *Machine) SetAuthorizationInput(s State, in AuthorizationInput, authState string) State {
	input := in
	s.AuthorizationInput = &input
	s.AuthState = authState
	return s
}

// Callback is the query of a redirect back from the authorization endpoint.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ApplyCallback handles a redirect back from the authorization endpoint. A code or an error
// jumps to the variant's authorization step whatever step was current.
func (m *Machine) ApplyCallback(s State, cb Callback) (State, error) {
	if cb.Code == "" && cb.Error == "" {
		return s, nil
	}
	s.Step = m.variant.AuthorizationStep()

	if cb.Error != "" {
		s.AuthorizationCode = ""
		s.AuthorizationResponse = "error=" + cb.Error + "\nerror_description=" + cb.ErrorDescription
		return s, &UpstreamError{Code: cb.Error, Description: cb.ErrorDescription}
	}
	if s.AuthState != "" && cb.State != s.AuthState {
		s.AuthorizationCode = ""
		s.AuthorizationResponse = "state=" + cb.State
		return s, ErrStateMismatch
	}
	s.AuthorizationCode = cb.Code
	s.AuthorizationResponse = "code=" + cb.Code
	s.AuthState = ""
	return s, nil
}

// ApplyTokens records a token endpoint answer. Only tokens present in the response
// replace stored ones; an error answer leaves the state unchanged.
func (m *Machine) ApplyTokens(s State, resp *models.TokenResponse) (State, error) {
	if resp == nil {
		return s, errors.New("empty token response")
	}
	if resp.Error != "" {
		return s, &UpstreamError{Code: resp.Error, Description: resp.ErrorDescription}
	}
	if resp.AccessToken == "" {
		return s, errors.New("token response carries no access_token")
	}
	s.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		s.RefreshToken = resp.RefreshToken
	}
	if resp.IDToken != "" {
		s.IDToken = resp.IDToken
	}
	s.AuthorizationCode = ""
	return s, nil
}

// Reset discards everything.
func (m *Machine) Reset(State) State {
	return NewState()
}

// Next returns the step after the current one, or "" on the last step.
func (m *Machine) Next(s State) Step {
	steps := variantSteps[m.variant]
	for i, step := range steps {
		if step == s.Step && i+1 < len(steps) {
			return steps[i+1]
		}
	}
	return ""
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}
