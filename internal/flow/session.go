package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

// Session drives one wizard against a playground server. Each operation loads the state,
// applies one transition and saves the result.
type Session struct {
	machine *Machine
	store   Store
	client  *ProxyClient
	logger  hclog.Logger

	// RedirectURI is sent on authorization and code exchange requests.
	RedirectURI string
	// PostLogoutRedirectURI is where the provider returns after logout.
	PostLogoutRedirectURI string
}

// NewSession creates a session.
func NewSession(m *Machine, store Store, client *ProxyClient, logger hclog.Logger) *Session {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Session{
		machine:               m,
		store:                 store,
		client:                client,
		logger:                logger.Named("flow"),
		RedirectURI:           "http://" + DefaultCallbackAddr + "/callback",
		PostLogoutRedirectURI: client.Base() + "/",
	}
}

// Machine returns the session's state machine.
func (s *Session) Machine() *Machine {
	return s.machine
}

// State loads the current state.
func (s *Session) State(ctx context.Context) (State, error) {
	return s.store.Load(ctx)
}

func (s *Session) update(ctx context.Context, fn func(State) (State, error)) (State, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return st, err
	}
	next, err := fn(st)
	if saveErr := s.store.Save(ctx, next); saveErr != nil {
		return next, saveErr
	}
	return next, err
}

// Goto moves to a step.
func (s *Session) Goto(ctx context.Context, step Step) (State, error) {
	return s.update(ctx, func(st State) (State, error) {
		return s.machine.Goto(st, step)
	})
}

// Discover loads the discovery document and moves to the authorization step.
func (s *Session) Discover(ctx context.Context, issuer string) (State, error) {
	doc, err := s.client.Discovery(ctx, issuer)
	if err != nil {
		return State{}, err
	}
	s.logger.Debug("discovery loaded", "issuer", issuer, "fields", len(doc))
	return s.update(ctx, func(st State) (State, error) {
		st = s.machine.LoadDiscovery(st, issuer, doc)
		return s.machine.Goto(st, s.machine.Variant().AuthorizationStep())
	})
}

// AuthorizationURL records the inputs and returns the URL to open in a browser.
func (s *Session) AuthorizationURL(ctx context.Context, in AuthorizationInput) (string, error) {
	var target string
	_, err := s.update(ctx, func(st State) (State, error) {
		st = s.machine.SetAuthorizationInput(st, in, uuid.NewString())
		u, err := s.machine.AuthorizationURL(st, s.RedirectURI)
		if err != nil {
			return st, err
		}
		target = u
		return st, nil
	})
	return target, err
}

// Callback applies an authorization redirect.
func (s *Session) Callback(ctx context.Context, cb Callback) (State, error) {
	return s.update(ctx, func(st State) (State, error) {
		return s.machine.ApplyCallback(st, cb)
	})
}

// ExchangeCode redeems the stored code through the token proxy and moves to the next step.
func (s *Session) ExchangeCode(ctx context.Context) (State, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return st, err
	}
	req, err := s.machine.CodeExchangeRequest(st, s.RedirectURI)
	if err != nil {
		return st, err
	}
	return s.redeem(ctx, req)
}

// Refresh redeems the stored refresh token.
func (s *Session) Refresh(ctx context.Context) (State, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return st, err
	}
	req, err := s.machine.RefreshRequest(st)
	if err != nil {
		return st, err
	}
	return s.redeem(ctx, req)
}

func (s *Session) redeem(ctx context.Context, req models.TokenRequest) (State, error) {
	resp, status, err := s.client.Token(ctx, req)
	if err != nil {
		return State{}, err
	}
	s.logger.Debug("token response", "grant_type", req.GrantType, "status", status)
	return s.update(ctx, func(st State) (State, error) {
		st, err := s.machine.ApplyTokens(st, resp)
		if err != nil {
			return st, err
		}
		if next := s.nextAfterTokens(st); next != "" {
			st.Step = next
		}
		return st, nil
	})
}

func (s *Session) nextAfterTokens(st State) Step {
	if s.machine.Variant() == VariantOAuth2 {
		return StepInvoke
	}
	if st.Step == StepRefresh {
		return StepRefresh
	}
	return StepToken
}

// UserInfo calls the userinfo endpoint with the stored access token.
func (s *Session) UserInfo(ctx context.Context) (map[string]interface{}, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, auth, err := s.machine.UserInfoRequest(st)
	if err != nil {
		return nil, err
	}
	return s.client.UserInfo(ctx, endpoint, auth)
}

// Invoke calls the protected service with the stored access token.
func (s *Session) Invoke(ctx context.Context) (int, string, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return 0, "", err
	}
	auth, err := s.machine.ServiceAuthorization(st)
	if err != nil {
		return 0, "", err
	}
	return s.client.Service(ctx, auth)
}

// Logout clears the state and returns the absolute logout URL to open. The state is
// kept when logout is not possible.
func (s *Session) Logout(ctx context.Context) (string, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	path, err := s.machine.LogoutURL(st, s.PostLogoutRedirectURI)
	if err != nil {
		return "", err
	}
	if err := s.store.Clear(ctx); err != nil {
		return "", fmt.Errorf("clear state: %w", err)
	}
	return s.client.Resolve(path), nil
}

// Reset discards all state.
func (s *Session) Reset(ctx context.Context) error {
	return s.store.Clear(ctx)
}
