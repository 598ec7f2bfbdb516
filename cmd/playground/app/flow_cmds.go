package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ParleSec/KeycloakPlayground/internal/flow"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
)

// withSession runs fn with an open session and prints the resulting view.
func withSession(e *env, fn func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		sess, closeFn, err := e.session()
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(cmd.Context(), cmd, sess)
	}
}

func printView(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
	st, err := s.State(ctx)
	if err != nil {
		return err
	}
	return flow.Render(s.Machine().Variant(), st).WriteText(cmd.OutOrStdout())
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// explain turns guard failures into the message the wizard shows.
func explain(err error) error {
	var guard *flow.GuardError
	if errors.As(err, &guard) {
		return errors.New(guard.Message)
	}
	return err
}

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current step, inputs and decoded tokens",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			return printView(ctx, cmd, s)
		}),
	}
}

func newDiscoveryCmd(e *env) *cobra.Command {
	var issuer string
	cmd := &cobra.Command{
		Use:   "discovery",
		Short: "Load the issuer's discovery document",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			if _, err := s.Discover(ctx, issuer); err != nil {
				return explain(err)
			}
			return printView(ctx, cmd, s)
		}),
	}
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer URL; empty uses the server's default issuer")
	return cmd
}

func newLoginCmd(e *env) *cobra.Command {
	var (
		in       flow.AuthorizationInput
		timeout  time.Duration
		exchange bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Send the authorization request and wait for the redirect back",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			listener, err := flow.ListenCallback(e.v.GetString(keyCallbackAddr), "/callback")
			if err != nil {
				return err
			}
			defer listener.Close()
			s.RedirectURI = listener.RedirectURI()

			if in.ClientID == "" {
				in.ClientID = defaultClientID(s.Machine().Variant())
			}
			if in.Scope == "" && s.Machine().Variant() == flow.VariantOIDC {
				in.Scope = "openid"
			}
			authURL, err := s.AuthorizationURL(ctx, in)
			if err != nil {
				return explain(err)
			}
			if req, err := lookingglass.NewDecoder().DecodeAuthorizationRequest(authURL); err == nil {
				for _, note := range req.SecurityNotes {
					fmt.Fprintln(cmd.ErrOrStderr(), "note:", note)
				}
			}
			e.open(cmd, authURL)

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			cb, err := listener.Wait(waitCtx)
			if err != nil {
				return fmt.Errorf("waiting for the authorization response: %w", err)
			}
			if _, err := s.Callback(ctx, cb); err != nil {
				return err
			}
			if exchange {
				if _, err := s.ExchangeCode(ctx); err != nil {
					return explain(err)
				}
			}
			return printView(ctx, cmd, s)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&in.ClientID, "client-id", "", "Client id (default oidc-playground or oauth-playground)")
	f.StringVar(&in.Scope, "scope", "", "Requested scopes (default openid for oidc)")
	f.StringVar(&in.Prompt, "prompt", "", "OIDC prompt (none, login, consent)")
	f.StringVar(&in.MaxAge, "max-age", "", "OIDC max_age in seconds")
	f.StringVar(&in.LoginHint, "login-hint", "", "OIDC login_hint")
	f.DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the redirect")
	f.BoolVar(&exchange, "exchange", false, "Exchange the code right away")
	return cmd
}

func defaultClientID(v flow.Variant) string {
	if v == flow.VariantOAuth2 {
		return "oauth-playground"
	}
	return "oidc-playground"
}

func newTokenCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Exchange the authorization code for tokens",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			if _, err := s.ExchangeCode(ctx); err != nil {
				return explain(err)
			}
			return printView(ctx, cmd, s)
		}),
	}
}

func newRefreshCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Redeem the refresh token",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			if _, err := s.Goto(ctx, flow.StepRefresh); err != nil {
				return explain(err)
			}
			if _, err := s.Refresh(ctx); err != nil {
				return explain(err)
			}
			return printView(ctx, cmd, s)
		}),
	}
}

func newUserInfoCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "userinfo",
		Short: "Call the userinfo endpoint with the access token",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			if _, err := s.Goto(ctx, flow.StepUserInfo); err != nil {
				return explain(err)
			}
			claims, err := s.UserInfo(ctx)
			if err != nil {
				return explain(err)
			}
			return printJSON(cmd, claims)
		}),
	}
}

func newInvokeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke",
		Short: "Call the protected service with the access token",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			if _, err := s.Goto(ctx, flow.StepInvoke); err != nil {
				return explain(err)
			}
			status, body, err := s.Invoke(ctx)
			if err != nil {
				return explain(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\n%s\n", status, body)
			return err
		}),
	}
}

func newStepCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "step <name>",
		Short: "Move to a wizard step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
				if _, err := s.Goto(ctx, flow.Step(args[0])); err != nil {
					return explain(err)
				}
				return printView(ctx, cmd, s)
			})(cmd, args)
		},
	}
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the Keycloak session and clear local state",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			target, err := s.Logout(ctx)
			if err != nil {
				return explain(err)
			}
			e.open(cmd, target)
			return nil
		}),
	}
}

func newResetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard all local state",
		Args:  cobra.NoArgs,
		RunE: withSession(e, func(ctx context.Context, cmd *cobra.Command, s *flow.Session) error {
			if err := s.Reset(ctx); err != nil {
				return err
			}
			return printView(ctx, cmd, s)
		}),
	}
}
