// Package app implements the playground command line.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ParleSec/KeycloakPlayground/internal/flow"
	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
)

// Flag and environment keys.
const (
	keyServer       = "server"
	keyVariant      = "variant"
	keyStateDB      = "state-db"
	keyCallbackAddr = "callback-addr"
	keyNoBrowser    = "no-browser"
	keyDebug        = "debug"
	keyLGSession    = "looking-glass-session"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(browser.OpenURL)
}

func newRootCmd(openURL func(string) error) *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "playground",
		Short:         "Walk through OpenID Connect and OAuth 2.0 flows against Keycloak",
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `playground drives the Keycloak playground servers from a terminal.

Each command performs one wizard step: load discovery, send the authorization
request, exchange the code, refresh, call userinfo or the protected service.
State is kept in a local SQLite file between commands.`,
	}

	flags := root.PersistentFlags()
	flags.String(keyServer, "http://localhost:8000", "Playground server URL (PLAYGROUND_SERVER)")
	flags.String(keyVariant, string(flow.VariantOIDC), "Wizard: oidc or oauth2 (PLAYGROUND_VARIANT)")
	flags.String(keyStateDB, "", "State database (PLAYGROUND_STATE_DB, default in the user config dir)")
	flags.String(keyCallbackAddr, flow.DefaultCallbackAddr, "Loopback address receiving the authorization redirect (PLAYGROUND_CALLBACK_ADDR)")
	flags.Bool(keyNoBrowser, false, "Print URLs instead of opening a browser (PLAYGROUND_NO_BROWSER)")
	flags.Bool(keyDebug, false, "Enable debug logging (PLAYGROUND_DEBUG)")
	flags.String(keyLGSession, "", "Looking glass session receiving the proxied exchanges (PLAYGROUND_LOOKING_GLASS_SESSION)")

	for _, key := range []string{keyServer, keyVariant, keyStateDB, keyCallbackAddr, keyNoBrowser, keyDebug, keyLGSession} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}
	_ = v.BindEnv(keyServer, "PLAYGROUND_SERVER")
	_ = v.BindEnv(keyVariant, "PLAYGROUND_VARIANT")
	_ = v.BindEnv(keyStateDB, "PLAYGROUND_STATE_DB")
	_ = v.BindEnv(keyCallbackAddr, "PLAYGROUND_CALLBACK_ADDR")
	_ = v.BindEnv(keyNoBrowser, "PLAYGROUND_NO_BROWSER")
	_ = v.BindEnv(keyDebug, "PLAYGROUND_DEBUG")
	_ = v.BindEnv(keyLGSession, "PLAYGROUND_LOOKING_GLASS_SESSION")

	e := &env{v: v, openURL: openURL}
	root.AddCommand(
		newStatusCmd(e),
		newDiscoveryCmd(e),
		newLoginCmd(e),
		newTokenCmd(e),
		newRefreshCmd(e),
		newUserInfoCmd(e),
		newInvokeCmd(e),
		newStepCmd(e),
		newLogoutCmd(e),
		newResetCmd(e),
	)
	return root
}

// env resolves the shared settings of one invocation.
type env struct {
	v       *viper.Viper
	openURL func(string) error
}

func (e *env) logger() hclog.Logger {
	level := hclog.Warn
	if e.v.GetBool(keyDebug) {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{Name: "playground", Level: level, Output: os.Stderr})
}

func (e *env) variant() (flow.Variant, error) {
	return flow.ParseVariant(e.v.GetString(keyVariant))
}

func (e *env) statePath(variant flow.Variant) (string, error) {
	if p := e.v.GetString(keyStateDB); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "keycloak-playground", string(variant)+".db"), nil
}

func (e *env) redirectURI() string {
	return "http://" + e.v.GetString(keyCallbackAddr) + "/callback"
}

// session opens the state store and returns a session plus its closer.
func (e *env) session() (*flow.Session, func(), error) {
	variant, err := e.variant()
	if err != nil {
		return nil, nil, err
	}
	path, err := e.statePath(variant)
	if err != nil {
		return nil, nil, err
	}
	store, err := flow.OpenSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}

	logger := e.logger()
	client := flow.NewProxyClient(e.v.GetString(keyServer), gateway.New(gateway.WithLogger(logger)))
	client.SessionID = e.v.GetString(keyLGSession)
	sess := flow.NewSession(flow.NewMachine(variant), store, client, logger)
	sess.RedirectURI = e.redirectURI()
	return sess, func() { _ = store.Close() }, nil
}

// open shows a URL to the user, in a browser unless disabled.
func (e *env) open(cmd *cobra.Command, target string) {
	fmt.Fprintln(cmd.OutOrStdout(), target)
	if e.v.GetBool(keyNoBrowser) {
		return
	}
	if err := e.openURL(target); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "could not open a browser (%v); open the URL above manually\n", err)
	}
}
