// Command oidc-playground serves the OpenID Connect playground: the static page and the
// Keycloak discovery, token, userinfo and logout proxies.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ParleSec/KeycloakPlayground/internal/core"
	"github.com/ParleSec/KeycloakPlayground/internal/keycloak"
	"github.com/ParleSec/KeycloakPlayground/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap, err := core.Bootstrap(ctx, core.BootstrapOptions{
		Defaults: core.Defaults{
			ServiceName:  "oidc-playground",
			ListenAddr:   ":8000",
			LookingGlass: true,
		},
	})
	if err != nil {
		log.Fatalf("Failed to bootstrap OIDC playground: %v", err)
	}
	cfg, logger := bootstrap.Config, bootstrap.Logger

	proxy := keycloak.NewHandler(keycloak.Options{
		Gateway:       bootstrap.Gateway,
		Logger:        logger,
		Metrics:       bootstrap.Metrics,
		LookingGlass:  bootstrap.LookingGlass,
		DefaultIssuer: cfg.InputIssuer,
	})
	mounts := []core.Mount{proxy.RegisterRoutes}
	if bootstrap.MockIdP != nil {
		mounts = append(mounts, bootstrap.MockIdP.RegisterRoutes)
	}

	server := core.NewServer(cfg, logger, core.ServerOptions{
		Metrics:      bootstrap.Metrics,
		LookingGlass: bootstrap.LookingGlass,
		Mounts:       mounts,
		Static: core.StaticHandler(core.StaticRoot(cfg.StaticDir, web.Static()), map[string]string{
			"KC_URL":       cfg.KeycloakURL,
			"INPUT_ISSUER": cfg.InputIssuer,
			"SERVICE_URL":  cfg.ServiceURL,
		}),
	})

	logger.Info("OIDC playground starting", "keycloak", cfg.KeycloakURL, "issuer", cfg.InputIssuer)
	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bootstrap.Shutdown(shutdownCtx); err != nil {
		logger.Warn("trace exporter shutdown failed", "error", err)
	}
	if runErr != nil {
		log.Fatalf("Server failed: %v", runErr)
	}
	logger.Info("OIDC playground exited gracefully")
}
