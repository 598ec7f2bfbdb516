// Command oauth-playground serves the OAuth 2.0 playground: the Keycloak proxies plus
// /api/service, which calls the protected backend with the caller's token.
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
			ServiceName:  "oauth-playground",
			ListenAddr:   ":8000",
			LookingGlass: true,
		},
	})
	if err != nil {
		log.Fatalf("Failed to bootstrap OAuth playground: %v", err)
	}
	cfg, logger := bootstrap.Config, bootstrap.Logger

	proxy := keycloak.NewHandler(keycloak.Options{
		Gateway:       bootstrap.Gateway,
		Logger:        logger,
		Metrics:       bootstrap.Metrics,
		LookingGlass:  bootstrap.LookingGlass,
		DefaultIssuer: cfg.InputIssuer,
		ServiceURL:    cfg.ServiceURL,
	})
	mounts := []core.Mount{proxy.RegisterRoutes, proxy.RegisterServiceRoute}
	if bootstrap.MockIdP != nil {
		mounts = append(mounts, bootstrap.MockIdP.RegisterRoutes)
	}

	// The page calls the backend through this server, never directly.
	server := core.NewServer(cfg, logger, core.ServerOptions{
		Metrics:      bootstrap.Metrics,
		LookingGlass: bootstrap.LookingGlass,
		Mounts:       mounts,
		Static: core.StaticHandler(core.StaticRoot(cfg.StaticDir, web.Static()), map[string]string{
			"KC_URL":       cfg.KeycloakURL,
			"INPUT_ISSUER": cfg.InputIssuer,
			"SERVICE_URL":  "/api/service",
		}),
	})

	logger.Info("OAuth playground starting", "keycloak", cfg.KeycloakURL, "service", cfg.ServiceURL)
	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bootstrap.Shutdown(shutdownCtx); err != nil {
		logger.Warn("trace exporter shutdown failed", "error", err)
	}
	if runErr != nil {
		log.Fatalf("Server failed: %v", runErr)
	}
	logger.Info("OAuth playground exited gracefully")
}
