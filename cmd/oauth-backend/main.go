// Command oauth-backend is the protected resource server of the OAuth 2.0 playground.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ParleSec/KeycloakPlayground/internal/core"
	"github.com/ParleSec/KeycloakPlayground/internal/resource"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap, err := core.Bootstrap(ctx, core.BootstrapOptions{
		Defaults: core.Defaults{
			ServiceName: "oauth-backend",
			ListenAddr:  ":3000",
		},
	})
	if err != nil {
		log.Fatalf("Failed to bootstrap backend: %v", err)
	}
	cfg, logger := bootstrap.Config, bootstrap.Logger

	realm, err := resource.LoadRealmConfig(cfg.KeycloakConfigPath, os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to load realm config: %v", err)
	}
	logger.Info("configuration loaded",
		"keycloak", realm.AuthServerURL,
		"realm", realm.Realm,
		"expected_issuer", realm.Issuer(),
		"resource", realm.Resource,
		"verify_audience", realm.VerifyTokenAudience)

	var sessions resource.SessionStore = resource.NewMemorySessionStore()
	if cfg.RedisAddr != "" {
		redisStore, err := resource.DialRedisSessionStore(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to connect session store: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
		logger.Info("sessions stored in redis", "addr", cfg.RedisAddr)
	}

	keysClient := &http.Client{Transport: otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())}
	backend := resource.NewBackend(resource.Options{
		Realm:    realm,
		Verifier: resource.NewOIDCVerifier(ctx, realm, keysClient),
		Role:     resource.DefaultRole,
		Sessions: sessions,
		Logger:   logger,
		Metrics:  bootstrap.Metrics,
	})

	server := core.NewServer(cfg, logger, core.ServerOptions{
		Metrics: bootstrap.Metrics,
		Mounts:  []core.Mount{backend.RegisterRoutes},
	})

	logger.Info("OAuth playground backend starting",
		"secured", "GET /secured (requires "+resource.DefaultRole+")",
		"public", "GET /public")
	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bootstrap.Shutdown(shutdownCtx); err != nil {
		logger.Warn("trace exporter shutdown failed", "error", err)
	}
	if runErr != nil {
		log.Fatalf("Server failed: %v", runErr)
	}
}
