package core

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ParleSec/KeycloakPlayground/internal/crypto"
	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
	"github.com/ParleSec/KeycloakPlayground/internal/mockidp"
	"github.com/ParleSec/KeycloakPlayground/internal/telemetry"
)

// BootstrapOptions controls which shared dependencies are initialized.
type BootstrapOptions struct {
	Defaults Defaults
}

// BootstrapResult holds initialized dependencies.
type BootstrapResult struct {
	Config       *Config
	Logger       hclog.Logger
	Metrics      *metrics.Metrics
	LookingGlass *lookingglass.Engine
	Gateway      *gateway.Gateway
	// MockIdP is nil unless PLAYGROUND_MOCK_IDP is set.
	MockIdP *mockidp.MockIdP
	// Shutdown flushes the trace exporter.
	Shutdown telemetry.ShutdownFunc
}

// Bootstrap loads configuration and initializes the dependencies every binary shares.
func Bootstrap(ctx context.Context, opts BootstrapOptions) (*BootstrapResult, error) {
	cfg, err := LoadConfig(opts.Defaults)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := NewLogger(cfg)

	_, shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SamplingRate:   cfg.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if cfg.OTLPEndpoint != "" {
		logger.Info("trace export enabled", "endpoint", cfg.OTLPEndpoint)
	}

	allow, err := gateway.AllowOrigins(cfg.AllowedUpstreams...)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream allow-list: %w", err)
	}
	gw := gateway.New(
		gateway.WithAllow(allow),
		gateway.WithTimeout(cfg.UpstreamTimeout),
		gateway.WithLogger(logger),
	)

	res := &BootstrapResult{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Gateway:  gw,
		Shutdown: shutdown,
	}

	if cfg.LookingGlass {
		res.LookingGlass = lookingglass.NewEngine(logger)
		logger.Debug("looking glass engine initialized")
	}

	if cfg.MockIdPEnabled {
		keys, err := crypto.NewRealmKeys()
		if err != nil {
			return nil, fmt.Errorf("generate realm keys: %w", err)
		}
		res.MockIdP = mockidp.NewMockIdP(keys, mockidp.DefaultRealm)
		res.MockIdP.SetBaseURL(cfg.BaseURL)
		logger.Info("mock keycloak realm enabled", "issuer", res.MockIdP.Issuer())
	}

	return res, nil
}
