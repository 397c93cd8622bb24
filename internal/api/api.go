// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pulsecheck/sift/internal/config"
	"github.com/pulsecheck/sift/internal/infrastructure"
	"github.com/pulsecheck/sift/pkg/middleware"
	"github.com/pulsecheck/sift/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
// When auth is enabled, OIDC issuer discovery happens here and requires
// network access.
func NewModule(ctx context.Context, cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg, infra)

	domain, err := NewDomain(runtime)
	if err != nil {
		return nil, fmt.Errorf("build domain: %w", err)
	}

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build verifier: %w", err)
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Auth(verifier))
	m.Use(middleware.Logger(runtime.Infrastructure.Logger))

	return m, nil
}

func buildVerifier(ctx context.Context, cfg *config.Config) (middleware.Verifier, error) {
	if cfg.Auth.Enabled {
		return middleware.NewOIDCVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.Audience)
	}

	return middleware.StaticVerifier{
		Identity: middleware.Identity{Subject: "local", Email: "local@localhost"},
	}, nil
}
