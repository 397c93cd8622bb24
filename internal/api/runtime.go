package api

import (
	"github.com/pulsecheck/sift/internal/config"
	"github.com/pulsecheck/sift/internal/infrastructure"
	"github.com/pulsecheck/sift/pkg/pagination"
	"github.com/pulsecheck/sift/pkg/ratelimit"
	"github.com/pulsecheck/sift/pkg/tokens"
)

// Runtime extends Infrastructure with API-specific configuration and the
// shared scan support systems.
type Runtime struct {
	*infrastructure.Infrastructure
	Scan       config.ScanConfig
	Pagination pagination.Config
	Estimator  *tokens.Estimator
	Limiter    *ratelimit.Limiter
}

// NewRuntime creates an API runtime with a module-scoped logger. The token
// estimator and rate limiter are process-wide so concurrent invocations
// share usage windows.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	return &Runtime{
		Infrastructure: &infrastructure.Infrastructure{
			Lifecycle: infra.Lifecycle,
			Logger:    infra.Logger.With("module", "api"),
			Database:  infra.Database,
		},
		Scan:       cfg.Scan,
		Pagination: cfg.API.Pagination,
		Estimator:  tokens.New(),
		Limiter:    ratelimit.New(),
	}
}
