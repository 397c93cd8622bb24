package scan

import (
	"log/slog"

	"github.com/pulsecheck/sift/internal/adjudicate"
	"github.com/pulsecheck/sift/internal/ailog"
	"github.com/pulsecheck/sift/internal/config"
	"github.com/pulsecheck/sift/internal/credits"
	"github.com/pulsecheck/sift/internal/runs"
	"github.com/pulsecheck/sift/pkg/llm"
	"github.com/pulsecheck/sift/pkg/ratelimit"
	"github.com/pulsecheck/sift/pkg/tokens"
)

// Classifier pairs a provider backend with its configuration and the log
// phase its calls are recorded under.
type Classifier struct {
	Caller llm.Caller
	Config config.ClassifierConfig
	Phase  string
}

// Runtime bundles the dependencies the scan orchestrator requires.
// It is constructed by higher-level composition code from Infrastructure
// and Domain systems.
type Runtime struct {
	Config      config.ScanConfig
	Log         ailog.System
	Runs        runs.System
	Credits     credits.System
	Store       Store
	Estimator   *tokens.Estimator
	Limiter     *ratelimit.Limiter
	ClassifierA Classifier
	ClassifierB Classifier

	// Dispatcher is nil when no adjudicator is configured; disagreements
	// then keep classifier A's provisional flags.
	Dispatcher *adjudicate.Dispatcher

	Logger *slog.Logger
}
