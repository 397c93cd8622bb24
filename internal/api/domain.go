package api

import (
	"fmt"
	"net/http"

	"github.com/pulsecheck/sift/internal/adjudicate"
	"github.com/pulsecheck/sift/internal/ailog"
	"github.com/pulsecheck/sift/internal/credits"
	"github.com/pulsecheck/sift/internal/runs"
	"github.com/pulsecheck/sift/internal/scan"
	"github.com/pulsecheck/sift/pkg/llm"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	AILog   ailog.System
	Runs    runs.System
	Credits credits.System
	Scan    scan.System
}

// NewDomain creates all domain systems from the API runtime, wiring the
// scan orchestrator to its classifier backends.
func NewDomain(runtime *Runtime) (*Domain, error) {
	db := runtime.Database.Connection()

	logSystem := ailog.New(db, runtime.Logger, runtime.Pagination)
	runsSystem := runs.New(db, runtime.Logger)
	creditsSystem := credits.New(db, runtime.Logger)
	store := scan.NewStore(db, runtime.Logger)

	client := &http.Client{}

	callerA, err := llm.New(runtime.Scan.ClassifierA.Config, client)
	if err != nil {
		return nil, fmt.Errorf("classifier_a: %w", err)
	}
	callerB, err := llm.New(runtime.Scan.ClassifierB.Config, client)
	if err != nil {
		return nil, fmt.Errorf("classifier_b: %w", err)
	}

	var dispatcher *adjudicate.Dispatcher
	if runtime.Scan.Adjudicator.Configured() {
		adjudicator, err := llm.New(runtime.Scan.Adjudicator.Config, client)
		if err != nil {
			return nil, fmt.Errorf("adjudicator: %w", err)
		}
		dispatcher = adjudicate.NewDispatcher(
			adjudicator,
			runtime.Scan.Adjudicator,
			logSystem,
			runtime.Logger,
			runtime.Scan.AdjudicationBatchSize,
			runtime.Scan.AdjudicationDelayDuration(),
			runtime.Scan.CallTimeoutDuration(),
		)
	}

	scanSystem := scan.NewSystem(&scan.Runtime{
		Config:      runtime.Scan,
		Log:         logSystem,
		Runs:        runsSystem,
		Credits:     creditsSystem,
		Store:       store,
		Estimator:   runtime.Estimator,
		Limiter:     runtime.Limiter,
		ClassifierA: scan.Classifier{Caller: callerA, Config: runtime.Scan.ClassifierA, Phase: scan.PhaseScanA},
		ClassifierB: scan.Classifier{Caller: callerB, Config: runtime.Scan.ClassifierB, Phase: scan.PhaseScanB},
		Dispatcher:  dispatcher,
		Logger:      runtime.Logger,
	})

	return &Domain{
		AILog:   logSystem,
		Runs:    runsSystem,
		Credits: creditsSystem,
		Scan:    scanSystem,
	}, nil
}
