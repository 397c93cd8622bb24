package scan

import (
	"context"

	"github.com/pulsecheck/sift/pkg/middleware"
)

// System defines the public contract for scan operations.
type System interface {
	Handler() *Handler

	// Execute runs one orchestrator invocation for the caller. A request
	// flagged CheckStatusOnly reports the run's persisted state without
	// processing any batches.
	Execute(ctx context.Context, identity middleware.Identity, req Request) (*Response, error)
}

type system struct {
	rt *Runtime
}

// NewSystem creates the scan system around the given runtime.
func NewSystem(rt *Runtime) System {
	rt.Logger = rt.Logger.With("system", "scan")
	return &system{rt: rt}
}

func (s *system) Handler() *Handler {
	return NewHandler(s, s.rt.Logger)
}

func (s *system) Execute(ctx context.Context, identity middleware.Identity, req Request) (*Response, error) {
	if req.ScanRunID == "" {
		return nil, ErrInvalidRequest
	}

	if req.CheckStatusOnly {
		return s.status(ctx, req)
	}

	if len(req.Comments) == 0 {
		return nil, ErrInvalidRequest
	}

	return execute(ctx, s.rt, identity, req)
}

// status reports a run's persisted picture: its comments so far and
// whether adjudication has finished.
func (s *system) status(ctx context.Context, req Request) (*Response, error) {
	completed, err := s.rt.Runs.IsCompleted(ctx, req.ScanRunID)
	if err != nil {
		return nil, err
	}

	results, err := s.rt.Store.ResultsForRun(ctx, req.ScanRunID)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 && !completed {
		return nil, ErrRunNotFound
	}

	pendingAdjudication := 0
	for _, c := range results {
		if c.NeedsAdjudication && !c.IsAdjudicated {
			pendingAdjudication++
		}
	}

	return &Response{
		Comments:              results,
		TotalComments:         len(results),
		Summary:               Summarize(results),
		HasMore:               !completed,
		NextBatchStart:        len(results),
		AdjudicationCompleted: completed && pendingAdjudication == 0,
		AdjudicationDeferred:  completed && pendingAdjudication > 0,
	}, nil
}
