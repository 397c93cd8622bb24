package adjudicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsecheck/sift/internal/ailog"
	"github.com/pulsecheck/sift/internal/config"
	"github.com/pulsecheck/sift/pkg/llm"
	"github.com/pulsecheck/sift/pkg/verdicts"
)

// Dispatcher drives adjudication for a run. It partitions disagreement
// cases into batches, skips batches whose serialized input already has a
// successful log row for the run, and dispatches the rest sequentially
// with a fixed inter-batch delay.
type Dispatcher struct {
	caller      llm.Caller
	cfg         config.ClassifierConfig
	log         ailog.System
	logger      *slog.Logger
	batchSize   int
	delay       time.Duration
	callTimeout time.Duration

	// completed holds serialized batch inputs already dispatched by this
	// process, a cheap guard layered over the database check.
	mu        sync.Mutex
	completed map[string]struct{}
}

// NewDispatcher creates a Dispatcher for the configured adjudicator model.
func NewDispatcher(
	caller llm.Caller,
	cfg config.ClassifierConfig,
	log ailog.System,
	logger *slog.Logger,
	batchSize int,
	delay time.Duration,
	callTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		caller:      caller,
		cfg:         cfg,
		log:         log,
		logger:      logger.With("system", "adjudicate"),
		batchSize:   max(batchSize, 1),
		delay:       delay,
		callTimeout: callTimeout,
		completed:   make(map[string]struct{}),
	}
}

// Resolve adjudicates the given cases and returns rulings keyed by comment
// id. Batches that already completed (in this process or per the log) are
// replayed from the stored response instead of re-invoked.
func (d *Dispatcher) Resolve(ctx context.Context, userID, runID string, cases []Case) (map[string]Outcome, error) {
	outcomes := make(map[string]Outcome, len(cases))

	for start := 0; start < len(cases); start += d.batchSize {
		if start > 0 {
			if err := sleep(ctx, d.delay); err != nil {
				return outcomes, err
			}
		}

		end := min(start+d.batchSize, len(cases))
		batch := cases[start:end]

		raw, err := d.dispatchBatch(ctx, userID, runID, batch)
		if err != nil {
			return outcomes, fmt.Errorf("adjudicate batch at %d: %w", start, err)
		}

		merge(outcomes, batch, verdicts.Parse(raw, len(batch), "adjudicator", batch[0].Index, d.logger))
	}

	return outcomes, nil
}

// dispatchBatch returns the adjudicator's raw response for one batch,
// sourced from the duplicate guards when the work already happened.
func (d *Dispatcher) dispatchBatch(ctx context.Context, userID, runID string, batch []Case) (string, error) {
	input := serializeBatch(batch)

	// The in-memory set short-circuits the common same-process duplicate;
	// the log row is still the replay source either way.
	entry, err := d.log.SuccessfulResponse(ctx, runID, Function, input)
	if err == nil && entry.Response != nil {
		if !d.alreadyCompleted(input) {
			d.logger.Info("adjudication batch already logged", "run", runID, "cases", len(batch))
		}
		d.markCompleted(input)
		return *entry.Response, nil
	}
	if err != nil && !errors.Is(err, ailog.ErrNotFound) {
		return "", err
	}

	return d.invoke(ctx, userID, runID, batch, input)
}

func (d *Dispatcher) invoke(ctx context.Context, userID, runID string, batch []Case, input string) (string, error) {
	if _, err := d.log.LogRequest(ctx, ailog.RequestCommand{
		UserID:       userID,
		RunID:        runID,
		Function:     Function,
		RequestType:  RequestType,
		Provider:     d.caller.Provider(),
		Model:        d.caller.Model(),
		Prompt:       d.cfg.Prompt,
		Input:        input,
		OutputTokens: d.cfg.OutputTokensPerComment * len(batch),
		Temperature:  d.cfg.Temperature,
	}); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	res, err := d.caller.Call(callCtx, llm.Request{
		System:      d.cfg.Prompt,
		Input:       input,
		Temperature: d.cfg.Temperature,
		MaxTokens:   d.cfg.OutputTokensPerComment * len(batch),
	})

	if err != nil {
		if _, logErr := d.log.LogResponse(ctx, ailog.ResponseCommand{
			UserID:      userID,
			RunID:       runID,
			Function:    Function,
			RequestType: RequestType,
			Input:       input,
			Status:      ailog.StatusError,
			Error:       err.Error(),
		}); logErr != nil {
			d.logger.Warn("failed to log adjudication error", "run", runID, "error", logErr)
		}
		return "", err
	}

	if _, err := d.log.LogResponse(ctx, ailog.ResponseCommand{
		UserID:       userID,
		RunID:        runID,
		Function:     Function,
		RequestType:  RequestType,
		Input:        input,
		Status:       ailog.StatusSuccess,
		Response:     res.Content,
		OutputTokens: res.OutputTokens,
	}); err != nil {
		d.logger.Warn("failed to log adjudication response", "run", runID, "error", err)
	}

	d.markCompleted(input)
	d.logger.Info("adjudication batch resolved", "run", runID, "cases", len(batch))
	return res.Content, nil
}

func (d *Dispatcher) alreadyCompleted(input string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.completed[input]
	return ok
}

func (d *Dispatcher) markCompleted(input string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed[input] = struct{}{}
}

// merge matches rulings to cases positionally.
func merge(outcomes map[string]Outcome, batch []Case, rulings []verdicts.Verdict) {
	for i, c := range batch {
		if i >= len(rulings) {
			break
		}
		outcomes[c.ID] = Outcome{
			Concerning:   rulings[i].Concerning,
			Identifiable: rulings[i].Identifiable,
			Reasoning:    rulings[i].Reasoning,
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
