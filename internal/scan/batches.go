package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulsecheck/sift/internal/ailog"
	"github.com/pulsecheck/sift/pkg/llm"
	"github.com/pulsecheck/sift/pkg/verdicts"
)

// sideResult is one classifier's settled outcome for a batch. A failed
// side has Err set and no verdicts; the sibling's results remain usable.
type sideResult struct {
	Verdicts []verdicts.Verdict
	Err      error
}

// processBatch rate-limit-waits for both classifiers, invokes them in
// parallel with independent fault isolation, parses both sides, and zips
// the verdicts onto the batch's comments positionally.
func processBatch(ctx context.Context, rt *Runtime, userID, runID string, batch []Comment, start int, phaseA, phaseB string) ([]Comment, error) {
	input := batchInput(batch)

	if err := rateWait(ctx, rt, input); err != nil {
		return nil, err
	}

	resA, resB := callPair(ctx, rt, userID, runID, input, len(batch), start, phaseA, phaseB)

	results := make([]Comment, len(batch))
	for i, c := range batch {
		results[i] = zipComment(c, verdictAt(resA, i), verdictAt(resB, i))
	}

	if err := rt.Store.SaveResults(ctx, runID, results); err != nil {
		return nil, err
	}

	return results, nil
}

// rateWait sleeps until one batch's parallel request pair fits both
// classifiers' rate windows.
func rateWait(ctx context.Context, rt *Runtime, input string) error {
	var wait time.Duration

	for _, c := range []Classifier{rt.ClassifierA, rt.ClassifierB} {
		estimated := rt.Estimator.Estimate(c.Config.Provider, c.Config.Model, c.Config.Prompt+input)
		if c.Config.Limits.TPM > 0 {
			wait = max(wait, rt.Limiter.WaitForTokens(c.Config.Provider, c.Config.Model, estimated, c.Config.Limits.TPM))
		}
		if c.Config.Limits.RPM > 0 {
			wait = max(wait, rt.Limiter.WaitForRequests(c.Config.Provider, c.Config.Model, 1, c.Config.Limits.RPM))
		}
	}

	if wait <= 0 {
		return nil
	}

	rt.Logger.Info("rate limit wait", "wait", wait)
	return sleep(ctx, wait)
}

// callPair invokes both classifiers concurrently. Each side settles
// independently; one side's failure never cancels the other's in-flight
// work, so the group carries no shared cancellation context.
func callPair(ctx context.Context, rt *Runtime, userID, runID, input string, expected, start int, phaseA, phaseB string) (sideResult, sideResult) {
	var resA, resB sideResult

	g := new(errgroup.Group)
	g.Go(func() error {
		resA = callClassifier(ctx, rt, rt.ClassifierA, userID, runID, input, expected, start, phaseA)
		return nil
	})
	g.Go(func() error {
		resB = callClassifier(ctx, rt, rt.ClassifierB, userID, runID, input, expected, start, phaseB)
		return nil
	})
	// Closures never return errors; each side's failure is carried in its
	// sideResult so the pair always settles.
	_ = g.Wait()

	return resA, resB
}

// callClassifier records the pending log row, invokes one classifier with
// a hard timeout, resolves the log row, and parses the response. Request
// counts accrue for failures too; token usage is the pre-call estimate and
// accrues only for calls that returned.
func callClassifier(ctx context.Context, rt *Runtime, c Classifier, userID, runID, input string, expected, start int, phase string) sideResult {
	estimated := rt.Estimator.Estimate(c.Config.Provider, c.Config.Model, c.Config.Prompt+input)

	if _, err := rt.Log.LogRequest(ctx, ailog.RequestCommand{
		UserID:       userID,
		RunID:        runID,
		Function:     Function,
		RequestType:  phase,
		Provider:     c.Config.Provider,
		Model:        c.Config.Model,
		Prompt:       c.Config.Prompt,
		Input:        input,
		InputTokens:  estimated,
		OutputTokens: c.Config.OutputTokensPerComment * expected,
		Temperature:  c.Config.Temperature,
	}); err != nil {
		return sideResult{Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, rt.Config.CallTimeoutDuration())
	defer cancel()

	res, err := c.Caller.Call(callCtx, llm.Request{
		System:      c.Config.Prompt,
		Input:       input,
		Temperature: c.Config.Temperature,
		MaxTokens:   c.Config.OutputTokensPerComment * expected,
	})

	rt.Limiter.RecordRequest(c.Config.Provider, c.Config.Model, 1)

	if err != nil {
		rt.Logger.Warn("classifier call failed",
			"run", runID,
			"phase", phase,
			"provider", c.Config.Provider,
			"model", c.Config.Model,
			"error", err,
		)
		if _, logErr := rt.Log.LogResponse(ctx, ailog.ResponseCommand{
			UserID:      userID,
			RunID:       runID,
			Function:    Function,
			RequestType: phase,
			Input:       input,
			Status:      ailog.StatusError,
			Error:       err.Error(),
		}); logErr != nil {
			rt.Logger.Warn("failed to log classifier error", "run", runID, "error", logErr)
		}
		return sideResult{Err: err}
	}

	rt.Limiter.RecordUsage(c.Config.Provider, c.Config.Model, estimated)

	if _, err := rt.Log.LogResponse(ctx, ailog.ResponseCommand{
		UserID:       userID,
		RunID:        runID,
		Function:     Function,
		RequestType:  phase,
		Input:        input,
		Status:       ailog.StatusSuccess,
		Response:     res.Content,
		OutputTokens: res.OutputTokens,
	}); err != nil {
		rt.Logger.Warn("failed to log classifier response", "run", runID, "error", err)
	}

	return sideResult{
		Verdicts: verdicts.Parse(res.Content, expected, phase, start+1, rt.Logger),
	}
}

// zipComment applies one comment's pair of verdicts. When both sides
// settled successfully, classifier A's flags are the provisional default
// and a disagreement on either flag marks the comment for adjudication.
// When only one side settled, its verdict is authoritative and no
// adjudication is possible.
func zipComment(c Comment, a, b *verdicts.Verdict) Comment {
	switch {
	case a != nil && b != nil:
		c.Concerning = a.Concerning
		c.Identifiable = a.Identifiable
		c.NeedsAdjudication = a.Concerning != b.Concerning || a.Identifiable != b.Identifiable
		c.Trace = &Trace{ScanA: a, ScanB: b}
	case a != nil:
		c.Concerning = a.Concerning
		c.Identifiable = a.Identifiable
		c.Trace = &Trace{ScanA: a}
	case b != nil:
		c.Concerning = b.Concerning
		c.Identifiable = b.Identifiable
		c.Trace = &Trace{ScanB: b}
	}
	c.IsAdjudicated = false
	return c
}

// batchInput serializes a batch into the numbered-line shape the
// classifier prompts expect. Indexing restarts at 1 per batch; global
// positions are reconciled by the parser's start index.
func batchInput(batch []Comment) string {
	var b strings.Builder
	for i, c := range batch {
		fmt.Fprintf(&b, "%d: %s\n", i+1, c.OriginalText)
	}
	return b.String()
}

func verdictAt(r sideResult, i int) *verdicts.Verdict {
	if r.Err != nil || i >= len(r.Verdicts) {
		return nil
	}
	return &r.Verdicts[i]
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
