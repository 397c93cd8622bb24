package scan

import (
	"context"
	"fmt"
	"time"

	gaoconfig "github.com/JaimeStill/go-agents-orchestration/pkg/config"
	"github.com/JaimeStill/go-agents-orchestration/pkg/state"

	"github.com/pulsecheck/sift/internal/adjudicate"
	"github.com/pulsecheck/sift/pkg/batch"
	"github.com/pulsecheck/sift/pkg/middleware"
)

const keyExec = "exec"

// execState is the mutable state threaded through one invocation's pass
// over the orchestration graph.
type execState struct {
	req      Request
	identity middleware.Identity
	started  time.Time

	marked     bool
	batchSize  int
	results    []Comment
	all        []Comment
	next       int
	hasMore    bool
	underCount bool

	halted   bool
	response *Response

	adjRun                bool
	adjudicationStarted   bool
	adjudicationCompleted bool
	adjudicationDeferred  bool
	creditInfo            *CreditInfo
}

func (st *execState) halt(res *Response) {
	st.halted = true
	st.response = res
}

// execute runs one invocation of the scan pipeline: duplicate-run guard,
// credit check, batch planning, the batch loop, the tail retry, and the
// adjudication gate, in graph order.
func execute(ctx context.Context, rt *Runtime, identity middleware.Identity, req Request) (*Response, error) {
	graph, err := buildGraph(rt)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	st := &execState{
		req:      req,
		identity: identity,
		started:  time.Now(),
		next:     req.BatchStart,
	}

	initialState := state.New(nil).Set(keyExec, st)

	finalState, err := graph.Execute(ctx, initialState)
	if err != nil {
		// The invocation marker must not outlive a failed invocation.
		if st.marked {
			if clearErr := rt.Runs.ClearInProgress(context.WithoutCancel(ctx), req.ScanRunID); clearErr != nil {
				rt.Logger.Warn("failed to clear run marker", "run", req.ScanRunID, "error", clearErr)
			}
		}
		return nil, fmt.Errorf("execute graph: %w", err)
	}

	return extractResponse(finalState)
}

func buildGraph(rt *Runtime) (state.StateGraph, error) {
	cfg := gaoconfig.DefaultGraphConfig("comment-scan")
	cfg.Observer = "noop"

	graph, err := state.NewGraph(cfg)
	if err != nil {
		return nil, err
	}

	if err := graph.AddNode("guard", guardNode(rt)); err != nil {
		return nil, err
	}
	if err := graph.AddNode("credits", creditsNode(rt)); err != nil {
		return nil, err
	}
	if err := graph.AddNode("plan", planNode(rt)); err != nil {
		return nil, err
	}
	if err := graph.AddNode("batches", batchesNode(rt)); err != nil {
		return nil, err
	}
	if err := graph.AddNode("tail", tailNode(rt)); err != nil {
		return nil, err
	}
	if err := graph.AddNode("gate", gateNode(rt)); err != nil {
		return nil, err
	}
	if err := graph.AddNode("adjudicate", adjudicateNode(rt)); err != nil {
		return nil, err
	}
	if err := graph.AddNode("finish", finishNode(rt)); err != nil {
		return nil, err
	}

	// guard → finish (duplicate run), guard → credits otherwise
	if err := graph.AddEdge("guard", "finish", haltedCond); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("guard", "credits", state.Not(haltedCond)); err != nil {
		return nil, err
	}

	// credits → finish (insufficient), credits → plan otherwise
	if err := graph.AddEdge("credits", "finish", haltedCond); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("credits", "plan", state.Not(haltedCond)); err != nil {
		return nil, err
	}

	if err := graph.AddEdge("plan", "batches", nil); err != nil {
		return nil, err
	}

	// batches → tail (under-count detected), batches → gate otherwise
	if err := graph.AddEdge("batches", "tail", underCountCond); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("batches", "gate", state.Not(underCountCond)); err != nil {
		return nil, err
	}

	if err := graph.AddEdge("tail", "gate", nil); err != nil {
		return nil, err
	}

	// gate → adjudicate (disagreements ready), gate → finish otherwise
	if err := graph.AddEdge("gate", "adjudicate", adjudicateCond); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("gate", "finish", state.Not(adjudicateCond)); err != nil {
		return nil, err
	}

	if err := graph.AddEdge("adjudicate", "finish", nil); err != nil {
		return nil, err
	}

	if err := graph.SetEntryPoint("guard"); err != nil {
		return nil, err
	}
	if err := graph.SetExitPoint("finish"); err != nil {
		return nil, err
	}

	return graph, nil
}

func haltedCond(s state.State) bool     { return mustExec(s).halted }
func underCountCond(s state.State) bool { return mustExec(s).underCount }
func adjudicateCond(s state.State) bool { return mustExec(s).adjRun }

// guardNode rejects duplicate initial submissions for a run already in
// progress or completed, then claims the run for this invocation.
// Checkpoint follow-ups bypass the guard since they are expected to recur.
func guardNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)
		runID := st.req.ScanRunID

		if st.req.Initial() {
			staleAfter := 2 * rt.Config.MaxRunTimeDuration()

			active, err := rt.Runs.IsActive(ctx, runID, staleAfter)
			if err != nil {
				return s, fmt.Errorf("guard: %w", err)
			}
			completed, err := rt.Runs.IsCompleted(ctx, runID)
			if err != nil {
				return s, fmt.Errorf("guard: %w", err)
			}

			if active || completed {
				rt.Logger.Info("duplicate run submission ignored", "run", runID)
				st.halt(emptySuccess(st.req))
				return s, nil
			}
		}

		if err := rt.Runs.MarkInProgress(ctx, runID, st.identity.Subject); err != nil {
			return s, fmt.Errorf("guard: %w", err)
		}
		st.marked = true

		return s, nil
	})
}

// creditsNode verifies the caller can cover one credit per comment.
// Demo runs are exempt. Insufficiency is a distinguished success-shaped
// response, not an error, so the client can render a specific dialog.
func creditsNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)

		if st.req.IsDemoScan {
			return s, nil
		}

		required := len(st.req.Comments)
		available, err := rt.Credits.Balance(ctx, st.identity.Subject)
		if err != nil {
			return s, fmt.Errorf("credits: %w", err)
		}

		if available < required {
			rt.Logger.Info("insufficient credits",
				"run", st.req.ScanRunID,
				"required", required,
				"available", available,
			)
			success := false
			st.halt(&Response{
				Comments:            []Comment{},
				TotalComments:       required,
				Error:               "insufficient credits",
				InsufficientCredits: true,
				AvailableCredits:    available,
				RequiredCredits:     required,
				Success:             &success,
			})
		}

		return s, nil
	})
}

// planNode sizes batches against both classifiers and takes the minimum
// so one synchronized batch boundary serves both parallel calls. Small
// surveys that fit entirely within both classifiers' limits collapse to a
// single batch.
func planNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)

		remaining := commentTexts(st.req.Comments[min(st.req.BatchStart, len(st.req.Comments)):])
		sizeA := rt.sizeFor(rt.ClassifierA, PhaseScanA, remaining)
		sizeB := rt.sizeFor(rt.ClassifierB, PhaseScanB, remaining)
		st.batchSize = max(min(sizeA, sizeB), 1)

		if len(st.req.Comments) <= rt.Config.SmallDatasetLimit {
			all := commentTexts(st.req.Comments)
			if batch.FitsEntirely(rt.sizeInput(rt.ClassifierA, PhaseScanA, all)) &&
				batch.FitsEntirely(rt.sizeInput(rt.ClassifierB, PhaseScanB, all)) {
				st.batchSize = len(st.req.Comments)
			}
		}

		rt.Logger.Info("batch plan computed",
			"run", st.req.ScanRunID,
			"size_a", sizeA,
			"size_b", sizeB,
			"batch_size", st.batchSize,
		)

		return s, nil
	})
}

// batchesNode processes batches in offset order until the per-invocation
// batch cap, the elapsed-time ceiling, or the end of the comment list.
// Stopping early is a checkpoint, not a failure.
func batchesNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)
		runID := st.req.ScanRunID
		total := len(st.req.Comments)

		maxBatches := st.req.MaxBatchesPerRequest
		if maxBatches <= 0 {
			maxBatches = rt.Config.MaxBatchesPerRequest
		}

		maxRun := rt.Config.MaxRunTimeDuration()
		if st.req.MaxRunMs > 0 {
			maxRun = time.Duration(st.req.MaxRunMs) * time.Millisecond
		}
		deadline := st.started.Add(maxRun)

		processed := 0
		for st.next < total {
			if processed >= maxBatches || time.Now().After(deadline) {
				break
			}

			end := min(st.next+st.batchSize, total)
			results, err := processBatch(
				ctx, rt,
				st.identity.Subject, runID,
				st.req.Comments[st.next:end], st.next,
				PhaseScanA, PhaseScanB,
			)
			if err != nil {
				return s, fmt.Errorf("batch at %d: %w", st.next, err)
			}

			st.results = append(st.results, results...)
			st.next = end
			processed++
		}

		st.hasMore = st.next < total

		if !st.hasMore {
			count, err := rt.Store.CountForRun(ctx, runID)
			if err != nil {
				return s, fmt.Errorf("count results: %w", err)
			}
			missing := total - count
			st.underCount = missing > 0 && missing <= rt.Config.TailRetryLimit
		}

		return s, nil
	})
}

// tailNode retries once, with a conservative fixed batch size, the
// comments whose ids never reached the store. A classifier batch
// occasionally under-returns without erroring; deriving the retry set
// from the persisted results covers a hole anywhere in the run, not just
// a short tail.
func tailNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)
		runID := st.req.ScanRunID

		persisted, err := rt.Store.ResultsForRun(ctx, runID)
		if err != nil {
			return s, fmt.Errorf("tail retry: %w", err)
		}
		stored := make(map[string]struct{}, len(persisted))
		for _, c := range persisted {
			stored[c.ID] = struct{}{}
		}

		var missing []Comment
		var positions []int
		for i, c := range st.req.Comments {
			if _, ok := stored[c.ID]; !ok {
				missing = append(missing, c)
				positions = append(positions, i)
			}
		}
		if len(missing) == 0 {
			return s, nil
		}

		rt.Logger.Warn("scan under-count detected, retrying missing comments",
			"run", runID,
			"expected", len(st.req.Comments),
			"missing", len(missing),
		)

		have := make(map[string]struct{}, len(st.results))
		for _, c := range st.results {
			have[c.ID] = struct{}{}
		}

		for start := 0; start < len(missing); start += rt.Config.TailRetryBatchSize {
			end := min(start+rt.Config.TailRetryBatchSize, len(missing))
			results, err := processBatch(
				ctx, rt,
				st.identity.Subject, runID,
				missing[start:end], positions[start],
				PhaseTailRetry, PhaseTailRetry,
			)
			if err != nil {
				rt.Logger.Warn("tail retry batch failed", "run", runID, "start", positions[start], "error", err)
				break
			}

			for _, c := range results {
				if _, ok := have[c.ID]; !ok {
					st.results = append(st.results, c)
					have[c.ID] = struct{}{}
				}
			}
		}

		return s, nil
	})
}

// gateNode decides whether adjudication may proceed: only once no batches
// remain and no sibling invocation for this run still has an unresolved
// call in flight. Pending sibling work defers adjudication to a later poll.
func gateNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)
		runID := st.req.ScanRunID

		if st.hasMore {
			return s, nil
		}

		if rt.Dispatcher == nil {
			st.adjudicationCompleted = true
			return s, nil
		}

		pendingSince := time.Now().Add(-2 * rt.Config.MaxRunTimeDuration())
		pending, err := rt.Log.HasPendingCall(ctx, runID, pendingSince)
		if err != nil {
			return s, fmt.Errorf("gate: %w", err)
		}
		if pending {
			rt.Logger.Info("adjudication deferred, sibling work pending", "run", runID)
			st.adjudicationDeferred = true
			return s, nil
		}

		all, err := rt.Store.ResultsForRun(ctx, runID)
		if err != nil {
			return s, fmt.Errorf("gate: %w", err)
		}
		st.all = all

		for _, c := range all {
			if c.NeedsAdjudication && !c.IsAdjudicated {
				st.adjRun = true
				return s, nil
			}
		}

		st.adjudicationCompleted = true
		return s, nil
	})
}

// adjudicateNode dispatches disagreement cases to the tie-breaking model
// and merges rulings back by comment id. A dispatcher failure leaves the
// provisional flags standing; the client polls again rather than erroring.
func adjudicateNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)
		runID := st.req.ScanRunID
		st.adjudicationStarted = true

		cases := disagreementCases(st.all)
		outcomes, err := rt.Dispatcher.Resolve(ctx, st.identity.Subject, runID, cases)
		if err != nil {
			rt.Logger.Warn("adjudication incomplete", "run", runID, "error", err)
		}

		changed := applyOutcomes(st.all, outcomes)
		applyOutcomes(st.results, outcomes)

		if len(changed) > 0 {
			if err := rt.Store.SaveResults(ctx, runID, changed); err != nil {
				return s, fmt.Errorf("adjudicate: %w", err)
			}
		}

		st.adjudicationCompleted = len(outcomes) == len(cases)
		return s, nil
	})
}

// finishNode releases the run marker, deducts credits for processed
// comments, and assembles the response.
func finishNode(rt *Runtime) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		st := mustExec(s)
		runID := st.req.ScanRunID

		if st.halted {
			if st.marked {
				if err := rt.Runs.ClearInProgress(ctx, runID); err != nil {
					rt.Logger.Warn("failed to clear run marker", "run", runID, "error", err)
				}
			}
			return s, nil
		}

		if st.hasMore {
			if err := rt.Runs.ClearInProgress(ctx, runID); err != nil {
				rt.Logger.Warn("failed to clear run marker", "run", runID, "error", err)
			}
		} else {
			if err := rt.Runs.MarkCompleted(ctx, runID); err != nil {
				rt.Logger.Warn("failed to mark run completed", "run", runID, "error", err)
			}
		}

		// Deduction failure is logged, never fails the scan.
		if !st.req.IsDemoScan && len(st.results) > 0 {
			remaining, err := rt.Credits.Deduct(ctx, st.identity.Subject, len(st.results))
			if err != nil {
				rt.Logger.Warn("credit deduction failed", "run", runID, "error", err)
			} else {
				st.creditInfo = &CreditInfo{Deducted: len(st.results), Remaining: remaining}
			}
		}

		st.response = &Response{
			Comments:              st.results,
			BatchStart:            st.req.BatchStart,
			BatchSize:             st.batchSize,
			HasMore:               st.hasMore,
			TotalComments:         len(st.req.Comments),
			Summary:               Summarize(st.results),
			TotalRunTimeMs:        time.Since(st.started).Milliseconds(),
			NextBatchStart:        st.next,
			AdjudicationStarted:   st.adjudicationStarted,
			AdjudicationCompleted: st.adjudicationCompleted,
			AdjudicationDeferred:  st.adjudicationDeferred,
			CreditInfo:            st.creditInfo,
		}

		return s, nil
	})
}

func (rt *Runtime) sizeInput(c Classifier, phase string, texts []string) batch.SizeInput {
	return batch.SizeInput{
		Phase:                  phase,
		Comments:               texts,
		Prompt:                 c.Config.Prompt,
		Limits:                 c.Config.Limits,
		SafetyMarginPercent:    rt.Config.SafetyMarginPercent,
		Provider:               c.Config.Provider,
		Model:                  c.Config.Model,
		OutputTokensPerComment: c.Config.OutputTokensPerComment,
		ParallelRequests:       2,
		Estimator:              rt.Estimator,
		Limiter:                rt.Limiter,
		Logger:                 rt.Logger,
	}
}

func (rt *Runtime) sizeFor(c Classifier, phase string, texts []string) int {
	return batch.ComputeSize(rt.sizeInput(c, phase, texts))
}

func commentTexts(comments []Comment) []string {
	texts := make([]string, len(comments))
	for i, c := range comments {
		texts[i] = c.OriginalText
	}
	return texts
}

// disagreementCases builds adjudication cases from the full persisted run
// picture, indexed by 1-based position.
func disagreementCases(all []Comment) []adjudicate.Case {
	var cases []adjudicate.Case
	for i, c := range all {
		if !c.NeedsAdjudication || c.IsAdjudicated {
			continue
		}

		cs := adjudicate.Case{
			ID:    c.ID,
			Text:  c.OriginalText,
			Row:   c.OriginalRow,
			Index: i + 1,
		}
		if c.Trace != nil && c.Trace.ScanA != nil {
			cs.A = *c.Trace.ScanA
		}
		if c.Trace != nil && c.Trace.ScanB != nil {
			cs.B = *c.Trace.ScanB
		}
		cases = append(cases, cs)
	}
	return cases
}

// applyOutcomes merges rulings onto comments by id, returning the changed
// subset.
func applyOutcomes(comments []Comment, outcomes map[string]adjudicate.Outcome) []Comment {
	var changed []Comment
	for i := range comments {
		o, ok := outcomes[comments[i].ID]
		if !ok {
			continue
		}

		comments[i].Concerning = o.Concerning
		comments[i].Identifiable = o.Identifiable
		comments[i].Reasoning = o.Reasoning
		comments[i].NeedsAdjudication = false
		comments[i].IsAdjudicated = true
		changed = append(changed, comments[i])
	}
	return changed
}

func emptySuccess(req Request) *Response {
	success := true
	return &Response{
		Comments:      []Comment{},
		BatchStart:    req.BatchStart,
		TotalComments: len(req.Comments),
		Success:       &success,
	}
}

func mustExec(s state.State) *execState {
	val, ok := s.Get(keyExec)
	if !ok {
		panic("orchestration state missing exec entry")
	}
	return val.(*execState)
}

func extractResponse(s state.State) (*Response, error) {
	st := mustExec(s)
	if st.response == nil {
		return nil, fmt.Errorf("orchestration completed without a response")
	}
	return st.response, nil
}
