package scan_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecheck/sift/internal/adjudicate"
	"github.com/pulsecheck/sift/internal/ailog"
	"github.com/pulsecheck/sift/internal/config"
	"github.com/pulsecheck/sift/internal/credits"
	"github.com/pulsecheck/sift/internal/runs"
	"github.com/pulsecheck/sift/internal/scan"
	"github.com/pulsecheck/sift/pkg/llm"
	"github.com/pulsecheck/sift/pkg/middleware"
	"github.com/pulsecheck/sift/pkg/pagination"
	"github.com/pulsecheck/sift/pkg/ratelimit"
	"github.com/pulsecheck/sift/pkg/tokens"
	"github.com/pulsecheck/sift/pkg/verdicts"
)

// fakeCaller scripts one provider backend. Setting err makes every call
// fail.
type fakeCaller struct {
	provider string
	model    string
	respond  func(input string) string
	err      error
}

func (c *fakeCaller) Call(_ context.Context, req llm.Request) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.respond(req.Input), OutputTokens: 10}, nil
}

func (c *fakeCaller) Provider() string { return c.provider }
func (c *fakeCaller) Model() string    { return c.model }

// classifierResponder builds a JSON verdict array from the numbered-line
// batch input, flagging each comment per flagFn.
func classifierResponder(flagFn func(text string) (concerning, identifiable bool)) func(string) string {
	return func(input string) string {
		var results []verdicts.Verdict
		for i, line := range strings.Split(strings.TrimRight(input, "\n"), "\n") {
			_, text, ok := strings.Cut(line, ": ")
			if !ok {
				continue
			}
			concerning, identifiable := flagFn(text)
			results = append(results, verdicts.Verdict{
				Index:        i + 1,
				Concerning:   concerning,
				Identifiable: identifiable,
			})
		}
		data, _ := json.Marshal(results)
		return string(data)
	}
}

// adjudicatorResponder rules every case identifiable.
func adjudicatorResponder(input string) string {
	var results []verdicts.Verdict
	for i, line := range strings.Split(input, "\n") {
		if !strings.HasPrefix(line, "#") {
			continue
		}
		results = append(results, verdicts.Verdict{
			Index:        i + 1,
			Identifiable: true,
			Reasoning:    "ruled identifiable",
		})
	}
	data, _ := json.Marshal(results)
	return string(data)
}

// fakeLog keeps entries in memory and resolves responses the way the
// repository does: the latest pending entry matching run, function,
// request type, and input, falling back to run and function alone.
type fakeLog struct {
	mu       sync.Mutex
	requests []ailog.RequestCommand
	entries  []*ailog.Entry
}

func newFakeLog() *fakeLog {
	return &fakeLog{}
}

func (l *fakeLog) Handler() *ailog.Handler { return nil }

func (l *fakeLog) List(context.Context, pagination.PageRequest, ailog.Filters) (*pagination.PageResult[ailog.Entry], error) {
	return nil, nil
}

func (l *fakeLog) Find(context.Context, uuid.UUID) (*ailog.Entry, error) {
	return nil, ailog.ErrNotFound
}

func (l *fakeLog) LogRequest(_ context.Context, cmd ailog.RequestCommand) (*ailog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, cmd)
	e := &ailog.Entry{
		ID:          uuid.New(),
		UserID:      cmd.UserID,
		RunID:       cmd.RunID,
		Function:    cmd.Function,
		RequestType: cmd.RequestType,
		Input:       cmd.Input,
		Status:      ailog.StatusPending,
		RequestedAt: time.Now(),
	}
	l.entries = append(l.entries, e)
	return e, nil
}

func (l *fakeLog) LogResponse(_ context.Context, cmd ailog.ResponseCommand) (*ailog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.pending(cmd, func(e *ailog.Entry) bool {
		return e.RequestType == cmd.RequestType && e.Input == cmd.Input
	})
	if e == nil {
		e = l.pending(cmd, func(*ailog.Entry) bool { return true })
	}
	if e == nil {
		return nil, ailog.ErrNoPending
	}

	e.Status = cmd.Status
	if cmd.Response != "" {
		response := cmd.Response
		e.Response = &response
	}
	if cmd.Error != "" {
		callErr := cmd.Error
		e.Error = &callErr
	}
	return e, nil
}

func (l *fakeLog) pending(cmd ailog.ResponseCommand, match func(*ailog.Entry) bool) *ailog.Entry {
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.RunID == cmd.RunID && e.Function == cmd.Function && e.Status == ailog.StatusPending && match(e) {
			return e
		}
	}
	return nil
}

func (l *fakeLog) SuccessfulResponse(_ context.Context, runID, function, input string) (*ailog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.RunID == runID && e.Function == function && e.Input == input && e.Status == ailog.StatusSuccess {
			return e, nil
		}
	}
	return nil, ailog.ErrNotFound
}

func (l *fakeLog) entryFor(requestType string) *ailog.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.RequestType == requestType {
			return e
		}
	}
	return nil
}

func (l *fakeLog) HasPendingCall(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (l *fakeLog) phases() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var phases []string
	for _, r := range l.requests {
		phases = append(phases, r.RequestType)
	}
	return phases
}

type fakeRuns struct {
	markers map[string]*runs.Run
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{markers: make(map[string]*runs.Run)}
}

func (r *fakeRuns) Find(_ context.Context, runID string) (*runs.Run, error) {
	run, ok := r.markers[runID]
	if !ok {
		return nil, runs.ErrNotFound
	}
	return run, nil
}

func (r *fakeRuns) IsActive(_ context.Context, runID string, staleAfter time.Duration) (bool, error) {
	run, ok := r.markers[runID]
	if !ok || run.Status != runs.StatusInProgress {
		return false, nil
	}
	return time.Since(run.UpdatedAt) < staleAfter, nil
}

func (r *fakeRuns) IsCompleted(_ context.Context, runID string) (bool, error) {
	run, ok := r.markers[runID]
	return ok && run.Status == runs.StatusCompleted, nil
}

func (r *fakeRuns) MarkInProgress(_ context.Context, runID, userID string) error {
	r.markers[runID] = &runs.Run{
		RunID:     runID,
		UserID:    userID,
		Status:    runs.StatusInProgress,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return nil
}

func (r *fakeRuns) MarkCompleted(_ context.Context, runID string) error {
	run, ok := r.markers[runID]
	if !ok {
		return runs.ErrNotFound
	}
	run.Status = runs.StatusCompleted
	return nil
}

func (r *fakeRuns) ClearInProgress(_ context.Context, runID string) error {
	if run, ok := r.markers[runID]; ok && run.Status == runs.StatusInProgress {
		delete(r.markers, runID)
	}
	return nil
}

type fakeCredits struct {
	balances map[string]int
}

func (c *fakeCredits) Balance(_ context.Context, userID string) (int, error) {
	return c.balances[userID], nil
}

func (c *fakeCredits) Deduct(_ context.Context, userID string, amount int) (int, error) {
	if c.balances[userID] < amount {
		return 0, credits.ErrInsufficient
	}
	c.balances[userID] -= amount
	return c.balances[userID], nil
}

func (c *fakeCredits) Grant(_ context.Context, userID string, amount int) (int, error) {
	c.balances[userID] += amount
	return c.balances[userID], nil
}

type fakeStore struct {
	mu       sync.Mutex
	byRun    map[string]map[string]scan.Comment
	dropOnce string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byRun: make(map[string]map[string]scan.Comment)}
}

func (s *fakeStore) SaveResults(_ context.Context, runID string, comments []scan.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byRun[runID]
	if !ok {
		stored = make(map[string]scan.Comment)
		s.byRun[runID] = stored
	}
	for _, c := range comments {
		if c.ID == s.dropOnce {
			s.dropOnce = ""
			continue
		}
		stored[c.ID] = c
	}
	return nil
}

func (s *fakeStore) ResultsForRun(_ context.Context, runID string) ([]scan.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []scan.Comment
	for _, c := range s.byRun[runID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalRow < out[j].OriginalRow })
	return out, nil
}

func (s *fakeStore) CountForRun(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byRun[runID]), nil
}

type fixture struct {
	system  scan.System
	log     *fakeLog
	runs    *fakeRuns
	credits *fakeCredits
	store   *fakeStore
	cfg     *config.ScanConfig
	callerA *fakeCaller
	callerB *fakeCaller
	limiter *ratelimit.Limiter
}

// newFixture wires the scan system against in-memory collaborators.
// Classifier A flags comments containing "threat"; classifier B also
// flags comments containing "name", so those disagree.
func newFixture(t *testing.T, mutate func(*config.ScanConfig)) *fixture {
	t.Helper()

	cfg := config.ScanConfig{
		ClassifierA: config.ClassifierConfig{
			Config:                 llm.Config{Provider: "test", Model: "model-a"},
			Prompt:                 "classify",
			OutputTokensPerComment: 30,
		},
		ClassifierB: config.ClassifierConfig{
			Config:                 llm.Config{Provider: "test", Model: "model-b"},
			Prompt:                 "classify",
			OutputTokensPerComment: 30,
		},
		MaxBatchesPerRequest:  10,
		MaxRunTime:            "25s",
		CallTimeout:           "5s",
		SmallDatasetLimit:     50,
		TailRetryLimit:        100,
		TailRetryBatchSize:    10,
		AdjudicationBatchSize: 10,
		AdjudicationDelay:     "1ms",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := newFakeLog()
	runMarkers := newFakeRuns()
	balances := &fakeCredits{balances: map[string]int{"user-1": 100}}
	store := newFakeStore()

	callerA := &fakeCaller{
		provider: "test", model: "model-a",
		respond: classifierResponder(func(text string) (bool, bool) {
			return strings.Contains(text, "threat"), false
		}),
	}
	callerB := &fakeCaller{
		provider: "test", model: "model-b",
		respond: classifierResponder(func(text string) (bool, bool) {
			return strings.Contains(text, "threat"), strings.Contains(text, "name")
		}),
	}
	adjudicator := &fakeCaller{provider: "test", model: "model-c", respond: adjudicatorResponder}
	limiter := ratelimit.New()

	rt := &scan.Runtime{
		Config:      cfg,
		Log:         log,
		Runs:        runMarkers,
		Credits:     balances,
		Store:       store,
		Estimator:   tokens.New(),
		Limiter:     limiter,
		ClassifierA: scan.Classifier{Caller: callerA, Config: cfg.ClassifierA, Phase: scan.PhaseScanA},
		ClassifierB: scan.Classifier{Caller: callerB, Config: cfg.ClassifierB, Phase: scan.PhaseScanB},
		Dispatcher: adjudicate.NewDispatcher(
			adjudicator, cfg.Adjudicator, log, logger,
			cfg.AdjudicationBatchSize, cfg.AdjudicationDelayDuration(), cfg.CallTimeoutDuration(),
		),
		Logger: logger,
	}

	return &fixture{
		system:  scan.NewSystem(rt),
		log:     log,
		runs:    runMarkers,
		credits: balances,
		store:   store,
		cfg:     &cfg,
		callerA: callerA,
		callerB: callerB,
		limiter: limiter,
	}
}

func identity() middleware.Identity {
	return middleware.Identity{Subject: "user-1", Email: "user@example.com"}
}

func runComments() []scan.Comment {
	return []scan.Comment{
		{ID: "c-1", OriginalRow: 1, OriginalText: "great team culture"},
		{ID: "c-2", OriginalRow: 2, OriginalText: "I will threat my way out"},
		{ID: "c-3", OriginalRow: 3, OriginalText: "the name in accounting yells"},
	}
}

func TestExecuteFullRun(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-1",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.HasMore {
		t.Error("HasMore = true, want full run in one invocation")
	}
	if len(res.Comments) != 3 {
		t.Fatalf("len(Comments) = %d, want 3", len(res.Comments))
	}
	if !res.AdjudicationStarted || !res.AdjudicationCompleted {
		t.Errorf("adjudication started/completed = %t/%t, want true/true",
			res.AdjudicationStarted, res.AdjudicationCompleted)
	}

	// Both classifiers agree on the threat; no adjudication needed there.
	if !res.Comments[1].Concerning || res.Comments[1].IsAdjudicated {
		t.Errorf("Comments[1] = %+v, want agreed concerning", res.Comments[1])
	}

	// The identifiable disagreement goes to the adjudicator, which overrules
	// classifier A's provisional clean verdict.
	if !res.Comments[2].IsAdjudicated || !res.Comments[2].Identifiable {
		t.Errorf("Comments[2] = %+v, want adjudicated identifiable", res.Comments[2])
	}
	if res.Comments[2].Reasoning != "ruled identifiable" {
		t.Errorf("Comments[2].Reasoning = %q", res.Comments[2].Reasoning)
	}

	if completed, _ := f.runs.IsCompleted(context.Background(), "run-1"); !completed {
		t.Error("run not marked completed")
	}
	if res.CreditInfo == nil || res.CreditInfo.Deducted != 3 || res.CreditInfo.Remaining != 97 {
		t.Errorf("CreditInfo = %+v, want 3 deducted, 97 remaining", res.CreditInfo)
	}
}

func TestExecuteCheckpointResume(t *testing.T) {
	f := newFixture(t, func(cfg *config.ScanConfig) {
		// 60 output tokens at 30 per comment caps each batch at two
		// comments; one batch per invocation forces a checkpoint.
		cfg.ClassifierA.Limits.OutputTokenLimit = 60
		cfg.ClassifierB.Limits.OutputTokenLimit = 60
		cfg.MaxBatchesPerRequest = 1
	})

	comments := []scan.Comment{
		{ID: "c-1", OriginalRow: 1, OriginalText: "alpha"},
		{ID: "c-2", OriginalRow: 2, OriginalText: "bravo"},
		{ID: "c-3", OriginalRow: 3, OriginalText: "charlie"},
		{ID: "c-4", OriginalRow: 4, OriginalText: "delta"},
	}

	first, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  comments,
		ScanRunID: "run-2",
	})
	if err != nil {
		t.Fatalf("first invocation failed: %v", err)
	}

	if !first.HasMore || first.NextBatchStart != 2 {
		t.Fatalf("first = hasMore %t next %d, want checkpoint at 2", first.HasMore, first.NextBatchStart)
	}
	if len(first.Comments) != 2 {
		t.Errorf("len(first.Comments) = %d, want 2", len(first.Comments))
	}
	// The marker is released between invocations, not completed.
	if completed, _ := f.runs.IsCompleted(context.Background(), "run-2"); completed {
		t.Error("run marked completed with work remaining")
	}

	second, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:          comments,
		ScanRunID:         "run-2",
		BatchStart:        first.NextBatchStart,
		UseCachedAnalysis: true,
	})
	if err != nil {
		t.Fatalf("second invocation failed: %v", err)
	}

	if second.HasMore {
		t.Error("second.HasMore = true, want run covered")
	}
	if len(second.Comments) != 2 {
		t.Errorf("len(second.Comments) = %d, want remaining 2", len(second.Comments))
	}
	if count, _ := f.store.CountForRun(context.Background(), "run-2"); count != 4 {
		t.Errorf("persisted = %d, want 4", count)
	}
	if completed, _ := f.runs.IsCompleted(context.Background(), "run-2"); !completed {
		t.Error("run not marked completed after final batch")
	}
}

func TestExecuteDuplicateRunIgnored(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.runs.MarkInProgress(context.Background(), "run-3", "user-1"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-3",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.Success == nil || !*res.Success {
		t.Error("duplicate submission response not success-shaped")
	}
	if len(res.Comments) != 0 {
		t.Errorf("len(Comments) = %d, want 0 for ignored duplicate", len(res.Comments))
	}
	if len(f.log.phases()) != 0 {
		t.Errorf("classifier calls = %d, want none for ignored duplicate", len(f.log.phases()))
	}
}

func TestExecuteCheckpointBypassesGuard(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.runs.MarkInProgress(context.Background(), "run-4", "user-1"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:          runComments(),
		ScanRunID:         "run-4",
		BatchStart:        0,
		UseCachedAnalysis: true,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if res.Success != nil {
		t.Error("checkpoint follow-up was treated as a duplicate submission")
	}
	if len(res.Comments) != 3 {
		t.Errorf("len(Comments) = %d, want 3", len(res.Comments))
	}
}

func TestExecuteInsufficientCredits(t *testing.T) {
	f := newFixture(t, nil)
	f.credits.balances["user-1"] = 1

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-5",
	})
	if err != nil {
		t.Fatalf("execute returned error %v, want success-shaped refusal", err)
	}

	if !res.InsufficientCredits {
		t.Fatal("InsufficientCredits = false, want true")
	}
	if res.Success == nil || *res.Success {
		t.Error("Success not set false")
	}
	if res.RequiredCredits != 3 || res.AvailableCredits != 1 {
		t.Errorf("credits = %d/%d, want 3 required, 1 available", res.RequiredCredits, res.AvailableCredits)
	}
	if len(f.log.phases()) != 0 {
		t.Error("classifiers invoked despite insufficient credits")
	}
	// The marker claimed by the guard is released.
	if _, err := f.runs.Find(context.Background(), "run-5"); !errors.Is(err, runs.ErrNotFound) {
		t.Errorf("marker lookup = %v, want cleared", err)
	}
}

func TestExecuteDemoSkipsCredits(t *testing.T) {
	f := newFixture(t, nil)
	f.credits.balances["user-1"] = 0

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:   runComments(),
		ScanRunID:  "run-6",
		IsDemoScan: true,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.InsufficientCredits {
		t.Error("demo scan rejected for credits")
	}
	if res.CreditInfo != nil {
		t.Errorf("CreditInfo = %+v, want none for demo scan", res.CreditInfo)
	}
	if f.credits.balances["user-1"] != 0 {
		t.Errorf("balance = %d, want untouched", f.credits.balances["user-1"])
	}
}

func TestExecuteTailRetry(t *testing.T) {
	f := newFixture(t, nil)
	// Simulate a batch that under-persists one comment.
	f.store.dropOnce = "c-3"

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-7",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if count, _ := f.store.CountForRun(context.Background(), "run-7"); count != 3 {
		t.Errorf("persisted = %d, want 3 after tail retry", count)
	}
	if len(res.Comments) != 3 {
		t.Errorf("len(Comments) = %d, want 3", len(res.Comments))
	}

	retried := false
	for _, phase := range f.log.phases() {
		if phase == scan.PhaseTailRetry {
			retried = true
		}
	}
	if !retried {
		t.Error("no tail retry call logged")
	}
}

func TestExecuteTailRetryMidRunHole(t *testing.T) {
	f := newFixture(t, nil)
	// A hole in the middle of the run, not at the tail.
	f.store.dropOnce = "c-2"

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-10",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if count, _ := f.store.CountForRun(context.Background(), "run-10"); count != 3 {
		t.Errorf("persisted = %d, want 3 after tail retry", count)
	}

	persisted, _ := f.store.ResultsForRun(context.Background(), "run-10")
	found := false
	for _, c := range persisted {
		if c.ID == "c-2" {
			found = true
			if !c.Concerning {
				t.Errorf("retried c-2 = %+v, want concerning", c)
			}
		}
	}
	if !found {
		t.Error("mid-run hole c-2 never retried")
	}
	if len(res.Comments) != 3 {
		t.Errorf("len(Comments) = %d, want 3", len(res.Comments))
	}
}

func TestExecuteClassifierRowsResolveIndependently(t *testing.T) {
	f := newFixture(t, nil)
	f.callerA.err = errors.New("provider unavailable")

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-11",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// The surviving side is authoritative.
	if !res.Comments[1].Concerning {
		t.Errorf("Comments[1] = %+v, want concerning from surviving classifier", res.Comments[1])
	}

	// Both sides log pending rows for the same run, function, and input;
	// each outcome must land on its own side's row.
	a := f.log.entryFor(scan.PhaseScanA)
	if a == nil || a.Status != ailog.StatusError {
		t.Fatalf("scan_a entry = %+v, want error status", a)
	}
	if a.Error == nil || !strings.Contains(*a.Error, "provider unavailable") {
		t.Errorf("scan_a entry error = %v, want the call failure", a.Error)
	}

	b := f.log.entryFor(scan.PhaseScanB)
	if b == nil || b.Status != ailog.StatusSuccess {
		t.Fatalf("scan_b entry = %+v, want success status", b)
	}
	if b.Response == nil {
		t.Error("scan_b entry carries no response")
	}
	if b.Error != nil {
		t.Errorf("scan_b entry error = %q, want none", *b.Error)
	}
}

func TestExecuteFailedCallKeepsTokenQuota(t *testing.T) {
	f := newFixture(t, nil)
	f.callerA.err = errors.New("provider unavailable")

	if _, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-12",
	}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// The failed side counts against the request window only.
	usedA, requestsA := f.limiter.WindowUsage("test", "model-a")
	if usedA != 0 {
		t.Errorf("model-a window tokens = %d, want 0 for failed call", usedA)
	}
	if requestsA != 1 {
		t.Errorf("model-a window requests = %d, want 1", requestsA)
	}

	usedB, requestsB := f.limiter.WindowUsage("test", "model-b")
	if usedB == 0 {
		t.Error("model-b window tokens = 0, want the settled call's estimate")
	}
	if requestsB != 1 {
		t.Errorf("model-b window requests = %d, want 1", requestsB)
	}
}

func TestExecuteValidation(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments: runComments(),
	}); !errors.Is(err, scan.ErrInvalidRequest) {
		t.Errorf("missing run id = %v, want ErrInvalidRequest", err)
	}

	if _, err := f.system.Execute(context.Background(), identity(), scan.Request{
		ScanRunID: "run-8",
	}); !errors.Is(err, scan.ErrInvalidRequest) {
		t.Errorf("empty comments = %v, want ErrInvalidRequest", err)
	}
}

func TestExecuteStatusOnly(t *testing.T) {
	f := newFixture(t, nil)

	// Unknown run yields not found.
	if _, err := f.system.Execute(context.Background(), identity(), scan.Request{
		ScanRunID:       "run-9",
		CheckStatusOnly: true,
	}); !errors.Is(err, scan.ErrRunNotFound) {
		t.Fatalf("status for unknown run = %v, want ErrRunNotFound", err)
	}

	// Complete a run, then check its reported status.
	if _, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: "run-9",
	}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	status, err := f.system.Execute(context.Background(), identity(), scan.Request{
		ScanRunID:       "run-9",
		CheckStatusOnly: true,
	})
	if err != nil {
		t.Fatalf("status check failed: %v", err)
	}

	if status.HasMore {
		t.Error("status.HasMore = true for completed run")
	}
	if !status.AdjudicationCompleted {
		t.Error("status.AdjudicationCompleted = false for fully adjudicated run")
	}
	if len(status.Comments) != 3 || status.NextBatchStart != 3 {
		t.Errorf("status = %d comments, next %d, want 3/3", len(status.Comments), status.NextBatchStart)
	}
}

func TestExecuteSummaryCounts(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.system.Execute(context.Background(), identity(), scan.Request{
		Comments:  runComments(),
		ScanRunID: fmt.Sprintf("run-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.Summary.Total != 3 {
		t.Errorf("Summary.Total = %d, want 3", res.Summary.Total)
	}
	if res.Summary.Concerning != 1 {
		t.Errorf("Summary.Concerning = %d, want 1", res.Summary.Concerning)
	}
	if res.Summary.Identifiable != 1 {
		t.Errorf("Summary.Identifiable = %d, want 1", res.Summary.Identifiable)
	}
}
