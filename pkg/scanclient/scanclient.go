// Package scanclient drives the scan orchestrator's multi-call protocol:
// it issues the first call, follows checkpoint hints until the run is
// covered, polls for adjudication, and fans scanned comments out to
// post-processing. It is the programmatic equivalent of the browser-side
// aggregation loop.
package scanclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pulsecheck/sift/internal/scan"
)

// Aggregation defaults. The follow-up cap bounds worst-case runaway
// polling rather than expressing an expected batch count.
const (
	DefaultFollowUpLimit = 200
	DefaultPollLimit     = 30
	DefaultPollInterval  = 2 * time.Second
	DefaultDebounce      = time.Second
)

// Client aggregates one scan run across orchestrator invocations.
// A Client is single-flight: a second Run while one is active, or within
// the debounce window of the last start, is rejected.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *slog.Logger

	FollowUpLimit int
	PollLimit     int
	PollInterval  time.Duration
	Debounce      time.Duration

	flightMu  sync.Mutex
	inFlight  bool
	lastStart time.Time
}

// Result is the aggregated outcome of one run.
type Result struct {
	Comments              []scan.Comment
	Summary               scan.Summary
	CreditInfo            *scan.CreditInfo
	AdjudicationCompleted bool
	Calls                 int
}

// Run executes the full aggregation loop for one scan request.
func (c *Client) Run(ctx context.Context, req scan.Request) (*Result, error) {
	if err := c.claim(); err != nil {
		return nil, err
	}
	defer c.release()

	c.applyDefaults()

	res, err := c.invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.InsufficientCredits {
		return nil, &InsufficientCreditsError{
			Required:  res.RequiredCredits,
			Available: res.AvailableCredits,
		}
	}

	agg := newAccumulator()
	agg.add(res.Comments)

	result := &Result{CreditInfo: res.CreditInfo, Calls: 1}

	// Follow checkpoint hints. Re-requesting an already-requested offset
	// means the backend is not advancing; stop rather than loop.
	requested := map[int]struct{}{req.BatchStart: {}}
	for loops := 0; res.HasMore && loops < c.FollowUpLimit; loops++ {
		next := res.NextBatchStart
		if _, ok := requested[next]; ok {
			c.logger().Warn("checkpoint did not advance, stopping", "run", req.ScanRunID, "offset", next)
			break
		}
		requested[next] = struct{}{}

		follow := req
		follow.BatchStart = next
		follow.UseCachedAnalysis = true

		res, err = c.invoke(ctx, follow)
		if err != nil {
			return nil, err
		}

		agg.add(res.Comments)
		result.Calls++
		if res.CreditInfo != nil {
			result.CreditInfo = res.CreditInfo
		}
	}

	completed := res.AdjudicationCompleted
	if !completed {
		completed, err = c.awaitAdjudication(ctx, req, agg, result)
		if err != nil {
			return nil, err
		}
	}

	result.Comments = agg.ordered()
	result.Summary = scan.Summarize(result.Comments)
	result.AdjudicationCompleted = completed
	return result, nil
}

// awaitAdjudication polls run status at a fixed interval until the
// adjudicator finishes or the attempt cap is reached. The final attempt
// is a full scan call rather than a status check, nudging the backend to
// resume any deferred adjudication.
func (c *Client) awaitAdjudication(ctx context.Context, req scan.Request, agg *accumulator, result *Result) (bool, error) {
	for i := 0; i < c.PollLimit; i++ {
		if err := sleep(ctx, c.PollInterval); err != nil {
			return false, err
		}

		poll := req
		poll.CheckStatusOnly = true
		if i == c.PollLimit-1 {
			poll.CheckStatusOnly = false
			poll.UseCachedAnalysis = true
			poll.BatchStart = len(req.Comments)
		}

		res, err := c.invoke(ctx, poll)
		if err != nil {
			c.logger().Warn("adjudication poll failed", "run", req.ScanRunID, "error", err)
			continue
		}

		result.Calls++
		agg.add(res.Comments)

		if res.AdjudicationCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) invoke(ctx context.Context, req scan.Request) (*scan.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpRes, err := c.http().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpRes.Body.Close()

	if httpRes.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(httpRes.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrScanFailed, httpRes.StatusCode, payload)
	}

	var res scan.Response
	if err := json.NewDecoder(httpRes.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	return &res, nil
}

func (c *Client) claim() error {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	debounce := c.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	if c.inFlight {
		return ErrScanInFlight
	}
	if !c.lastStart.IsZero() && time.Since(c.lastStart) < debounce {
		return ErrScanInFlight
	}

	c.inFlight = true
	c.lastStart = time.Now()
	return nil
}

func (c *Client) release() {
	c.flightMu.Lock()
	c.inFlight = false
	c.flightMu.Unlock()
}

func (c *Client) applyDefaults() {
	if c.FollowUpLimit == 0 {
		c.FollowUpLimit = DefaultFollowUpLimit
	}
	if c.PollLimit == 0 {
		c.PollLimit = DefaultPollLimit
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// accumulator merges comments across calls by id, preserving first-seen
// order and letting later calls (adjudication updates) replace earlier
// entries.
type accumulator struct {
	byID  map[string]scan.Comment
	order map[string]int
	next  int
}

func newAccumulator() *accumulator {
	return &accumulator{
		byID:  make(map[string]scan.Comment),
		order: make(map[string]int),
	}
}

func (a *accumulator) add(comments []scan.Comment) {
	for _, c := range comments {
		if _, ok := a.order[c.ID]; !ok {
			a.order[c.ID] = a.next
			a.next++
		}
		a.byID[c.ID] = c
	}
}

func (a *accumulator) ordered() []scan.Comment {
	out := make([]scan.Comment, 0, len(a.byID))
	for id := range a.byID {
		out = append(out, a.byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return a.order[out[i].ID] < a.order[out[j].ID]
	})
	return out
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
