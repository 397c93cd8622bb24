package scanclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulsecheck/sift/internal/scan"
)

func scanServer(t *testing.T, handle func(req scan.Request, calls int) scan.Response) (*httptest.Server, *int) {
	t.Helper()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/scan" {
			t.Errorf("path = %s, want /api/scan", r.URL.Path)
		}

		var req scan.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		calls++
		if err := json.NewEncoder(w).Encode(handle(req, calls)); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testComments(n int) []scan.Comment {
	comments := make([]scan.Comment, n)
	for i := range comments {
		comments[i] = scan.Comment{
			ID:          "c-" + string(rune('1'+i)),
			OriginalRow: i + 1,
		}
	}
	return comments
}

func TestRunFollowsCheckpoints(t *testing.T) {
	comments := testComments(3)

	srv, calls := scanServer(t, func(req scan.Request, call int) scan.Response {
		switch req.BatchStart {
		case 0:
			if req.UseCachedAnalysis {
				t.Error("initial request marked as cached")
			}
			return scan.Response{
				Comments:       comments[:2],
				HasMore:        true,
				NextBatchStart: 2,
				TotalComments:  3,
			}
		case 2:
			if !req.UseCachedAnalysis {
				t.Error("follow-up request not marked as cached")
			}
			return scan.Response{
				Comments:              comments[2:],
				TotalComments:         3,
				AdjudicationCompleted: true,
			}
		default:
			t.Errorf("unexpected batch start %d", req.BatchStart)
			return scan.Response{}
		}
	})

	c := &Client{BaseURL: srv.URL, Debounce: time.Millisecond}
	result, err := c.Run(context.Background(), scan.Request{
		Comments:  comments,
		ScanRunID: "run-1",
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if *calls != 2 || result.Calls != 2 {
		t.Errorf("calls = %d/%d, want 2", *calls, result.Calls)
	}
	if len(result.Comments) != 3 {
		t.Fatalf("len(Comments) = %d, want 3", len(result.Comments))
	}
	for i, c := range result.Comments {
		if c.OriginalRow != i+1 {
			t.Errorf("Comments[%d].OriginalRow = %d, want first-seen order", i, c.OriginalRow)
		}
	}
	if !result.AdjudicationCompleted {
		t.Error("AdjudicationCompleted = false, want true")
	}
}

func TestRunStopsWhenCheckpointDoesNotAdvance(t *testing.T) {
	comments := testComments(2)

	srv, calls := scanServer(t, func(req scan.Request, call int) scan.Response {
		return scan.Response{
			Comments:              comments,
			HasMore:               true,
			NextBatchStart:        0,
			AdjudicationCompleted: true,
		}
	})

	c := &Client{BaseURL: srv.URL, Debounce: time.Millisecond}
	result, err := c.Run(context.Background(), scan.Request{Comments: comments, ScanRunID: "run-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if *calls != 1 {
		t.Errorf("calls = %d, want 1 after non-advancing checkpoint", *calls)
	}
	if result.Calls != 1 {
		t.Errorf("result.Calls = %d, want 1", result.Calls)
	}
}

func TestRunInsufficientCredits(t *testing.T) {
	srv, _ := scanServer(t, func(req scan.Request, call int) scan.Response {
		return scan.Response{
			InsufficientCredits: true,
			RequiredCredits:     5,
			AvailableCredits:    2,
		}
	})

	c := &Client{BaseURL: srv.URL, Debounce: time.Millisecond}
	_, err := c.Run(context.Background(), scan.Request{Comments: testComments(5), ScanRunID: "run-1"})

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}
	if insufficient.Required != 5 || insufficient.Available != 2 {
		t.Errorf("shortfall = %d/%d, want 5/2", insufficient.Required, insufficient.Available)
	}
}

func TestRunAwaitsAdjudication(t *testing.T) {
	comments := testComments(2)
	adjudicated := comments[0]
	adjudicated.Concerning = true
	adjudicated.IsAdjudicated = true

	srv, calls := scanServer(t, func(req scan.Request, call int) scan.Response {
		switch {
		case call == 1:
			return scan.Response{Comments: comments, TotalComments: 2}
		case req.CheckStatusOnly:
			return scan.Response{Comments: comments, TotalComments: 2}
		default:
			// The final poll is a full nudge call, not a status check.
			if req.BatchStart != len(comments) || !req.UseCachedAnalysis {
				t.Errorf("nudge request = start %d cached %t", req.BatchStart, req.UseCachedAnalysis)
			}
			return scan.Response{
				Comments:              []scan.Comment{adjudicated},
				TotalComments:         2,
				AdjudicationCompleted: true,
			}
		}
	})

	c := &Client{
		BaseURL:      srv.URL,
		Debounce:     time.Millisecond,
		PollLimit:    2,
		PollInterval: time.Millisecond,
	}
	result, err := c.Run(context.Background(), scan.Request{Comments: comments, ScanRunID: "run-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if *calls != 3 {
		t.Errorf("calls = %d, want 3", *calls)
	}
	if !result.AdjudicationCompleted {
		t.Error("AdjudicationCompleted = false, want true")
	}

	// The adjudicated update replaces the earlier entry in place.
	if len(result.Comments) != 2 {
		t.Fatalf("len(Comments) = %d, want 2", len(result.Comments))
	}
	if !result.Comments[0].IsAdjudicated || !result.Comments[0].Concerning {
		t.Errorf("Comments[0] = %+v, want adjudicated update", result.Comments[0])
	}
}

func TestRunSingleFlight(t *testing.T) {
	c := &Client{BaseURL: "http://unused", Debounce: time.Millisecond}

	if err := c.claim(); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := c.claim(); !errors.Is(err, ErrScanInFlight) {
		t.Errorf("second claim = %v, want ErrScanInFlight", err)
	}

	c.release()
	// Within the debounce window a fresh start is still rejected.
	c.Debounce = time.Hour
	if err := c.claim(); !errors.Is(err, ErrScanInFlight) {
		t.Errorf("claim inside debounce = %v, want ErrScanInFlight", err)
	}
}

func TestAccumulator(t *testing.T) {
	agg := newAccumulator()
	agg.add([]scan.Comment{
		{ID: "c-1", OriginalRow: 1},
		{ID: "c-2", OriginalRow: 2},
	})
	agg.add([]scan.Comment{
		{ID: "c-3", OriginalRow: 3},
		{ID: "c-1", OriginalRow: 1, Concerning: true},
	})

	out := agg.ordered()
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[0].ID != "c-1" || out[1].ID != "c-2" || out[2].ID != "c-3" {
		t.Errorf("order = %s %s %s, want first-seen", out[0].ID, out[1].ID, out[2].ID)
	}
	if !out[0].Concerning {
		t.Error("later add did not replace earlier entry")
	}
}
