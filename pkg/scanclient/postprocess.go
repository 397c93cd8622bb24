package scanclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/pulsecheck/sift/internal/scan"
)

// Post-processing lanes. Flagged comments route to the lane of the
// classifier that flagged them; comments both classifiers flagged are
// split evenly across lanes for load balancing.
const (
	LaneA = "a"
	LaneB = "b"
)

// PostProcessor redacts or rephrases flagged comments. Implementations
// receive the lane so call volume can be spread across backends.
type PostProcessor interface {
	Process(ctx context.Context, lane string, comments []scan.Comment) ([]scan.Comment, error)
}

// PostProcess partitions flagged comments across the two lanes, fans the
// calls out in parallel, and merges the processed variants back onto the
// input set. One lane's failure degrades only its own comments.
func (c *Client) PostProcess(ctx context.Context, p PostProcessor, comments []scan.Comment) []scan.Comment {
	laneA, laneB := partition(comments)

	var resA, resB []scan.Comment

	// Lanes settle independently; neither failure cancels the other.
	g := new(errgroup.Group)
	g.Go(func() error {
		resA = c.processLane(ctx, p, LaneA, laneA)
		return nil
	})
	g.Go(func() error {
		resB = c.processLane(ctx, p, LaneB, laneB)
		return nil
	})
	_ = g.Wait()

	out := make([]scan.Comment, len(comments))
	copy(out, comments)
	mergeProcessed(out, resA)
	mergeProcessed(out, resB)
	return out
}

func (c *Client) processLane(ctx context.Context, p PostProcessor, lane string, comments []scan.Comment) []scan.Comment {
	if len(comments) == 0 {
		return nil
	}

	processed, err := p.Process(ctx, lane, comments)
	if err != nil {
		c.logger().Warn("post-processing lane failed", "lane", lane, "comments", len(comments), "error", err)
		return nil
	}
	return processed
}

// partition routes each flagged comment by which classifier flagged it:
// A-only to lane A, B-only to lane B, both alternating across lanes.
func partition(comments []scan.Comment) (laneA, laneB []scan.Comment) {
	both := 0
	for _, c := range comments {
		if !c.Concerning && !c.Identifiable {
			continue
		}

		aFlagged, bFlagged := flaggedBy(c)
		switch {
		case aFlagged && bFlagged:
			if both%2 == 0 {
				laneA = append(laneA, c)
			} else {
				laneB = append(laneB, c)
			}
			both++
		case bFlagged:
			laneB = append(laneB, c)
		default:
			laneA = append(laneA, c)
		}
	}
	return laneA, laneB
}

func flaggedBy(c scan.Comment) (a, b bool) {
	if c.Trace == nil {
		// No trace means the final flags are all we know; treat as A's.
		return true, false
	}
	if v := c.Trace.ScanA; v != nil && (v.Concerning || v.Identifiable) {
		a = true
	}
	if v := c.Trace.ScanB; v != nil && (v.Concerning || v.Identifiable) {
		b = true
	}
	if !a && !b {
		a = true
	}
	return a, b
}

// mergeProcessed copies processed variants back by id, falling back to a
// row-position match when the id drifted.
func mergeProcessed(out []scan.Comment, processed []scan.Comment) {
	if len(processed) == 0 {
		return
	}

	index := make(map[string]int, len(out))
	rows := make(map[int]int, len(out))
	for i, c := range out {
		index[c.ID] = i
		rows[c.OriginalRow] = i
	}

	for _, p := range processed {
		i, ok := index[p.ID]
		if !ok {
			i, ok = rows[p.OriginalRow]
			if !ok {
				continue
			}
		}

		if p.RedactedText != nil {
			out[i].RedactedText = p.RedactedText
		}
		if p.RephrasedText != nil {
			out[i].RephrasedText = p.RephrasedText
		}
		if p.DisplayText != "" {
			out[i].DisplayText = p.DisplayText
		}
		if p.Mode != "" {
			out[i].Mode = p.Mode
		}
	}
}

// HTTPPostProcessor calls an external post-processing service, one
// endpoint per lane.
type HTTPPostProcessor struct {
	Endpoints map[string]string
	Token     string
	HTTP      *http.Client
}

func (p *HTTPPostProcessor) Process(ctx context.Context, lane string, comments []scan.Comment) ([]scan.Comment, error) {
	endpoint, ok := p.Endpoints[lane]
	if !ok {
		return nil, fmt.Errorf("no endpoint configured for lane %s", lane)
	}

	body, err := json.Marshal(map[string]any{"comments": comments, "lane": lane})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("post-processing status %d: %s", res.StatusCode, payload)
	}

	var out struct {
		Comments []scan.Comment `json:"comments"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}
