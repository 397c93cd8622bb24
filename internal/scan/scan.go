// Package scan implements the comment scan pipeline. Each run sends
// free-text comments through two independently configured classifiers in
// parallel, resolves disagreements through an adjudicator, and reports
// per-comment flags. One HTTP invocation processes as much of the run as
// its wall-clock budget allows and returns a resumable checkpoint when
// work remains.
package scan

import (
	"github.com/pulsecheck/sift/pkg/verdicts"
)

// Function is the log function name recorded for classifier invocations.
const Function = "comment_scan"

// Log request types, one per pipeline phase.
const (
	PhaseScanA     = "scan_a"
	PhaseScanB     = "scan_b"
	PhaseTailRetry = "tail_retry"
)

// Comment processing modes.
const (
	ModeRedact   = "redact"
	ModeRephrase = "rephrase"
	ModeRevert   = "revert"
	ModeEdit     = "edit"
	ModeOriginal = "original"
)

// Trace carries each classifier's raw opinion for debugging.
type Trace struct {
	ScanA *verdicts.Verdict `json:"scanA,omitempty"`
	ScanB *verdicts.Verdict `json:"scanB,omitempty"`
}

// Comment is one unit of user-submitted free text. Concerning and
// Identifiable hold classifier A's opinion as a provisional default until
// adjudication completes, after which they are authoritative.
type Comment struct {
	ID                string  `json:"id"`
	OriginalRow       int     `json:"originalRow"`
	OriginalText      string  `json:"originalText"`
	DisplayText       string  `json:"displayText,omitempty"`
	Mode              string  `json:"mode,omitempty"`
	Concerning        bool    `json:"concerning"`
	Identifiable      bool    `json:"identifiable"`
	NeedsAdjudication bool    `json:"needsAdjudication,omitempty"`
	IsAdjudicated     bool    `json:"isAdjudicated,omitempty"`
	Reasoning         string  `json:"reasoning,omitempty"`
	RedactedText      *string `json:"redactedText,omitempty"`
	RephrasedText     *string `json:"rephrasedText,omitempty"`
	Trace             *Trace  `json:"trace,omitempty"`
}

// Request is the orchestrator's JSON request body.
type Request struct {
	Comments             []Comment `json:"comments"`
	DefaultMode          string    `json:"defaultMode"`
	ScanRunID            string    `json:"scanRunId"`
	IsDemoScan           bool      `json:"isDemoScan,omitempty"`
	BatchStart           int       `json:"batchStart,omitempty"`
	UseCachedAnalysis    bool      `json:"useCachedAnalysis,omitempty"`
	MaxBatchesPerRequest int       `json:"maxBatchesPerRequest,omitempty"`
	MaxRunMs             int64     `json:"maxRunMs,omitempty"`
	CheckStatusOnly      bool      `json:"checkStatusOnly,omitempty"`
}

// Initial reports whether this is the run's first request rather than a
// checkpoint follow-up. Only initial requests are subject to the
// duplicate-run guard.
func (r Request) Initial() bool {
	return r.BatchStart == 0 && !r.UseCachedAnalysis
}

// Summary holds running counts across the comments in a response.
type Summary struct {
	Total             int `json:"total"`
	Concerning        int `json:"concerning"`
	Identifiable      int `json:"identifiable"`
	NeedsAdjudication int `json:"needsAdjudication"`
}

// CreditInfo reports the credit deduction attached to a completed scan.
type CreditInfo struct {
	Deducted  int `json:"deducted"`
	Remaining int `json:"remaining"`
}

// Response is the orchestrator's JSON response body. The insufficient
// credit variant sets Error, InsufficientCredits, and the credit counts
// and is returned with HTTP 200 for client compatibility.
type Response struct {
	Comments       []Comment   `json:"comments"`
	BatchStart     int         `json:"batchStart"`
	BatchSize      int         `json:"batchSize"`
	HasMore        bool        `json:"hasMore"`
	TotalComments  int         `json:"totalComments"`
	Summary        Summary     `json:"summary"`
	TotalRunTimeMs int64       `json:"totalRunTimeMs"`
	NextBatchStart int         `json:"nextBatchStart"`
	CreditInfo     *CreditInfo `json:"creditInfo,omitempty"`

	AdjudicationStarted   bool `json:"adjudicationStarted,omitempty"`
	AdjudicationCompleted bool `json:"adjudicationCompleted,omitempty"`
	AdjudicationDeferred  bool `json:"adjudicationDeferred,omitempty"`

	Error               string `json:"error,omitempty"`
	InsufficientCredits bool   `json:"insufficientCredits,omitempty"`
	AvailableCredits    int    `json:"availableCredits,omitempty"`
	RequiredCredits     int    `json:"requiredCredits,omitempty"`
	Success             *bool  `json:"success,omitempty"`
}

// Summarize recounts flags across a comment set.
func Summarize(comments []Comment) Summary {
	s := Summary{Total: len(comments)}
	for _, c := range comments {
		if c.Concerning {
			s.Concerning++
		}
		if c.Identifiable {
			s.Identifiable++
		}
		if c.NeedsAdjudication {
			s.NeedsAdjudication++
		}
	}
	return s
}
