// Package verdicts turns raw classifier responses into per-comment results.
//
// Classifier output is untrusted: it may be a compact line-oriented format,
// a JSON array wrapped in prose, or truncated mid-structure. Parse tries an
// enumerated chain of decoders in priority order and always yields exactly
// the expected number of entries, defaulting anything unrecoverable to
// not-flagged rather than failing the batch.
package verdicts

// Verdict is one classifier's opinion on one comment. Index is the comment's
// 1-based position in the run's full comment list.
type Verdict struct {
	Index        int    `json:"index"`
	Concerning   bool   `json:"concerning"`
	Identifiable bool   `json:"identifiable"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// Defaulted reports whether v carries the zero-fill default flags.
func (v Verdict) Defaulted() bool {
	return !v.Concerning && !v.Identifiable && v.Reasoning == ""
}
