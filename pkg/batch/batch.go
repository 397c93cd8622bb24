// Package batch computes how many comments fit in one classification call
// without exceeding a model's token ceilings or rate limits.
package batch

import (
	"log/slog"

	"github.com/pulsecheck/sift/pkg/ratelimit"
	"github.com/pulsecheck/sift/pkg/tokens"
)

// Limits holds the per-model ceilings a batch is sized against.
// Zero values disable the corresponding limit.
type Limits struct {
	InputTokenLimit  int `toml:"input_token_limit" json:"input_token_limit"`
	OutputTokenLimit int `toml:"output_token_limit" json:"output_token_limit"`
	RPM              int `toml:"rpm" json:"rpm"`
	TPM              int `toml:"tpm" json:"tpm"`
}

// SizeInput carries everything ComputeSize needs for one classifier.
type SizeInput struct {
	Phase                  string
	Comments               []string
	Prompt                 string
	Limits                 Limits
	SafetyMarginPercent    int
	Provider               string
	Model                  string
	OutputTokensPerComment int

	// ParallelRequests is how many concurrent requests one batch issues
	// (the classifier pair counts as 2).
	ParallelRequests int

	Estimator *tokens.Estimator
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger
}

// ComputeSize walks the candidate comments in order, accumulating estimated
// token cost until the input budget is exhausted, then caps the result by
// output capacity and by rate-limit headroom. The safety margin is applied
// to the token ceilings and again to the final candidate as a hedge against
// estimation error. Always returns at least 1 so a degenerate input (one
// very long comment) still makes forward progress.
func ComputeSize(in SizeInput) int {
	margin := clampMargin(in.SafetyMarginPercent)
	multiplier := 1 - float64(margin)/100

	maxInput := float64(in.Limits.InputTokenLimit) * multiplier
	maxOutput := float64(in.Limits.OutputTokenLimit) * multiplier

	promptTokens := in.Estimator.Estimate(in.Provider, in.Model, in.Prompt)
	budget := int(maxInput) - promptTokens

	size := 0
	used := 0
	for _, comment := range in.Comments {
		cost := in.Estimator.Estimate(in.Provider, in.Model, comment)
		if in.Limits.InputTokenLimit > 0 && used+cost > budget {
			break
		}
		used += cost
		size++
	}

	if in.Limits.OutputTokenLimit > 0 && in.OutputTokensPerComment > 0 {
		size = min(size, int(maxOutput)/in.OutputTokensPerComment)
	}

	// Second margin application on the count itself.
	size = int(float64(size) * multiplier)

	if in.Limiter != nil && (in.Limits.TPM > 0 || in.Limits.RPM > 0) {
		perComment := averageCommentTokens(in, size)
		size = in.Limiter.OptimalBatchSize(
			in.Provider, in.Model,
			perComment, size,
			in.Limits.TPM, in.Limits.RPM,
			max(in.ParallelRequests, 1),
		)
	}

	size = max(size, 1)

	if in.Logger != nil {
		in.Logger.Debug(
			"batch size computed",
			"phase", in.Phase,
			"provider", in.Provider,
			"model", in.Model,
			"prompt_tokens", promptTokens,
			"size", size,
		)
	}

	return size
}

// FitsEntirely reports whether every comment fits within one batch under the
// given limits. Used for the small-survey single-batch override.
func FitsEntirely(in SizeInput) bool {
	return ComputeSize(in) >= len(in.Comments)
}

func clampMargin(pct int) int {
	return min(max(pct, 0), 90)
}

func averageCommentTokens(in SizeInput, size int) int {
	if size <= 0 || len(in.Comments) == 0 {
		return 0
	}

	sample := min(size, len(in.Comments))
	used := 0
	for _, comment := range in.Comments[:sample] {
		used += in.Estimator.Estimate(in.Provider, in.Model, comment)
	}
	return used / sample
}
