package ailog

import (
	"net/url"

	"github.com/pulsecheck/sift/pkg/query"
	"github.com/pulsecheck/sift/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "ai_log", "l").
	Project("id", "ID").
	Project("user_id", "UserID").
	Project("run_id", "RunID").
	Project("function", "Function").
	Project("request_type", "RequestType").
	Project("provider", "Provider").
	Project("model", "Model").
	Project("prompt", "Prompt").
	Project("input", "Input").
	Project("input_tokens", "InputTokens").
	Project("output_tokens", "OutputTokens").
	Project("temperature", "Temperature").
	Project("status", "Status").
	Project("response", "Response").
	Project("error", "Error").
	Project("requested_at", "RequestedAt").
	Project("responded_at", "RespondedAt").
	Project("duration_ms", "DurationMs")

var defaultSort = query.SortField{
	Field:      "RequestedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for log queries.
// Nil fields are ignored; all fields use exact matching.
type Filters struct {
	UserID      *string `json:"user_id,omitempty"`
	RunID       *string `json:"run_id,omitempty"`
	Function    *string `json:"function,omitempty"`
	RequestType *string `json:"request_type,omitempty"`
	Provider    *string `json:"provider,omitempty"`
	Model       *string `json:"model,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("UserID", f.UserID).
		WhereEquals("RunID", f.RunID).
		WhereEquals("Function", f.Function).
		WhereEquals("RequestType", f.RequestType).
		WhereEquals("Provider", f.Provider).
		WhereEquals("Model", f.Model).
		WhereEquals("Status", f.Status)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if u := values.Get("user_id"); u != "" {
		f.UserID = &u
	}

	if r := values.Get("run_id"); r != "" {
		f.RunID = &r
	}

	if fn := values.Get("function"); fn != "" {
		f.Function = &fn
	}

	if rt := values.Get("request_type"); rt != "" {
		f.RequestType = &rt
	}

	if p := values.Get("provider"); p != "" {
		f.Provider = &p
	}

	if m := values.Get("model"); m != "" {
		f.Model = &m
	}

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	return f
}

func scanEntry(s repository.Scanner) (Entry, error) {
	var e Entry
	err := s.Scan(
		&e.ID,
		&e.UserID,
		&e.RunID,
		&e.Function,
		&e.RequestType,
		&e.Provider,
		&e.Model,
		&e.Prompt,
		&e.Input,
		&e.InputTokens,
		&e.OutputTokens,
		&e.Temperature,
		&e.Status,
		&e.Response,
		&e.Error,
		&e.RequestedAt,
		&e.RespondedAt,
		&e.DurationMs,
	)
	return e, err
}
