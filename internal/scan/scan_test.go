package scan_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pulsecheck/sift/internal/scan"
)

func TestRequestInitial(t *testing.T) {
	tests := []struct {
		name string
		req  scan.Request
		want bool
	}{
		{"first call", scan.Request{}, true},
		{"checkpoint follow-up", scan.Request{BatchStart: 5}, false},
		{"cached resume at zero", scan.Request{UseCachedAnalysis: true}, false},
		{"cached checkpoint", scan.Request{BatchStart: 5, UseCachedAnalysis: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Initial(); got != tt.want {
				t.Errorf("Initial() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	comments := []scan.Comment{
		{ID: "c-1", Concerning: true, Identifiable: true},
		{ID: "c-2", Concerning: true},
		{ID: "c-3", NeedsAdjudication: true},
		{ID: "c-4"},
	}

	s := scan.Summarize(comments)
	if s.Total != 4 {
		t.Errorf("Total = %d, want 4", s.Total)
	}
	if s.Concerning != 2 {
		t.Errorf("Concerning = %d, want 2", s.Concerning)
	}
	if s.Identifiable != 1 {
		t.Errorf("Identifiable = %d, want 1", s.Identifiable)
	}
	if s.NeedsAdjudication != 1 {
		t.Errorf("NeedsAdjudication = %d, want 1", s.NeedsAdjudication)
	}
}

func TestRequestWireNames(t *testing.T) {
	data, err := json.Marshal(scan.Request{
		ScanRunID:         "run-1",
		UseCachedAnalysis: true,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	body := string(data)
	for _, key := range []string{`"scanRunId"`, `"useCachedAnalysis"`} {
		if !strings.Contains(body, key) {
			t.Errorf("marshaled request missing %s: %s", key, body)
		}
	}
}

func TestCommentOmitsUnsetOptionals(t *testing.T) {
	data, err := json.Marshal(scan.Comment{ID: "c-1", OriginalRow: 1, OriginalText: "t"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	body := string(data)
	for _, key := range []string{"needsAdjudication", "redactedText", "trace"} {
		if strings.Contains(body, key) {
			t.Errorf("marshaled comment includes unset %s: %s", key, body)
		}
	}
	// The final flags always serialize, even when false.
	if !strings.Contains(body, `"concerning":false`) {
		t.Errorf("marshaled comment missing concerning flag: %s", body)
	}
}
