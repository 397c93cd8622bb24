package scan

import (
	"errors"
	"testing"

	"github.com/pulsecheck/sift/pkg/verdicts"
)

func TestZipComment(t *testing.T) {
	flagged := &verdicts.Verdict{Index: 1, Concerning: true, Identifiable: true}
	clean := &verdicts.Verdict{Index: 1}

	tests := []struct {
		name             string
		a, b             *verdicts.Verdict
		wantConcerning   bool
		wantIdentifiable bool
		wantNeeds        bool
	}{
		{"both agree flagged", flagged, flagged, true, true, false},
		{"both agree clean", clean, clean, false, false, false},
		{"disagree takes a provisionally", flagged, clean, true, true, true},
		{"disagree keeps a clean default", clean, flagged, false, false, true},
		{"only a settles", flagged, nil, true, true, false},
		{"only b settles", nil, flagged, true, true, false},
		{"neither settles", nil, nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := zipComment(Comment{ID: "c-1", IsAdjudicated: true}, tt.a, tt.b)

			if got.Concerning != tt.wantConcerning {
				t.Errorf("Concerning = %t, want %t", got.Concerning, tt.wantConcerning)
			}
			if got.Identifiable != tt.wantIdentifiable {
				t.Errorf("Identifiable = %t, want %t", got.Identifiable, tt.wantIdentifiable)
			}
			if got.NeedsAdjudication != tt.wantNeeds {
				t.Errorf("NeedsAdjudication = %t, want %t", got.NeedsAdjudication, tt.wantNeeds)
			}
			if got.IsAdjudicated {
				t.Error("IsAdjudicated = true, want reset on fresh classification")
			}
		})
	}
}

func TestZipCommentPartialDisagreement(t *testing.T) {
	a := &verdicts.Verdict{Index: 1, Concerning: true}
	b := &verdicts.Verdict{Index: 1, Concerning: true, Identifiable: true}

	got := zipComment(Comment{ID: "c-1"}, a, b)
	if !got.NeedsAdjudication {
		t.Error("NeedsAdjudication = false, want true on single-flag disagreement")
	}
	if got.Identifiable {
		t.Error("Identifiable = true, want a's provisional false")
	}
}

func TestZipCommentTrace(t *testing.T) {
	a := &verdicts.Verdict{Index: 3, Concerning: true}
	b := &verdicts.Verdict{Index: 3}

	got := zipComment(Comment{ID: "c-3"}, a, b)
	if got.Trace == nil || got.Trace.ScanA == nil || got.Trace.ScanB == nil {
		t.Fatalf("Trace = %+v, want both sides", got.Trace)
	}
	if !got.Trace.ScanA.Concerning || got.Trace.ScanB.Concerning {
		t.Error("trace does not preserve each side's raw verdict")
	}

	solo := zipComment(Comment{ID: "c-3"}, nil, b)
	if solo.Trace == nil || solo.Trace.ScanA != nil || solo.Trace.ScanB == nil {
		t.Errorf("Trace = %+v, want scan B only", solo.Trace)
	}
}

func TestBatchInput(t *testing.T) {
	batch := []Comment{
		{ID: "c-1", OriginalText: "great place to work"},
		{ID: "c-2", OriginalText: "my manager reads my email"},
	}

	want := "1: great place to work\n2: my manager reads my email\n"
	if got := batchInput(batch); got != want {
		t.Errorf("batchInput = %q, want %q", got, want)
	}
}

func TestVerdictAt(t *testing.T) {
	ok := sideResult{Verdicts: []verdicts.Verdict{{Index: 1, Concerning: true}}}

	if v := verdictAt(ok, 0); v == nil || !v.Concerning {
		t.Errorf("verdictAt(ok, 0) = %+v, want concerning verdict", v)
	}
	if v := verdictAt(ok, 1); v != nil {
		t.Errorf("verdictAt out of range = %+v, want nil", v)
	}

	failed := sideResult{Err: errors.New("call failed"), Verdicts: ok.Verdicts}
	if v := verdictAt(failed, 0); v != nil {
		t.Errorf("verdictAt on failed side = %+v, want nil", v)
	}
}
