package scan

import (
	"testing"

	"github.com/pulsecheck/sift/internal/adjudicate"
	"github.com/pulsecheck/sift/pkg/verdicts"
)

func TestDisagreementCases(t *testing.T) {
	all := []Comment{
		{ID: "c-1", OriginalText: "fine"},
		{
			ID:                "c-2",
			OriginalText:      "disputed",
			OriginalRow:       2,
			NeedsAdjudication: true,
			Trace: &Trace{
				ScanA: &verdicts.Verdict{Index: 2, Concerning: true},
				ScanB: &verdicts.Verdict{Index: 2},
			},
		},
		{ID: "c-3", OriginalText: "settled", NeedsAdjudication: true, IsAdjudicated: true},
		{ID: "c-4", OriginalText: "also disputed", NeedsAdjudication: true},
	}

	cases := disagreementCases(all)
	if len(cases) != 2 {
		t.Fatalf("len(cases) = %d, want 2", len(cases))
	}

	if cases[0].ID != "c-2" || cases[0].Index != 2 {
		t.Errorf("cases[0] = %+v, want c-2 at index 2", cases[0])
	}
	if !cases[0].A.Concerning || cases[0].B.Concerning {
		t.Errorf("cases[0] verdicts = A %+v B %+v, want trace carried over", cases[0].A, cases[0].B)
	}

	// No trace still yields a case with zero verdicts.
	if cases[1].ID != "c-4" || cases[1].Index != 4 {
		t.Errorf("cases[1] = %+v, want c-4 at index 4", cases[1])
	}
}

func TestApplyOutcomes(t *testing.T) {
	comments := []Comment{
		{ID: "c-1", Concerning: true, NeedsAdjudication: true},
		{ID: "c-2"},
		{ID: "c-3", NeedsAdjudication: true},
	}
	outcomes := map[string]adjudicate.Outcome{
		"c-1": {Concerning: false, Identifiable: true, Reasoning: "names a coworker"},
	}

	changed := applyOutcomes(comments, outcomes)
	if len(changed) != 1 {
		t.Fatalf("len(changed) = %d, want 1", len(changed))
	}

	got := comments[0]
	if got.Concerning {
		t.Error("Concerning = true, want overruled to false")
	}
	if !got.Identifiable {
		t.Error("Identifiable = false, want true")
	}
	if got.Reasoning != "names a coworker" {
		t.Errorf("Reasoning = %q", got.Reasoning)
	}
	if got.NeedsAdjudication || !got.IsAdjudicated {
		t.Errorf("flags = needs %t adjudicated %t, want resolved", got.NeedsAdjudication, got.IsAdjudicated)
	}

	// Comments without a ruling stay pending.
	if comments[2].IsAdjudicated || !comments[2].NeedsAdjudication {
		t.Error("comment without ruling was mutated")
	}
}

func TestEmptySuccess(t *testing.T) {
	req := Request{
		Comments:   []Comment{{ID: "c-1"}, {ID: "c-2"}},
		BatchStart: 2,
	}

	res := emptySuccess(req)
	if res.Success == nil || !*res.Success {
		t.Fatal("Success not set true")
	}
	if len(res.Comments) != 0 {
		t.Errorf("len(Comments) = %d, want 0", len(res.Comments))
	}
	if res.TotalComments != 2 || res.BatchStart != 2 {
		t.Errorf("TotalComments = %d, BatchStart = %d", res.TotalComments, res.BatchStart)
	}
}

func TestCommentTexts(t *testing.T) {
	comments := []Comment{
		{ID: "c-1", OriginalText: "one"},
		{ID: "c-2", OriginalText: "two"},
	}

	texts := commentTexts(comments)
	if len(texts) != 2 || texts[0] != "one" || texts[1] != "two" {
		t.Errorf("commentTexts = %v", texts)
	}
}
