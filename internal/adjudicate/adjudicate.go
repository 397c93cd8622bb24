// Package adjudicate resolves classifier disagreements. Comments where the
// two scan classifiers differ on either flag are batched and sent to a
// third, tie-breaking model. Completed batches are recognized through the
// AI call log so a resumed or duplicate invocation never re-adjudicates
// work that already finished.
package adjudicate

import (
	"fmt"
	"strings"

	"github.com/pulsecheck/sift/pkg/verdicts"
)

// Function is the log function name recorded for adjudicator invocations.
const Function = "adjudicate"

// RequestType is the log request type recorded for adjudicator invocations.
const RequestType = "adjudication"

// Case is one comment the two classifiers disagreed on.
type Case struct {
	ID    string `json:"id"`
	Text  string `json:"originalText"`
	Row   int    `json:"originalRow"`
	Index int    `json:"scannedIndex"`

	A verdicts.Verdict `json:"scanAResult"`
	B verdicts.Verdict `json:"scanBResult"`
}

// Outcome is the adjudicator's ruling for one comment.
type Outcome struct {
	Concerning   bool   `json:"concerning"`
	Identifiable bool   `json:"identifiable"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// serializeBatch produces the exact input text sent to the adjudicator.
// The format is deterministic so byte-identical inputs identify duplicate
// work across invocations.
func serializeBatch(cases []Case) string {
	var b strings.Builder
	for _, c := range cases {
		fmt.Fprintf(&b, "#%d id=%s\n", c.Index, c.ID)
		fmt.Fprintf(&b, "text: %s\n", c.Text)
		fmt.Fprintf(&b, "A: concerning=%t identifiable=%t\n", c.A.Concerning, c.A.Identifiable)
		fmt.Fprintf(&b, "B: concerning=%t identifiable=%t\n\n", c.B.Concerning, c.B.Identifiable)
	}
	return b.String()
}
