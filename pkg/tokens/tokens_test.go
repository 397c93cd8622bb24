package tokens_test

import (
	"strings"
	"testing"

	"github.com/pulsecheck/sift/pkg/tokens"
)

func TestEstimateEmpty(t *testing.T) {
	e := tokens.New()

	if got := e.Estimate("openai", "gpt-4o", ""); got != 0 {
		t.Errorf("Estimate(empty) = %d, want 0", got)
	}
}

func TestEstimateNeverZeroForText(t *testing.T) {
	e := tokens.New()

	models := []string{"gpt-4o", "claude-sonnet-4", "gemini-pro", "llama3", "unknown-model"}
	for _, model := range models {
		if got := e.Estimate("any", model, "x"); got < 1 {
			t.Errorf("Estimate(%q, \"x\") = %d, want at least 1", model, got)
		}
	}
}

func TestEstimateHeuristic(t *testing.T) {
	e := tokens.New()

	tests := []struct {
		name  string
		model string
		text  string
		want  int
	}{
		// claude divides by 3.5, unknown families by 4.
		{"claude family", "claude-sonnet-4", strings.Repeat("a", 35), 11},
		{"gemini family", "gemini-pro", strings.Repeat("a", 40), 11},
		{"unknown family", "mystery-model", strings.Repeat("a", 40), 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Estimate("any", tt.model, tt.text); got != tt.want {
				t.Errorf("Estimate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimatePreciseTokenizer(t *testing.T) {
	e := tokens.New()

	text := "The quick brown fox jumps over the lazy dog."
	got := e.Estimate("openai", "gpt-4o", text)
	if got < 1 {
		t.Fatalf("Estimate = %d, want at least 1", got)
	}

	// A BPE count for short English text sits well below the character count.
	if got >= len(text) {
		t.Errorf("Estimate = %d, want fewer tokens than %d characters", got, len(text))
	}

	if again := e.Estimate("openai", "gpt-4o", text); again != got {
		t.Errorf("Estimate not deterministic: %d then %d", got, again)
	}
}

func TestEstimateScalesWithLength(t *testing.T) {
	e := tokens.New()

	short := e.Estimate("any", "mystery-model", strings.Repeat("word ", 10))
	long := e.Estimate("any", "mystery-model", strings.Repeat("word ", 100))
	if long <= short {
		t.Errorf("Estimate(long) = %d, want more than short %d", long, short)
	}
}
