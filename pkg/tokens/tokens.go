// Package tokens estimates token counts for provider/model pairs.
// Estimation backs both pre-flight batch sizing and post-hoc accounting in
// the AI call log, so it must never fail: when a precise tokenizer is not
// available for a model, a character-count heuristic is used instead.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// defaultCharsPerToken is the fallback ratio for unknown model families.
// BPE tokenizers average roughly 3.5-4.5 characters per token on English text.
const defaultCharsPerToken = 4.0

// familyDivisors overrides the heuristic ratio for known model families.
var familyDivisors = map[string]float64{
	"claude": 3.5,
	"gpt":    4.0,
	"gemini": 4.0,
}

// codecForModel maps model name prefixes to tiktoken encodings.
// Models outside these families fall back to the character heuristic.
var codecForModel = []struct {
	prefix   string
	encoding tokenizer.Encoding
}{
	{"gpt-4o", tokenizer.O200kBase},
	{"o1", tokenizer.O200kBase},
	{"gpt-4", tokenizer.Cl100kBase},
	{"gpt-3.5", tokenizer.Cl100kBase},
}

// Estimator computes approximate or precise token counts.
// The zero value is not usable; create with New.
type Estimator struct {
	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// New creates an Estimator with an empty codec cache.
func New() *Estimator {
	return &Estimator{
		codecs: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// Estimate returns the token count for text under the given provider/model.
// It uses a precise tokenizer when one is known for the model and silently
// degrades to the character heuristic on any failure. Non-empty text always
// yields at least 1.
func (e *Estimator) Estimate(provider, model, text string) int {
	if text == "" {
		return 0
	}

	if codec := e.codec(model); codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return max(len(ids), 1)
		}
	}

	return heuristic(model, text)
}

func (e *Estimator) codec(model string) tokenizer.Codec {
	model = strings.ToLower(model)

	for _, entry := range codecForModel {
		if !strings.HasPrefix(model, entry.prefix) {
			continue
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		if codec, ok := e.codecs[entry.encoding]; ok {
			return codec
		}

		codec, err := tokenizer.Get(entry.encoding)
		if err != nil {
			return nil
		}

		e.codecs[entry.encoding] = codec
		return codec
	}

	return nil
}

func heuristic(model string, text string) int {
	divisor := defaultCharsPerToken
	model = strings.ToLower(model)

	for family, d := range familyDivisors {
		if strings.Contains(model, family) {
			divisor = d
			break
		}
	}

	return max(int(float64(len(text))/divisor)+1, 1)
}
