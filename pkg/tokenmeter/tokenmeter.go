// Package tokenmeter estimates the token cost of payloads admitted to
// the tier store. It is deliberately the simplest component in the
// control plane: deterministic, side-effect-free, and safe to call
// from any goroutine without synchronization.
package tokenmeter

import (
	"encoding/json"
	"sync/atomic"
	"unicode/utf8"
)

// Tokenizer estimates the token count of a string. Implementations may
// delegate to a model-specific BPE tokenizer; Meter always falls back
// to a stable length-based estimate when none is configured, so size
// never errors and never depends on an external service being up.
type Tokenizer interface {
	// CountTokens returns a non-negative token estimate for s.
	CountTokens(s string) int
}

// fallbackTokenizer implements the length/4 heuristic (counted in
// runes, rounded up), a model-agnostic approximation of BPE token density for English-ish
// text. It never errors and is used whenever no Tokenizer is
// configured.
type fallbackTokenizer struct{}

func (fallbackTokenizer) CountTokens(s string) int {
	n := utf8.RuneCountInString(s)
	tokens := n / 4
	if n%4 != 0 {
		tokens++
	}
	return tokens
}

// Meter sizes arbitrary payloads. The zero value is usable: it falls
// back to the length-based estimate. Use NewMeter to wire a real
// tokenizer.
type Meter struct {
	tokenizer Tokenizer
	// usedFallback records, for the last Size call, whether the
	// fallback heuristic was used instead of the configured Tokenizer.
	// Exposed via LastUsedFallback so tests can observe which path was
	// taken.
	usedFallback atomic.Bool
}

// NewMeter constructs a Meter backed by the given Tokenizer. A nil
// Tokenizer is equivalent to the zero value: every call uses the
// fallback estimate.
func NewMeter(tokenizer Tokenizer) *Meter {
	return &Meter{tokenizer: tokenizer}
}

// Size returns a non-negative token estimate for value. Supported
// value kinds: string, []byte, and anything JSON-marshalable
// (structs, maps, slices); unsupported or marshal-failing values fall
// back to a conservative fixed estimate rather than returning an
// error. Sizing never fails.
func (m *Meter) Size(value interface{}) int {
	switch v := value.(type) {
	case nil:
		m.usedFallback.Store(false)
		return 0
	case string:
		return m.sizeString(v)
	case []byte:
		return m.sizeString(string(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			// Malformed input still returns an estimate >= 0.
			m.usedFallback.Store(true)
			return 1
		}
		return m.sizeString(string(data))
	}
}

func (m *Meter) sizeString(s string) int {
	if m.tokenizer != nil {
		m.usedFallback.Store(false)
		return nonNegative(m.tokenizer.CountTokens(s))
	}
	m.usedFallback.Store(true)
	return nonNegative(fallbackTokenizer{}.CountTokens(s))
}

// LastUsedFallback reports whether the most recent Size call used the
// length-based fallback estimate rather than a configured Tokenizer.
func (m *Meter) LastUsedFallback() bool {
	return m.usedFallback.Load()
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
