package tokenmeter

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer adapts tiktoken-go's BPE encoder to the Tokenizer
// interface for model-accurate counts. Meter never depends on
// tiktoken directly, so a Meter built without one still works via the
// fallback estimate.
type TiktokenTokenizer struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer builds a tokenizer for the given encoding name
// (e.g. "cl100k_base"). If the encoding cannot be loaded, it returns
// nil and logs a warning; callers should fall back to a plain Meter
// in that case rather than fail construction.
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tokenmeter: failed to load tiktoken encoding, falling back to byte estimate",
			"encoding", encoding, "error", err)
		return nil
	}
	return &TiktokenTokenizer{enc: enc}
}

// CountTokens implements Tokenizer. tiktoken's encoder is not
// documented as goroutine-safe, so calls are serialized; token
// counting is cheap relative to the rest of an ingest path.
func (t *TiktokenTokenizer) CountTokens(s string) int {
	if t == nil || t.enc == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(s, nil, nil))
}
