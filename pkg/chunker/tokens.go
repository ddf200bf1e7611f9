package chunker

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenEstimator counts tokens with a tiktoken encoding. It falls back to
// the heuristic estimate when the encoding cannot be loaded, keeping the
// chunker total over any input.
type TiktokenEstimator struct {
	Encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator for the given encoding name,
// e.g. "o200k_base".
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	return &TiktokenEstimator{Encoding: encoding}
}

func (t *TiktokenEstimator) EstimateTokens(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.Encoding)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return HeuristicEstimator{}.EstimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
