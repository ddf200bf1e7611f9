package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunk is one segment of a normalized document. Offsets are byte offsets
// into the normalized text, so adjacent chunks overlap by the configured
// overlap and Content == normalized[StartOffset:EndOffset].
type Chunk struct {
	Content       string
	Index         int
	TokenEstimate int
	StartOffset   int
	EndOffset     int
	Metadata      map[string]string
}

// Estimator estimates the token count of a piece of text. Estimates only need
// to be deterministic for the same input, not exact.
type Estimator interface {
	EstimateTokens(text string) int
}

// HeuristicEstimator estimates ceil(len/4) tokens per chunk.
type HeuristicEstimator struct{}

func (HeuristicEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// DefaultSeparators is the break-point priority order: paragraph, line,
// sentence enders, clause separators, word.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

const (
	DefaultTargetSize   = 1000
	DefaultOverlap      = 200
	defaultSearchWindow = 200
)

// Options configures Split. Zero values fall back to the defaults above.
type Options struct {
	TargetSize int
	Overlap    int
	Separators []string
	Estimator  Estimator
}

// ConfigError reports an invalid chunking configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid chunker config: %s", e.Reason)
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.TargetSize == 0 {
		opts.TargetSize = DefaultTargetSize
	}
	if opts.Overlap == 0 {
		opts.Overlap = DefaultOverlap
	}
	if opts.Separators == nil {
		opts.Separators = DefaultSeparators
	}
	if opts.Estimator == nil {
		opts.Estimator = HeuristicEstimator{}
	}
	return opts
}

func (o *Options) validate() error {
	if o.TargetSize < 0 {
		return &ConfigError{Reason: "target size must be positive"}
	}
	if o.Overlap < 0 {
		return &ConfigError{Reason: "overlap must not be negative"}
	}
	opts := o.withDefaults()
	if opts.Overlap >= opts.TargetSize {
		return &ConfigError{Reason: "overlap must be smaller than target size"}
	}
	for _, sep := range opts.Separators {
		if sep == "" {
			return &ConfigError{Reason: "separators must be non-empty"}
		}
	}
	return nil
}

var newlineRuns = regexp.MustCompile(`\n{3,}`)

// Normalize unifies line endings, collapses whitespace runs within lines,
// limits blank-line runs to one and trims the result. Chunk offsets refer to
// the normalized text.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")

	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split normalizes text and cuts it into overlapping chunks of roughly
// TargetSize bytes, preferring to break at the highest-priority separator
// found within the trailing search window of each candidate range. The zero
// input yields a nil slice. Split is total over any input string; the only
// possible error is an invalid configuration.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	o := opts.withDefaults()

	normalized := Normalize(text)
	if normalized == "" {
		return nil, nil
	}

	if len(normalized) <= o.TargetSize {
		return []Chunk{{
			Content:       normalized,
			Index:         0,
			TokenEstimate: o.Estimator.EstimateTokens(normalized),
			StartOffset:   0,
			EndOffset:     len(normalized),
		}}, nil
	}

	var chunks []Chunk
	start := 0
	for start < len(normalized) {
		end := start + o.TargetSize
		if end >= len(normalized) {
			end = len(normalized)
		} else {
			end = breakPoint(normalized, start, end, o.Separators)
		}

		content := normalized[start:end]
		chunks = append(chunks, Chunk{
			Content:       content,
			Index:         len(chunks),
			TokenEstimate: o.Estimator.EstimateTokens(content),
			StartOffset:   start,
			EndOffset:     end,
		})

		if end >= len(normalized) {
			break
		}

		next := end - o.Overlap
		for next > 0 && !utf8.RuneStart(normalized[next]) {
			next--
		}
		// Guarantee forward progress on pathological input.
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

// breakPoint searches backward from the candidate end for the first separator
// in priority order, restricted to the trailing search window so a break never
// produces a degenerate tiny chunk. Falls back to the raw candidate end
// (snapped to a rune boundary) when no separator is present.
func breakPoint(text string, start, end int, separators []string) int {
	lo := end - defaultSearchWindow
	if lo < start {
		lo = start
	}
	window := text[lo:end]

	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := lo + idx + len(sep)
		if cut > start {
			return cut
		}
	}

	for end > start+1 && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

// MergeSmallChunks left-folds the slice, merging every chunk shorter than
// minSize into its successor, then renumbers indices and re-estimates tokens.
// The final chunk is kept as is when undersized because it has no successor.
// This is a post-pass over Split output; the input slice is not modified.
func MergeSmallChunks(chunks []Chunk, minSize int, est Estimator) []Chunk {
	if len(chunks) == 0 || minSize <= 0 {
		return chunks
	}
	if est == nil {
		est = HeuristicEstimator{}
	}

	merged := make([]Chunk, 0, len(chunks))
	var carry *Chunk
	for i := range chunks {
		c := chunks[i]
		if carry != nil {
			overlap := carry.EndOffset - c.StartOffset
			if overlap < 0 || overlap > len(c.Content) {
				overlap = 0
			}
			c.Content = carry.Content + c.Content[overlap:]
			c.StartOffset = carry.StartOffset
			carry = nil
		}
		if len(c.Content) < minSize && i < len(chunks)-1 {
			carry = &c
			continue
		}
		merged = append(merged, c)
	}
	if carry != nil {
		merged = append(merged, *carry)
	}

	for i := range merged {
		merged[i].Index = i
		merged[i].TokenEstimate = est.EstimateTokens(merged[i].Content)
	}
	return merged
}
