package chunker

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty input",
			text: "",
			want: "",
		},
		{
			name: "windows line endings",
			text: "first\r\nsecond\r\nthird",
			want: "first\nsecond\nthird",
		},
		{
			name: "whitespace runs collapse",
			text: "too   many\t\tspaces  here",
			want: "too many spaces here",
		},
		{
			name: "blank line runs collapse",
			text: "para one\n\n\n\n\npara two",
			want: "para one\n\npara two",
		},
		{
			name: "surrounding whitespace trimmed",
			text: "  \n text \n  ",
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.text); got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitEmptyAndSmall(t *testing.T) {
	chunks, err := Split("", Options{})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("Split(empty) = %d chunks, want 0", len(chunks))
	}

	chunks, err = Split("short text.", Options{})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Split(short) = %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Content != "short text." || c.StartOffset != 0 || c.EndOffset != len("short text.") {
		t.Errorf("unexpected chunk: %+v", c)
	}
	if c.TokenEstimate != (len(c.Content)+3)/4 {
		t.Errorf("TokenEstimate = %d, want %d", c.TokenEstimate, (len(c.Content)+3)/4)
	}
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	// 2500 bytes with a paragraph break near offset 980: the first chunk must
	// end at the break, not at the raw 1000-byte boundary.
	text := strings.Repeat("a", 978) + "\n\n" + strings.Repeat("b", 1520)

	chunks, err := Split(text, Options{TargetSize: 1000, Overlap: 200})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("Split() = %d chunks, want >= 2", len(chunks))
	}
	if chunks[0].EndOffset != 980 {
		t.Errorf("first chunk ends at %d, want 980 (after paragraph break)", chunks[0].EndOffset)
	}
	if !strings.HasSuffix(chunks[0].Content, "\n\n") {
		t.Errorf("first chunk should end with the paragraph separator")
	}
}

func TestSplitReconstructsNormalizedText(t *testing.T) {
	tests := []struct {
		name string
		text string
		opts Options
	}{
		{
			name: "prose with sentences",
			text: strings.Repeat("The quick brown fox jumps over the lazy dog. ", 120),
			opts: Options{TargetSize: 400, Overlap: 80},
		},
		{
			name: "no separators at all",
			text: strings.Repeat("x", 3000),
			opts: Options{TargetSize: 500, Overlap: 100},
		},
		{
			name: "paragraph heavy",
			text: strings.Repeat("Some paragraph content here.\n\n", 200),
			opts: Options{TargetSize: 700, Overlap: 140},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(tt.text, tt.opts)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			normalized := Normalize(tt.text)

			if chunks[0].StartOffset != 0 {
				t.Fatalf("first chunk starts at %d, want 0", chunks[0].StartOffset)
			}
			if chunks[len(chunks)-1].EndOffset != len(normalized) {
				t.Fatalf("last chunk ends at %d, want %d", chunks[len(chunks)-1].EndOffset, len(normalized))
			}

			var rebuilt strings.Builder
			prevEnd := 0
			for i, c := range chunks {
				if c.Content != normalized[c.StartOffset:c.EndOffset] {
					t.Fatalf("chunk %d content does not match its offsets", i)
				}
				if len(c.Content) > tt.opts.TargetSize+tt.opts.Overlap {
					t.Fatalf("chunk %d length %d exceeds bound %d", i, len(c.Content), tt.opts.TargetSize+tt.opts.Overlap)
				}
				if c.StartOffset > prevEnd {
					t.Fatalf("chunk %d leaves a gap: start %d after previous end %d", i, c.StartOffset, prevEnd)
				}
				rebuilt.WriteString(c.Content[prevEnd-c.StartOffset:])
				prevEnd = c.EndOffset
			}

			if rebuilt.String() != normalized {
				t.Errorf("stripping overlaps does not reconstruct the normalized text")
			}
		})
	}
}

func TestSplitForwardProgress(t *testing.T) {
	// Overlap one below target size with separators everywhere used to be able
	// to stall the loop; the guard forces start = end in that case.
	text := strings.Repeat("ab ", 400)
	chunks, err := Split(text, Options{TargetSize: 10, Overlap: 9})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartOffset <= chunks[i-1].StartOffset {
			t.Fatalf("chunk %d does not advance past chunk %d", i, i-1)
		}
	}
}

func TestSplitConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "negative target", opts: Options{TargetSize: -1}},
		{name: "negative overlap", opts: Options{Overlap: -5}},
		{name: "overlap >= target", opts: Options{TargetSize: 100, Overlap: 100}},
		{name: "empty separator", opts: Options{Separators: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.opts)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Split() error = %v, want ConfigError", err)
			}
		})
	}
}

func TestMergeSmallChunks(t *testing.T) {
	text := strings.Repeat("Sentence one goes here. ", 60)
	chunks, err := Split(text, Options{TargetSize: 200, Overlap: 40})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	merged := MergeSmallChunks(chunks, 150, nil)
	for i, c := range merged {
		if c.Index != i {
			t.Errorf("chunk %d has index %d after renumbering", i, c.Index)
		}
		if i < len(merged)-1 && len(c.Content) < 150 {
			t.Errorf("non-final chunk %d still below min size: %d", i, len(c.Content))
		}
	}

	normalized := Normalize(text)
	for i, c := range merged {
		if c.Content != normalized[c.StartOffset:c.EndOffset] {
			t.Fatalf("merged chunk %d content does not match its offsets", i)
		}
	}

	// No-op cases.
	if got := MergeSmallChunks(nil, 100, nil); got != nil {
		t.Errorf("MergeSmallChunks(nil) = %v, want nil", got)
	}
	if got := MergeSmallChunks(chunks, 0, nil); len(got) != len(chunks) {
		t.Errorf("minSize 0 should not merge anything")
	}
}

func TestTiktokenEstimatorFallsBack(t *testing.T) {
	// An unknown encoding must not break token estimation.
	est := NewTiktokenEstimator("no_such_encoding")
	text := "twelve chars"
	if got, want := est.EstimateTokens(text), (HeuristicEstimator{}).EstimateTokens(text); got != want {
		t.Errorf("EstimateTokens = %d, want heuristic fallback %d", got, want)
	}

	chunks, err := Split(text, Options{Estimator: est})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 || chunks[0].TokenEstimate != 3 {
		t.Errorf("chunks = %+v, want one chunk with estimate 3", chunks)
	}
}
