// Package mock provides deterministic in-process implementations of the ai
// interfaces for tests and local development without a model backend.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/threadline-ai/threadline/backend/pkg/ai"
)

const maxMentionsPerChunk = 8

// Recognizer is a test double for ai.Recognizer. Behavior can be overridden
// per test through RecognizeFunc; the default derives mentions from
// capitalized words so pipeline tests get stable, non-empty results.
type Recognizer struct {
	RecognizeFunc func(ctx context.Context, chunkID, text string) (*ai.Recognition, error)

	mu    sync.Mutex
	calls int
}

func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

func (r *Recognizer) Recognize(ctx context.Context, chunkID, text string, _ ...ai.GenerateOption) (*ai.Recognition, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.RecognizeFunc != nil {
		return r.RecognizeFunc(ctx, chunkID, text)
	}

	recognition := &ai.Recognition{ChunkID: chunkID}
	seen := make(map[string]bool)
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) < 2 || word[0] < 'A' || word[0] > 'Z' {
			continue
		}
		key := strings.ToLower(word)
		if seen[key] {
			continue
		}
		seen[key] = true
		recognition.Entities = append(recognition.Entities, ai.EntityMention{
			Name:       word,
			Type:       "CONCEPT",
			Confidence: 0.9,
		})
		if len(recognition.Entities) >= maxMentionsPerChunk {
			break
		}
	}

	// Chain adjacent mentions so relationship handling gets exercised.
	for i := 1; i < len(recognition.Entities); i++ {
		recognition.Relationships = append(recognition.Relationships, ai.RelationshipMention{
			SourceName: recognition.Entities[i-1].Name,
			TargetName: recognition.Entities[i].Name,
			Type:       "mentioned_with",
			Confidence: 0.5,
		})
	}

	return recognition, nil
}

// Calls reports how many times Recognize ran.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Embedder is a test double for ai.Embedder producing deterministic vectors
// derived from the text hash.
type Embedder struct {
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	Dimensions int
}

func NewEmbedder(dimensions int) *Embedder {
	return &Embedder{Dimensions: dimensions}
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if e.EmbedTextFunc != nil {
		return e.EmbedTextFunc(ctx, text)
	}

	dim := e.Dimensions
	if dim <= 0 {
		dim = 384
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vector := make([]float32, dim)
	for i := range vector {
		seed = seed*6364136223846793005 + 1442695040888963407
		vector[i] = float32(int64(seed>>33))/float32(1<<31) - 0.5
	}
	return vector, nil
}
