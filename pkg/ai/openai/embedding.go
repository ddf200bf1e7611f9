package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
)

const defaultDimensions = 1536

// EmbedText creates a vector embedding for the given text using the
// configured embedding model. Empty input yields a zero vector without a
// request.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if c.EmbeddingClient == nil {
		return nil, fmt.Errorf("embedding endpoint not configured")
	}

	dim := c.dimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, dim), nil
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: c.embeddingModel,
	}
	response, err := c.EmbeddingClient.Embeddings.New(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(response.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(response.Data))
	}

	vec := make([]float32, 0, dim)
	for _, v := range response.Data[0].Embedding {
		if len(vec) >= dim {
			break
		}
		vec = append(vec, float32(v))
	}
	if len(vec) < dim {
		padded := make([]float32, dim)
		copy(padded, vec)
		vec = padded
	}
	return vec, nil
}
