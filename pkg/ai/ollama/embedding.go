package ollama

import (
	"context"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultDimensions = 768

// EmbedText creates a vector embedding for the given text using the
// configured embedding model. Empty input short-circuits to a zero vector.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
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

	res, err := c.Client.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, dim)
	for _, v := range res.Embeddings {
		for _, val := range v {
			if len(out) >= dim {
				break
			}
			out = append(out, float32(val))
		}
	}
	if len(out) < dim {
		padded := make([]float32, dim)
		copy(padded, out)
		out = padded
	}
	return out, nil
}
