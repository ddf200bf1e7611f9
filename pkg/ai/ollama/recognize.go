package ollama

import (
	"context"
	"encoding/json"

	"github.com/threadline-ai/threadline/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// Recognize runs structured entity recognition over one chunk of text. The
// schema of ai.Recognition is passed as the response format so the model
// returns constrained JSON.
func (c *Client) Recognize(ctx context.Context, chunkID string, text string, opts ...ai.GenerateOption) (*ai.Recognition, error) {
	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}
	if len(options.SystemPrompts) == 0 {
		options.SystemPrompts = []string{ai.BuildRecognitionPrompt(options.EntityTypes)}
	}

	var recognition ai.Recognition
	formatBytes, err := json.Marshal(ai.GenerateSchema(&recognition))
	if err != nil {
		return nil, err
	}

	messages := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		messages = append(messages, api.Message{Role: "system", Content: sp})
	}
	messages = append(messages, api.Message{Role: "user", Content: text})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: messages,
		Stream:   &stream,
		Format:   json.RawMessage(formatBytes),
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	var content string
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		content += cr.Message.Content
		return nil
	}); err != nil {
		return nil, err
	}

	if err := ai.UnmarshalFlexible(content, &recognition); err != nil {
		return nil, err
	}
	recognition.ChunkID = chunkID
	return &recognition, nil
}
