package openai

import (
	"context"
	"fmt"

	"github.com/threadline-ai/threadline/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// Recognize runs structured entity recognition over one chunk of text using
// the extraction model. The JSON schema of ai.Recognition is enforced through
// the response format; malformed outputs go through flexible unmarshaling.
func (c *Client) Recognize(ctx context.Context, chunkID string, text string, opts ...ai.GenerateOption) (*ai.Recognition, error) {
	if c.ChatClient == nil {
		return nil, fmt.Errorf("chat endpoint not configured")
	}

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
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "recognize_entities_and_relationships",
		Description: openai.String("Entities and relationships found in a text excerpt."),
		Schema:      ai.GenerateSchema(&recognition),
		Strict:      openai.Bool(true),
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(text))

	body := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(options.Model),
		Messages: msgs,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Temperature: openai.Float(options.Temperature),
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response from model")
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return nil, fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}

	if err := ai.UnmarshalFlexible(message, &recognition); err != nil {
		return nil, err
	}
	recognition.ChunkID = chunkID
	return &recognition, nil
}
