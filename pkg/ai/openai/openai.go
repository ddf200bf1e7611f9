// Package openai backs the ai interfaces with OpenAI-compatible chat and
// embedding endpoints.
package openai

import (
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"golang.org/x/sync/semaphore"
)

// Client talks to OpenAI-compatible endpoints. Separate underlying clients
// for chat and embeddings allow the two workloads to hit different hosts.
type Client struct {
	extractionModel string
	embeddingModel  string
	dimensions      int

	reqLock *semaphore.Weighted

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// Params configures a new Client. Leave EmbeddingURL or ChatURL empty to use
// the default API host; leave a key empty to disable that capability.
type Params struct {
	ExtractionModel string
	EmbeddingModel  string
	Dimensions      int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	MaxConcurrentRequests int64
}

// New creates a Client from the given parameters.
func New(params Params) *Client {
	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Client{
		extractionModel: params.ExtractionModel,
		embeddingModel:  params.EmbeddingModel,
		dimensions:      params.Dimensions,

		reqLock: semaphore.NewWeighted(maxConcurrent),

		ChatClient:      newClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newClient(baseURL, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(options...)
	return &client
}
