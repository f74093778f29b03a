package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	cerrors "github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/reasoning"
)

var (
	// ErrInvalidConfig is returned when the adapter configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// Config holds the configuration for the OpenAI adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// EmbeddingModel is the model to use for embeddings, e.g., "text-embedding-3-small".
	EmbeddingModel string
	// ChatModel is the model to use for chat completions, e.g., "gpt-4o-mini".
	ChatModel string
	// BaseURL is the base URL for the OpenAI API (for testing).
	BaseURL string
}

// OpenAIAdapter implements the reasoning.Engine interface using the OpenAI API.
type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel string
	chatModel      string
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(config Config) (*OpenAIAdapter, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	// Set default models if not specified
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = "text-embedding-3-small"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	client := openai.NewClientWithConfig(clientConfig)

	return &OpenAIAdapter{
		client:         client,
		embeddingModel: config.EmbeddingModel,
		chatModel:      config.ChatModel,
	}, nil
}

// GenerateEmbeddings generates embeddings for the given texts using the OpenAI API.
func (a *OpenAIAdapter) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.Debug("Generating embeddings", "count", len(texts), "model", a.embeddingModel)

	request := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(a.embeddingModel),
	}

	response, err := a.client.CreateEmbeddings(ctx, request)
	if err != nil {
		log.Error("Failed to generate embeddings", "error", err)
		return nil, cerrors.Wrap(cerrors.ErrEmbeddingUnavailable, "openai embeddings request failed: %v", err)
	}

	embeddings := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		embeddings[i] = data.Embedding
	}

	log.Debug("Successfully generated embeddings",
		"count", len(embeddings),
		"dimension", len(embeddings[0]),
		"model", a.embeddingModel)

	return embeddings, nil
}

// Generate implements the reasoning.Engine interface.
func (a *OpenAIAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string, history []reasoning.Message, opts ...reasoning.Option) (string, error) {
	// Apply options
	options := reasoning.DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	// Override model if specified in options
	model := a.chatModel
	if options.Model != "" {
		model = options.Model
	}

	log.Debug("Processing chat request", "model", model, "history", len(history))

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range history {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	chatMessages = append(chatMessages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	request := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	}

	response, err := a.client.CreateChatCompletion(ctx, request)
	if err != nil {
		log.Error("Failed to generate chat completion", "error", err)
		return "", cerrors.Wrap(cerrors.ErrGenerationUnavailable, "openai chat request failed: %v", err)
	}

	if len(response.Choices) == 0 {
		return "", cerrors.Wrap(cerrors.ErrGenerationUnavailable, "no response choices returned")
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)

	log.Debug("Successfully generated response",
		"tokens", response.Usage.TotalTokens,
		"model", model)

	return content, nil
}
