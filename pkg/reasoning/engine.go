package reasoning

import (
	"context"
)

// Message is one turn of prior conversation passed to generation.
type Message struct {
	// Role is "user" or "assistant"
	Role string

	// Content is the message text
	Content string
}

// Option is a function that configures a generation request.
type Option func(*Options)

// Options holds configuration for a generation request.
type Options struct {
	// Temperature controls randomness in generation (0.0-1.0)
	Temperature float64

	// MaxTokens limits the length of the generated response
	MaxTokens int

	// Model specifies which model variant to use
	Model string
}

// DefaultOptions returns default generation options.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.7,
		MaxTokens:   1024,
		Model:       "", // Empty means use the adapter's default
	}
}

// WithTemperature sets the temperature option.
func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the max tokens option.
func WithMaxTokens(tokens int) Option {
	return func(o *Options) {
		o.MaxTokens = tokens
	}
}

// WithModel sets the model option.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// Engine is the interface for language model providers. One engine
// serves both capabilities the orchestrator needs: answer generation
// and embedding vectors.
type Engine interface {
	// Generate produces an answer from a system prompt, a user prompt,
	// and optional prior conversation turns.
	Generate(ctx context.Context, systemPrompt, userPrompt string, history []Message, opts ...Option) (string, error)

	// GenerateEmbeddings creates vector embeddings for the provided texts.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}
