// Package llm abstracts the language model used for intent extraction.
package llm

import "context"

// Client generates a completion for a single prompt. Implementations
// must honor ctx cancellation.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerateFunc adapts a function to the Client interface (used in tests).
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

func (f GenerateFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
