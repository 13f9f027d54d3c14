// Package translation turns batches of Korean text into English through a
// configurable model provider, with retry, degradation and circuit-breaker
// protection around the calls.
package translation

import "context"

// Usage is the token count of one model call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Client is a model provider capable of a single prompt/response exchange.
type Client interface {
	// Generate sends one prompt and returns the raw response text plus
	// the token usage the provider reported.
	Generate(ctx context.Context, prompt string) (string, Usage, error)
	// Name identifies the provider for logs.
	Name() string
}
