// Package llm defines the minimal interface the research core uses to call
// a language model, plus helpers for parsing model output.
package llm

import "context"

// Client defines the minimal interface strategies and filters use to call
// an LLM. Transport retries are the implementation's concern; the core does
// not retry LLM calls.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
