// Package llm holds the chat-completion contract shared by the classifier and the
// invoice extractor, plus the HTTP, schema and rate-limit plumbing around it.
package llm

import "context"

// ChatCompleter sends one system + user exchange and returns the assistant text.
// Implementations are bound to a single model.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}
