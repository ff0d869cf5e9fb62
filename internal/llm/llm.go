// Package llm defines the completion and embedding collaborators the
// pipeline stages depend on, plus strict decoding of model JSON output.
package llm

import (
	"context"

	"github.com/hpungsan/trove/internal/cost"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a completion prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Response is the model's text plus the token usage it reported.
type Response struct {
	Text  string
	Usage cost.Usage
}

// Completer produces one completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// System and User build prompt messages.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

func User(content string) Message { return Message{Role: RoleUser, Content: content} }
