package provider

import (
	"context"
	"strings"

	"github.com/ai-gateway/avatar-relay/internal/credentials"
)

// Roles accepted in a conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message of the caller's transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	History []Turn `json:"history,omitempty"`
}

// Request is everything a provider needs to open one reply stream.
type Request struct {
	Credential   credentials.Credential
	SystemPrompt string
	History      []Turn
	Message      string
}

// Chunk is one element of a reply stream. A chunk carrying Err is the last
// one sent before the channel is closed.
type Chunk struct {
	Text string
	Err  error
}

// Provider opens streaming replies from an upstream model. Open either fails
// before producing anything or returns a channel that is closed when the
// reply ends.
type Provider interface {
	Open(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Window returns the last n turns of history. n <= 0 disables truncation.
func Window(history []Turn, n int) []Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// Compact returns turns without the entries whose content is blank. The input
// slice is not modified.
func Compact(turns []Turn) []Turn {
	for i, t := range turns {
		if strings.TrimSpace(t.Content) != "" {
			continue
		}
		out := append(make([]Turn, 0, len(turns)-1), turns[:i]...)
		for _, rest := range turns[i+1:] {
			if strings.TrimSpace(rest.Content) != "" {
				out = append(out, rest)
			}
		}
		return out
	}
	return turns
}
