// Package gemini talks to Google's Gemini models through their
// OpenAI-compatible chat completions endpoint.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/ai-gateway/avatar-relay/internal/provider"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-3-flash-preview"
)

// Config configures the Gemini provider.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float32
	HTTPClient  *http.Client
}

// Provider implements provider.Provider. A fresh client is built per call
// because every attempt may use a different API key.
type Provider struct {
	cfg Config
}

func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Open(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	oc := openai.DefaultConfig(string(req.Credential))
	oc.BaseURL = p.cfg.BaseURL
	if p.cfg.HTTPClient != nil {
		oc.HTTPClient = p.cfg.HTTPClient
	}
	client := openai.NewClientWithConfig(oc)

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    Messages(req.SystemPrompt, req.History, req.Message),
		Temperature: p.cfg.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gemini stream: %w", err)
	}

	ch := make(chan provider.Chunk)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- provider.Chunk{Err: fmt.Errorf("gemini stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case ch <- provider.Chunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// Messages builds the upstream message list: system prompt, mapped history,
// then the new user message.
func Messages(systemPrompt string, history []provider.Turn, message string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: Role(t.Role), Content: t.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
}

// Role maps a transcript role onto the upstream vocabulary. Anything that is
// not the user is treated as the model.
func Role(role string) string {
	if role == provider.RoleUser {
		return openai.ChatMessageRoleUser
	}
	return openai.ChatMessageRoleAssistant
}

var _ provider.Provider = (*Provider)(nil)
