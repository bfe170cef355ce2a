package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-gateway/avatar-relay/internal/credentials"
	"github.com/ai-gateway/avatar-relay/internal/provider"
)

type captured struct {
	req  openai.ChatCompletionRequest
	auth string
}

func streamServer(t *testing.T, deltas []string) (*httptest.Server, <-chan captured) {
	t.Helper()
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var c captured
		c.auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&c.req))
		seen <- c

		w.Header().Set("Content-Type", "text/event-stream")
		for i, d := range deltas {
			fmt.Fprintf(w, "data: {\"id\":\"c%d\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", i, d)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	return srv, seen
}

func TestOpen_StreamsDeltas(t *testing.T) {
	srv, seen := streamServer(t, []string{"Hi", " there"})
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Model: "gemini-test", Temperature: 0.7})
	ch, err := p.Open(context.Background(), &provider.Request{
		Credential:   credentials.Credential("key-abcdefghijkl"),
		SystemPrompt: "be brief",
		History:      []provider.Turn{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}},
		Message:      "hello",
	})
	require.NoError(t, err)

	var parts []string
	for c := range ch {
		require.NoError(t, c.Err)
		parts = append(parts, c.Text)
	}
	assert.Equal(t, []string{"Hi", " there"}, parts)

	got := <-seen
	assert.Equal(t, "Bearer key-abcdefghijkl", got.auth)
	assert.Equal(t, "gemini-test", got.req.Model)
	assert.True(t, got.req.Stream)
	require.Len(t, got.req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.req.Messages[0].Role)
	assert.Equal(t, "hello", got.req.Messages[3].Content)
}

func TestOpen_FailsOnUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded","code":429}}`)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Open(context.Background(), &provider.Request{
		Credential: credentials.Credential("key-abcdefghijkl"),
		Message:    "hello",
	})
	require.Error(t, err)
}

func TestMessages_MapsRoles(t *testing.T) {
	msgs := Messages("", []provider.Turn{
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "avatar", Content: "3"},
	}, "4")

	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[3].Role)
	assert.Equal(t, "4", msgs[3].Content)
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, DefaultBaseURL, p.cfg.BaseURL)
	assert.Equal(t, DefaultModel, p.cfg.Model)
}
