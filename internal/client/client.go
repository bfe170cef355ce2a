// Package client consumes the relay's chat stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ai-gateway/avatar-relay/internal/logger"
	"github.com/ai-gateway/avatar-relay/internal/provider"
	"github.com/ai-gateway/avatar-relay/internal/sse"
)

const (
	// InterruptedMessage replaces the reply when the relay cannot be reached
	// or the connection drops.
	InterruptedMessage = "Communication with the Avatar Lite neural layer was interrupted. Please check your connection."
	// ErrorPrefix is prepended to error frames sent by the relay.
	ErrorPrefix = "Error: "

	chatPath = "/api/chat"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds a whole exchange, including reading the stream. It
// applies to a copy of the HTTP client configured so far.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ProcessQueryStream sends one chat turn and returns the reply fragments in
// arrival order. The channel is always closed; transport failures are
// reported as a single InterruptedMessage fragment instead of an error.
func (c *Client) ProcessQueryStream(ctx context.Context, message string, history []provider.Turn) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		err := c.stream(ctx, message, history, func(s string) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		logger.L.Error("relay stream failed", "error", err)
		select {
		case out <- InterruptedMessage:
		case <-ctx.Done():
		}
	}()
	return out
}

func (c *Client) stream(ctx context.Context, message string, history []provider.Turn, yield func(string) bool) error {
	body, err := json.Marshal(provider.ChatRequest{Message: message, History: history})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if f.Done {
			return nil
		}
		if f.Text != "" && !yield(f.Text) {
			return nil
		}
		if f.Error != "" && !yield(ErrorPrefix+f.Error) {
			return nil
		}
	}
}
