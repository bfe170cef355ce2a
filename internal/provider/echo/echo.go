package echo

import (
	"context"
	"strings"

	"github.com/ai-gateway/avatar-relay/internal/provider"
)

// Provider streams the user's message back word by word. It needs no
// network access and accepts any credential.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Open(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	words := strings.Fields(req.Message)
	ch := make(chan provider.Chunk)
	go func() {
		defer close(ch)
		if !send(ctx, ch, "Echo:") {
			return
		}
		for _, w := range words {
			if !send(ctx, ch, " "+w) {
				return
			}
		}
	}()
	return ch, nil
}

func send(ctx context.Context, ch chan<- provider.Chunk, text string) bool {
	select {
	case ch <- provider.Chunk{Text: text}:
		return true
	case <-ctx.Done():
		return false
	}
}
