package guardrails

import (
	"errors"
	"strings"

	"github.com/ai-gateway/avatar-relay/internal/provider"
)

// ErrMessageRequired is returned for a missing or blank message.
var ErrMessageRequired = errors.New("message is required")

// Guardrails validates chat requests before anything is sent upstream.
type Guardrails struct{}

func New() *Guardrails {
	return &Guardrails{}
}

// CheckInput returns an error if req cannot be relayed. History is left as
// sent; the router windows it before dropping blank turns.
func (g *Guardrails) CheckInput(req *provider.ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return ErrMessageRequired
	}
	return nil
}
