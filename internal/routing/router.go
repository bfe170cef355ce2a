// Package routing spreads chat turns over the configured credentials and
// falls back to the next credential when an upstream attempt fails.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ai-gateway/avatar-relay/internal/credentials"
	"github.com/ai-gateway/avatar-relay/internal/logger"
	"github.com/ai-gateway/avatar-relay/internal/metrics"
	"github.com/ai-gateway/avatar-relay/internal/provider"
)

// DefaultHistoryWindow is the number of prior turns forwarded upstream.
const DefaultHistoryWindow = 10

// ErrExhausted matches any *ExhaustedError.
var ErrExhausted = errors.New("credential pool exhausted")

// ExhaustedError reports that every credential was tried and failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all %d keys exhausted", e.Attempts)
	}
	return fmt.Sprintf("all %d keys exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Credentials is the read-only view of a credential pool.
type Credentials interface {
	Size() int
	At(index int) credentials.Credential
	RandomIndex() int
}

// Router opens upstream streams, rotating credentials on failure.
type Router struct {
	creds          Credentials
	provider       provider.Provider
	prompt         func() string
	historyWindow  int
	attemptTimeout time.Duration
	stats          *metrics.Rotation
	tracer         trace.Tracer
}

type Option func(*Router)

// WithPrompt sets the system prompt source. It is called once per attempt.
func WithPrompt(fn func() string) Option {
	return func(r *Router) { r.prompt = fn }
}

func WithHistoryWindow(n int) Option {
	return func(r *Router) { r.historyWindow = n }
}

// WithAttemptTimeout bounds how long one attempt may take to open a stream.
// Zero disables the deadline.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Router) { r.attemptTimeout = d }
}

func WithMetrics(m *metrics.Rotation) Option {
	return func(r *Router) { r.stats = m }
}

func New(creds Credentials, p provider.Provider, opts ...Option) *Router {
	r := &Router{
		creds:         creds,
		provider:      p,
		prompt:        func() string { return "" },
		historyWindow: DefaultHistoryWindow,
		tracer:        otel.Tracer("github.com/ai-gateway/avatar-relay/internal/routing"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open starts a reply stream for message, beginning the rotation at a random
// credential.
func (r *Router) Open(ctx context.Context, message string, history []provider.Turn) (<-chan provider.Chunk, error) {
	if r.creds.Size() == 0 {
		r.stats.Exhausted()
		return nil, &ExhaustedError{}
	}
	return r.OpenFrom(ctx, r.creds.RandomIndex(), message, history)
}

// OpenFrom is Open with a fixed starting slot. Each credential is tried at
// most once, in order start, start+1, ... wrapping around the pool.
func (r *Router) OpenFrom(ctx context.Context, start int, message string, history []provider.Turn) (<-chan provider.Chunk, error) {
	size := r.creds.Size()
	if size == 0 {
		r.stats.Exhausted()
		return nil, &ExhaustedError{}
	}
	start = ((start % size) + size) % size
	log := logger.FromContext(ctx)
	turns := provider.Compact(provider.Window(history, r.historyWindow))

	var lastErr error
	for attempt := 0; attempt < size; attempt++ {
		index := (start + attempt) % size
		cred := r.creds.At(index)
		log.Info("upstream attempt", "attempt", attempt+1, "of", size, "slot", index+1, "key", cred)

		ch, err := r.attempt(ctx, index, &provider.Request{
			Credential:   cred,
			SystemPrompt: r.prompt(),
			History:      turns,
			Message:      message,
		})
		r.stats.Attempt(index, err)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		log.Warn("upstream attempt failed", "slot", index+1, "key", cred, "error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	r.stats.Exhausted()
	return nil, &ExhaustedError{Attempts: size, Last: lastErr}
}

func (r *Router) attempt(ctx context.Context, index int, req *provider.Request) (<-chan provider.Chunk, error) {
	ctx, span := r.tracer.Start(ctx, "upstream.attempt", trace.WithAttributes(attribute.Int("credential.slot", index+1)))
	defer span.End()

	actx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if r.attemptTimeout > 0 {
		timer = time.AfterFunc(r.attemptTimeout, cancel)
	}

	src, err := r.provider.Open(actx, req)
	if timer != nil && !timer.Stop() {
		cancel()
		err = fmt.Errorf("no stream within %s: %w", r.attemptTimeout, context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
		return nil, err
	}

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		defer cancel()
		for c := range src {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
