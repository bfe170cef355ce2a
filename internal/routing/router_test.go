package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-gateway/avatar-relay/internal/credentials"
	"github.com/ai-gateway/avatar-relay/internal/metrics"
	"github.com/ai-gateway/avatar-relay/internal/provider"
)

// fakeProvider records every request and delegates to OpenFunc.
type fakeProvider struct {
	mu       sync.Mutex
	requests []*provider.Request
	OpenFunc func(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error)
}

func (f *fakeProvider) Open(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.OpenFunc(ctx, req)
}

func (f *fakeProvider) calls() []credentials.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]credentials.Credential, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Credential
	}
	return out
}

// fixedPool is a pool whose random start is chosen by the test.
type fixedPool struct {
	keys  []credentials.Credential
	start int
}

func (p *fixedPool) Size() int                       { return len(p.keys) }
func (p *fixedPool) At(i int) credentials.Credential { return p.keys[i] }
func (p *fixedPool) RandomIndex() int                { return p.start }

func keys(n int) []credentials.Credential {
	out := make([]credentials.Credential, n)
	for i := range out {
		out[i] = credentials.Credential(fmt.Sprintf("key-%d-abcdefghij", i))
	}
	return out
}

func streamOf(parts ...string) <-chan provider.Chunk {
	ch := make(chan provider.Chunk, len(parts))
	for _, p := range parts {
		ch <- provider.Chunk{Text: p}
	}
	close(ch)
	return ch
}

// failing returns a provider that rejects every credential in bad.
func failing(bad map[credentials.Credential]bool) *fakeProvider {
	return &fakeProvider{OpenFunc: func(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
		if bad[req.Credential] {
			return nil, errors.New("403 permission denied")
		}
		return streamOf("ok"), nil
	}}
}

func drain(ch <-chan provider.Chunk) (string, error) {
	var s string
	for c := range ch {
		if c.Err != nil {
			return s, c.Err
		}
		s += c.Text
	}
	return s, nil
}

func TestOpen_ZeroCredentialsNeverContactsProvider(t *testing.T) {
	p := failing(nil)
	r := New(&credentials.Pool{}, p)

	_, err := r.Open(context.Background(), "hello", nil)
	require.ErrorIs(t, err, ErrExhausted)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 0, ex.Attempts)
	assert.Empty(t, p.calls())
}

func TestOpenFrom_SucceedsFromEveryStartIndex(t *testing.T) {
	for k := 1; k <= 5; k++ {
		ks := keys(k)
		for good := 0; good < k; good++ {
			bad := map[credentials.Credential]bool{}
			for i, key := range ks {
				if i != good {
					bad[key] = true
				}
			}
			for start := 0; start < k; start++ {
				t.Run(fmt.Sprintf("k=%d/good=%d/start=%d", k, good, start), func(t *testing.T) {
					p := failing(bad)
					r := New(&fixedPool{keys: ks}, p)

					ch, err := r.OpenFrom(context.Background(), start, "hi", nil)
					require.NoError(t, err)
					out, err := drain(ch)
					require.NoError(t, err)
					assert.Equal(t, "ok", out)

					calls := p.calls()
					assert.LessOrEqual(t, len(calls), k)
					seen := map[credentials.Credential]bool{}
					for _, c := range calls {
						require.False(t, seen[c], "credential %s tried twice", c)
						seen[c] = true
					}
					assert.Equal(t, ks[good], calls[len(calls)-1])
					assert.Equal(t, (good-start+k)%k+1, len(calls))
				})
			}
		}
	}
}

func TestOpenFrom_AllBadMakesExactlyKAttempts(t *testing.T) {
	ks := keys(3)
	bad := map[credentials.Credential]bool{ks[0]: true, ks[1]: true, ks[2]: true}
	p := failing(bad)
	stats := metrics.NewRotation()
	r := New(&fixedPool{keys: ks}, p, WithMetrics(stats))

	_, err := r.OpenFrom(context.Background(), 1, "hi", nil)
	require.ErrorIs(t, err, ErrExhausted)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.EqualError(t, ex.Last, "403 permission denied")
	assert.Equal(t, []credentials.Credential{ks[1], ks[2], ks[0]}, p.calls())

	snap := stats.Snapshot()
	assert.Equal(t, 1, snap.Exhausted)
	for i := 0; i < 3; i++ {
		assert.Equal(t, metrics.Slot{Attempts: 1, Failures: 1}, snap.Slots[i])
	}
}

func TestOpen_RandomStartFromPool(t *testing.T) {
	ks := keys(4)
	p := failing(nil)
	r := New(&fixedPool{keys: ks, start: 2}, p)

	ch, err := r.Open(context.Background(), "hi", nil)
	require.NoError(t, err)
	_, _ = drain(ch)
	assert.Equal(t, []credentials.Credential{ks[2]}, p.calls())
}

func TestOpen_ForwardsWindowedHistoryAndFreshPrompt(t *testing.T) {
	history := make([]provider.Turn, 12)
	for i := range history {
		history[i] = provider.Turn{Role: provider.RoleUser, Content: fmt.Sprintf("t%d", i)}
	}
	n := 0
	p := failing(nil)
	r := New(&fixedPool{keys: keys(1)}, p, WithPrompt(func() string {
		n++
		return fmt.Sprintf("prompt-%d", n)
	}))

	ch, err := r.Open(context.Background(), "hello", history)
	require.NoError(t, err)
	_, _ = drain(ch)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	require.Len(t, req.History, 10)
	assert.Equal(t, "t2", req.History[0].Content)
	assert.Equal(t, "t11", req.History[9].Content)
	assert.Equal(t, "hello", req.Message)
	assert.Equal(t, "prompt-1", req.SystemPrompt)
}

func TestOpen_WindowAppliedBeforeBlankTurnsDropped(t *testing.T) {
	history := make([]provider.Turn, 12)
	for i := range history {
		history[i] = provider.Turn{Role: provider.RoleUser, Content: fmt.Sprintf("t%d", i)}
	}
	history[11].Content = "  "
	p := failing(nil)
	r := New(&fixedPool{keys: keys(1)}, p)

	ch, err := r.Open(context.Background(), "hello", history)
	require.NoError(t, err)
	_, _ = drain(ch)

	require.Len(t, p.requests, 1)
	var got []string
	for _, turn := range p.requests[0].History {
		got = append(got, turn.Content)
	}
	assert.Equal(t, []string{"t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10"}, got)
	assert.Equal(t, "  ", history[11].Content)
}

func TestOpenFrom_NormalizesStartIndex(t *testing.T) {
	ks := keys(3)
	for _, tc := range []struct {
		start int
		first credentials.Credential
	}{
		{start: -1, first: ks[2]},
		{start: -3, first: ks[0]},
		{start: -7, first: ks[2]},
		{start: 4, first: ks[1]},
	} {
		p := failing(map[credentials.Credential]bool{ks[0]: true, ks[1]: true, ks[2]: true})
		r := New(&fixedPool{keys: ks}, p)

		_, err := r.OpenFrom(context.Background(), tc.start, "hi", nil)
		require.ErrorIs(t, err, ErrExhausted, "start %d", tc.start)
		calls := p.calls()
		require.Len(t, calls, 3, "start %d", tc.start)
		assert.Equal(t, tc.first, calls[0], "start %d", tc.start)
		assert.ElementsMatch(t, ks, calls, "start %d", tc.start)
	}
}

func TestOpen_PromptRegeneratedPerAttempt(t *testing.T) {
	ks := keys(2)
	n := 0
	p := failing(map[credentials.Credential]bool{ks[0]: true})
	r := New(&fixedPool{keys: ks}, p, WithPrompt(func() string {
		n++
		return fmt.Sprintf("prompt-%d", n)
	}))

	ch, err := r.Open(context.Background(), "hello", nil)
	require.NoError(t, err)
	_, _ = drain(ch)

	require.Len(t, p.requests, 2)
	assert.Equal(t, "prompt-1", p.requests[0].SystemPrompt)
	assert.Equal(t, "prompt-2", p.requests[1].SystemPrompt)
}

func TestOpen_MidStreamErrorIsForwarded(t *testing.T) {
	p := &fakeProvider{OpenFunc: func(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
		ch := make(chan provider.Chunk, 2)
		ch <- provider.Chunk{Text: "partial"}
		ch <- provider.Chunk{Err: errors.New("connection reset")}
		close(ch)
		return ch, nil
	}}
	r := New(&fixedPool{keys: keys(2)}, p)

	ch, err := r.Open(context.Background(), "hello", nil)
	require.NoError(t, err)
	out, err := drain(ch)
	assert.Equal(t, "partial", out)
	require.EqualError(t, err, "connection reset")
	assert.Len(t, p.calls(), 1, "no rotation once a stream is open")
}

func TestOpen_AttemptTimeoutMovesToNextKey(t *testing.T) {
	ks := keys(2)
	p := &fakeProvider{OpenFunc: func(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
		if req.Credential == ks[0] {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return streamOf("fast"), nil
	}}
	r := New(&fixedPool{keys: ks}, p, WithAttemptTimeout(20*time.Millisecond))

	ch, err := r.Open(context.Background(), "hello", nil)
	require.NoError(t, err)
	out, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "fast", out)
	assert.Equal(t, ks, p.calls())
}

func TestOpen_CancelledContextStopsRotation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{OpenFunc: func(_ context.Context, _ *provider.Request) (<-chan provider.Chunk, error) {
		cancel()
		return nil, errors.New("boom")
	}}
	r := New(&fixedPool{keys: keys(3)}, p)

	_, err := r.Open(ctx, "hello", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, p.calls(), 1)
}
