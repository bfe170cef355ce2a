package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		SetLevel(in)
		assert.Equal(t, want, Level(), in)
	}
}

func TestFromContext(t *testing.T) {
	assert.Same(t, L, FromContext(context.Background()))

	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil)).With("request_id", "r-1")
	ctx := NewContext(context.Background(), l)

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"r-1"`)
}

func TestSetOutput(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stdout) })
	before := L

	var buf bytes.Buffer
	SetOutput(&buf)
	L.Info("redirected", "n", 1)

	assert.Same(t, before, L)
	assert.Contains(t, buf.String(), `"msg":"redirected"`)
}

func TestSetOutput_WhileLogging(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stdout) })
	SetOutput(io.Discard)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				L.Info("tick", "j", j)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		SetOutput(io.Discard)
	}
	wg.Wait()
}
