package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ai-gateway/avatar-relay/internal/guardrails"
	"github.com/ai-gateway/avatar-relay/internal/logger"
	"github.com/ai-gateway/avatar-relay/internal/metrics"
	"github.com/ai-gateway/avatar-relay/internal/provider"
	"github.com/ai-gateway/avatar-relay/internal/sse"
)

// ClientErrorMessage is the only failure text a client ever sees once a
// stream has started.
const ClientErrorMessage = "System connection interrupted. Please try again later."

// Opener starts an upstream reply stream for one chat turn.
type Opener interface {
	Open(ctx context.Context, message string, history []provider.Turn) (<-chan provider.Chunk, error)
}

type Server struct {
	addr   string
	engine *gin.Engine
	router Opener
	guards *guardrails.Guardrails
	stats  *metrics.Rotation
	tracer trace.Tracer
}

func New(addr string, router Opener, stats *metrics.Rotation) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	srv := &Server{
		addr:   addr,
		engine: r,
		router: router,
		guards: guardrails.New(),
		stats:  stats,
		tracer: otel.Tracer("github.com/ai-gateway/avatar-relay/internal/server"),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.POST("/chat", s.chat)
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.L.Info("relay listening", "address", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) chat(c *gin.Context) {
	requestID := uuid.NewString()
	log := logger.L.With("request_id", requestID)
	ctx := logger.NewContext(c.Request.Context(), log)
	ctx, span := s.tracer.Start(ctx, "relay.chat", trace.WithAttributes(attribute.String("request.id", requestID)))
	defer span.End()

	lc := newLifecycle(log)
	lc.fire(TriggerValidate)

	var req provider.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		lc.fire(TriggerReject)
		log.Info("rejected chat request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.guards.CheckInput(&req); err != nil {
		lc.fire(TriggerReject)
		log.Info("rejected chat request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lc.fire(TriggerAccept)

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Request-ID", requestID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	enc := sse.NewEncoder(c.Writer)
	sent, err := s.relay(ctx, enc, &req)
	s.stats.AddFragments(sent)
	if err != nil {
		lc.fire(TriggerFail)
		span.RecordError(err)
		span.SetStatus(codes.Error, "relay failed")
		log.Error("relay failed", "error", err, "fragments", sent)
		if werr := enc.Error(ClientErrorMessage); werr != nil {
			log.Debug("client gone before error frame", "error", werr)
		}
	} else {
		lc.fire(TriggerComplete)
		log.Info("relay complete", "fragments", sent)
	}
	if werr := enc.Done(); werr != nil {
		log.Debug("client gone before sentinel", "error", werr)
	}
}

// relay copies upstream fragments to the client as they arrive and returns
// how many were written.
func (s *Server) relay(ctx context.Context, enc *sse.Encoder, req *provider.ChatRequest) (int, error) {
	stream, err := s.router.Open(ctx, req.Message, req.History)
	if err != nil {
		return 0, err
	}
	sent := 0
	for chunk := range stream {
		if chunk.Err != nil {
			return sent, chunk.Err
		}
		if chunk.Text == "" {
			continue
		}
		if err := enc.Text(chunk.Text); err != nil {
			return sent, err
		}
		sent++
	}
	if err := ctx.Err(); err != nil {
		return sent, err
	}
	return sent, nil
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.L.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}
