package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/core"
)

// Engine is the part of the copilot the transport needs.
type Engine interface {
	Ask(ctx context.Context, id, query string) (*core.Response, error)
	Abandon(ctx context.Context, id string) error
	Interrupt(id string) error
}

type Server struct {
	Engine Engine
	log    *zap.Logger
}

func NewServer(engine Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Engine: engine, log: log}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.Health)
	api := r.Group("/api")
	api.POST("/tsg_copilot", s.Ask)
	api.DELETE("/tsg_copilot/:id", s.Abandon)
	api.POST("/tsg_copilot/:id/interrupt", s.Interrupt)

	return r
}

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type AskRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query" binding:"required"`
}

type AskResponse struct {
	ConversationID string `json:"conversation_id"`
	core.Response
}

func (s *Server) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	resp, err := s.Engine.Ask(c.Request.Context(), req.ConversationID, req.Query)
	if err != nil {
		s.log.Error("request cycle failed", zap.String("conversation", req.ConversationID), zap.Error(err))
		body := gin.H{"conversation_id": req.ConversationID, "error": "Failed to process query"}
		if resp != nil {
			body["prompt"] = resp.Prompt
			body["response"] = resp.Response
			body["title"] = resp.Title
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	c.JSON(http.StatusOK, AskResponse{ConversationID: req.ConversationID, Response: *resp})
}

func (s *Server) Abandon(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.Abandon(c.Request.Context(), id); err != nil {
		s.log.Error("failed to abandon session", zap.String("conversation", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Interrupt hands the conversation's running request back to the fallback
// participant.
func (s *Server) Interrupt(c *gin.Context) {
	id := c.Param("id")
	err := s.Engine.Interrupt(id)
	switch {
	case errors.Is(err, core.ErrNotRunning):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation is not running"})
	case err != nil:
		s.log.Error("failed to interrupt", zap.String("conversation", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to interrupt"})
	default:
		c.Status(http.StatusAccepted)
	}
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
