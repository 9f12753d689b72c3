// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/package-chat/internal/audit"
	"github.com/your-org/package-chat/internal/catalog"
	"github.com/your-org/package-chat/internal/config"
	"github.com/your-org/package-chat/internal/conversation"
	"github.com/your-org/package-chat/internal/health"
	"github.com/your-org/package-chat/internal/metrics"
	"github.com/your-org/package-chat/internal/rag"
	"github.com/your-org/package-chat/internal/resilience"
)

const (
	// ShutdownTimeout bounds in-flight requests on shutdown
	ShutdownTimeout = 15 * time.Second
	// defaultAuditLimit is the page size of /audit/turns
	defaultAuditLimit = 20
	maxAuditLimit     = 200
	maxSearchTop      = 20
)

// ChatRequest represents the JSON payload for chat requests
type ChatRequest struct {
	Messages []conversation.Message `json:"messages" binding:"required"`
	Context  map[string]any         `json:"context,omitempty"`
}

type chatRunner interface {
	Run(ctx context.Context, conv conversation.Conversation) (*rag.ChatResponse, error)
}

type packageGetter interface {
	GetByURL(ctx context.Context, url string) (*catalog.Package, error)
}

type packageSearcher interface {
	SearchAndEmbed(ctx context.Context, text string, top int, enableVector, enableText bool, filters []catalog.Filter) ([]catalog.Package, error)
}

// SearchResponse is the body of /search
type SearchResponse struct {
	Packages []catalog.Package `json:"packages"`
	Count    int               `json:"count"`
}

type turnLog interface {
	Record(ctx context.Context, turn audit.Turn) error
	Recent(ctx context.Context, limit int) ([]audit.Turn, error)
	RouteCounts(ctx context.Context) (map[string]int, error)
}

type server struct {
	chat           chatRunner
	packages       packageGetter
	search         packageSearcher
	audit          turnLog
	metrics        *metrics.Metrics
	health         http.Handler
	errors         *resilience.ErrorHandler
	requestTimeout time.Duration
	logger         *zap.Logger
}

func newServer(deps *ServiceDependencies, cfg *config.Config, logger *zap.Logger) *server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	healthManager := health.NewManager(serviceName, "1.0.0", logger)
	setupHealthChecks(healthManager, deps)

	s := &server{
		chat:           deps.Chat,
		packages:       deps.Catalog,
		search:         deps.Catalog,
		metrics:        deps.Metrics,
		health:         healthManager.HTTPHandler(),
		errors:         resilience.NewErrorHandler(logger),
		requestTimeout: cfg.Server.RequestTimeout,
		logger:         logger,
	}
	if deps.Audit != nil {
		s.audit = deps.Audit
	}
	return s
}

func (s *server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.instrument())

	router.GET("/health", gin.WrapH(s.health))
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.POST("/chat", s.handleChat)
	router.GET("/packages/*url", s.handlePackage)
	router.GET("/search", s.handleSearch)

	if s.audit != nil {
		router.GET("/audit/turns", s.handleRecentTurns)
		router.GET("/audit/routes", s.handleRouteCounts)
	}
	return router
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests
func (s *server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting chat service", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down chat service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTP(path, strconv.Itoa(c.Writer.Status()))
	}
}

func (s *server) handleChat(c *gin.Context) {
	requestID := requestIDFrom(c)

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, resilience.NewBadRequestError("Invalid request format: "+err.Error(), err), requestID)
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(c, resilience.NewBadRequestError("messages must not be empty", rag.ErrEmptyConversation), requestID)
		return
	}

	ctx := c.Request.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	conv := conversation.New(req.Messages)
	start := time.Now()
	resp, err := s.chat.Run(ctx, conv)
	if err != nil {
		s.writeError(c, s.chatFailure(err), requestID)
		return
	}

	s.recordTurn(ctx, conv, resp, time.Since(start))
	c.JSON(http.StatusOK, resp)
}

// chatFailure maps orchestrator errors; anything not a timeout or a bad
// request is an upstream failure that outlived its retries
func (s *server) chatFailure(err error) *resilience.ServiceError {
	var serviceErr *resilience.ServiceError
	switch {
	case errors.As(err, &serviceErr):
		return serviceErr
	case errors.Is(err, rag.ErrEmptyConversation):
		return resilience.NewBadRequestError("messages must not be empty", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return s.errors.WrapError(err, "answering the chat")
	default:
		return resilience.NewDependencyFailureError("The assistant is temporarily unavailable. Please try again later.", err)
	}
}

func (s *server) recordTurn(ctx context.Context, conv conversation.Conversation, resp *rag.ChatResponse, elapsed time.Duration) {
	if s.audit == nil {
		return
	}

	thoughts, err := json.Marshal(resp.Thoughts())
	if err != nil {
		s.logger.Warn("Failed to encode thoughts for audit", zap.Error(err))
	}

	turn := audit.Turn{
		Route:    resp.Route,
		Query:    conv.LastUserText(),
		Answer:   resp.Content(),
		Thoughts: string(thoughts),
		Duration: elapsed.Milliseconds(),
	}
	if err := s.audit.Record(ctx, turn); err != nil {
		s.logger.Warn("Failed to record chat turn", zap.Error(err))
	}
}

func (s *server) handlePackage(c *gin.Context) {
	requestID := requestIDFrom(c)
	url := strings.TrimPrefix(c.Param("url"), "/")
	if url == "" {
		s.writeError(c, resilience.NewBadRequestError("package url is required", nil), requestID)
		return
	}

	pkg, err := s.packages.GetByURL(c.Request.Context(), url)
	if errors.Is(err, catalog.ErrPackageNotFound) {
		s.writeError(c, resilience.NewNotFoundError("Package not found", err), requestID)
		return
	}
	if err != nil {
		s.writeError(c, s.errors.WrapError(err, "looking up the package"), requestID)
		return
	}

	c.JSON(http.StatusOK, pkg)
}

func (s *server) handleSearch(c *gin.Context) {
	requestID := requestIDFrom(c)
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		s.writeError(c, resilience.NewBadRequestError("q is required", nil), requestID)
		return
	}

	top := catalog.DefaultTop
	if raw := c.Query("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchTop {
			s.writeError(c, resilience.NewBadRequestError(
				fmt.Sprintf("top must be between 1 and %d", maxSearchTop), err), requestID)
			return
		}
		top = n
	}

	vector, text, err := searchMode(c.DefaultQuery("mode", searchModeHybrid))
	if err != nil {
		s.writeError(c, resilience.NewBadRequestError(err.Error(), err), requestID)
		return
	}

	packages, err := s.search.SearchAndEmbed(c.Request.Context(), query, top, vector, text, nil)
	if err != nil {
		s.writeError(c, s.errors.WrapError(err, "searching packages"), requestID)
		return
	}
	if packages == nil {
		packages = []catalog.Package{}
	}

	c.JSON(http.StatusOK, SearchResponse{Packages: packages, Count: len(packages)})
}

const (
	searchModeHybrid = "hybrid"
	searchModeVector = "vector"
	searchModeText   = "text"
)

// searchMode maps a mode name to the vector and text switches of a catalog search
func searchMode(mode string) (vector, text bool, err error) {
	switch mode {
	case searchModeHybrid:
		return true, true, nil
	case searchModeVector:
		return true, false, nil
	case searchModeText:
		return false, true, nil
	default:
		return false, false, fmt.Errorf("mode must be one of %s, %s or %s", searchModeHybrid, searchModeVector, searchModeText)
	}
}

func (s *server) handleRecentTurns(c *gin.Context) {
	requestID := requestIDFrom(c)
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			s.writeError(c, resilience.NewBadRequestError(
				fmt.Sprintf("limit must be between 1 and %d", maxAuditLimit), err), requestID)
			return
		}
		limit = n
	}

	turns, err := s.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		s.writeAuditError(c, err, requestID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns, "count": len(turns)})
}

func (s *server) handleRouteCounts(c *gin.Context) {
	counts, err := s.audit.RouteCounts(c.Request.Context())
	if err != nil {
		s.writeAuditError(c, err, requestIDFrom(c))
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": counts})
}

func (s *server) writeAuditError(c *gin.Context, err error, requestID string) {
	if errors.Is(err, audit.ErrUnsupported) {
		s.writeError(c, resilience.NewServiceError(err.Error(), resilience.ErrorCodeBadRequest,
			http.StatusNotImplemented, err), requestID)
		return
	}
	s.writeError(c, s.errors.WrapError(err, "reading the audit log"), requestID)
}

func (s *server) writeError(c *gin.Context, serviceErr *resilience.ServiceError, requestID string) {
	if serviceErr.StatusCode >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestID),
			zap.Int("status", serviceErr.StatusCode),
			zap.Error(serviceErr.Internal))
	}
	c.AbortWithStatusJSON(serviceErr.StatusCode, serviceErr.ToErrorResponse(requestID))
}

func requestIDFrom(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}
