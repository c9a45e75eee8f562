// Package api exposes the screening service over HTTP: submitting runs,
// fetching rankings, summaries and top-K lists, and streaming run progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/config"
	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/internal/engine"
	"github.com/stroke-trial-screener/internal/middleware"
	"github.com/stroke-trial-screener/internal/results"
)

// RunRequest is the JSON body of a run submission. Study is a criteria
// document merged over the documented defaults; Scores and Labels are
// optional.
type RunRequest struct {
	Study      map[string]interface{} `json:"study,omitempty"`
	Admissions []domain.Admission     `json:"admissions" binding:"required"`
	Scores     map[string]float64     `json:"scores,omitempty"`
	Labels     map[string]bool        `json:"labels,omitempty"`
}

// Server represents the screening HTTP server
type Server struct {
	cfg    *domain.Config
	engine *engine.Engine
	store  results.Store
	cache  *ResponseCache
	hub    *ProgressHub
	router *gin.Engine
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, eng *engine.Engine, store results.Store, logger *logrus.Logger) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	requestTimeout := cfg.Server.WriteTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	router := gin.New()
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(requestTimeout))
	router.Use(corsMiddleware())

	hub := NewProgressHub(logger)
	eng.SetProgressSink(hub.Publish)

	s := &Server{
		cfg:    cfg,
		engine: eng,
		store:  store,
		cache:  NewResponseCache(cfg.Cache, logger),
		hub:    hub,
		router: router,
		logger: logger,
	}

	s.setupRoutes()

	return s
}

// Start starts the HTTP server and blocks until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Screening API listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("starting server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.cache.Close()
	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/runs", s.handleCreateRun)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.DELETE("/runs/:id", s.handleDeleteRun)
		v1.GET("/runs/:id/ranking", s.handleGetRanking)
		v1.GET("/runs/:id/summary", s.handleGetSummary)
		v1.GET("/runs/:id/topk", s.handleGetTopK)
		v1.GET("/runs/:id/export", s.handleExportRun)
		v1.GET("/runs/:id/events", s.handleEvents)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleCreateRun executes a screening run synchronously and persists the
// result. Criteria problems map to 400; everything downstream of a valid
// request maps to 500.
func (s *Server) handleCreateRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, err.Error())
		return
	}

	cfg := domain.DefaultStudyConfig()
	if req.Study != nil {
		loaded, err := config.LoadStudyFromMap(req.Study)
		if err != nil {
			var cfgErr *domain.ConfigurationError
			if errors.As(err, &cfgErr) {
				s.respondError(c, http.StatusBadRequest, domain.ErrInvalidConfig, cfgErr.Error())
				return
			}
			s.respondError(c, http.StatusBadRequest, domain.ErrInvalidConfig, err.Error())
			return
		}
		cfg = loaded
	}

	result, err := s.engine.Run(c.Request.Context(), engine.Request{
		Config:     cfg,
		Admissions: req.Admissions,
		Scores:     req.Scores,
		Labels:     req.Labels,
	})
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrRunFailure, err.Error())
		return
	}

	if err := s.store.SaveRun(c.Request.Context(), result, cfg); err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"run_id":  result.RunID,
		"status":  result.Status,
		"summary": result.Summary,
		"quality": result.Quality,
	})
}

// handleListRuns handles run listing with pagination
func (s *Server) handleListRuns(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	records, err := s.store.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": records, "count": len(records)})
}

// handleGetRun handles run retrieval requests
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleDeleteRun handles run deletion requests
func (s *Server) handleDeleteRun(c *gin.Context) {
	if err := s.store.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleGetRanking serves the ranked candidate list, optionally capped by
// ?limit=. Responses are cached: stored rankings are immutable.
func (s *Server) handleGetRanking(c *gin.Context) {
	runID := c.Param("id")
	limit := intQuery(c, "limit", 0)
	cacheKey := fmt.Sprintf("ranking:%s:%d", runID, limit)

	if body := s.cache.Get(c.Request.Context(), cacheKey); body != nil {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	entries, err := s.store.GetRanking(c.Request.Context(), runID, limit)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if entries == nil {
		// Distinguish an unknown run from an empty ranking.
		if _, err := s.store.GetRun(c.Request.Context(), runID); err != nil {
			s.respondStoreError(c, err)
			return
		}
		entries = []domain.RankingEntry{}
	}

	s.respondCached(c, cacheKey, gin.H{"run_id": runID, "ranking": entries})
}

// handleGetSummary serves the exclusion summary of a run.
func (s *Server) handleGetSummary(c *gin.Context) {
	runID := c.Param("id")
	cacheKey := "summary:" + runID

	if body := s.cache.Get(c.Request.Context(), cacheKey); body != nil {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	s.respondCached(c, cacheKey, gin.H{
		"run_id":  run.RunID,
		"status":  run.Status,
		"summary": run.Summary,
		"quality": run.Quality,
	})
}

// handleGetTopK serves one top-K review list. Top-K lists are prefixes of the
// full ranking, so the list is served straight from the ranking rows.
func (s *Server) handleGetTopK(c *gin.Context) {
	runID := c.Param("id")
	k := intQuery(c, "k", 0)
	if k <= 0 {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "query parameter k must be a positive integer")
		return
	}

	entries, err := s.store.GetRanking(c.Request.Context(), runID, k)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if entries == nil {
		if _, err := s.store.GetRun(c.Request.Context(), runID); err != nil {
			s.respondStoreError(c, err)
			return
		}
		entries = []domain.RankingEntry{}
	}

	c.JSON(http.StatusOK, domain.TopKList{K: k, Entries: entries})
}

// handleExportRun streams the full stored run as JSON for audit handoff.
func (s *Server) handleExportRun(c *gin.Context) {
	runID := c.Param("id")
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run_"+runID+".json"))

	if err := s.store.ExportJSON(c.Request.Context(), runID, c.Writer); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
	}
}

// handleEvents upgrades to a websocket and streams run progress events.
func (s *Server) handleEvents(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request, c.Param("id"))
}

func (s *Server) respondCached(c *gin.Context, cacheKey string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrInternal, err.Error())
		return
	}
	s.cache.Set(c.Request.Context(), cacheKey, body)
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrRunNotFound) {
		s.respondError(c, http.StatusNotFound, domain.ErrNotFound, "run not found")
		return
	}
	s.respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, err.Error())
}

func (s *Server) respondError(c *gin.Context, status int, code, details string) {
	apiErr := domain.NewAPIError(code, http.StatusText(status), details, c.GetString("correlation_id"))
	c.AbortWithStatusJSON(status, apiErr)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
