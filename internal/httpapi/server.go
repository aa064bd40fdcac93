// Package httpapi exposes the operator HTTP API over gin.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/usecase"
)

// Assembler is the use-case surface the API drives.
type Assembler interface {
	Run(ctx context.Context, issueID string) (usecase.Summary, error)
	Reprocess(ctx context.Context, issueID string) (usecase.Summary, error)
	OverrideSelection(ctx context.Context, issueID, moduleID string, ids []string) (domain.ModuleSelection, error)
	Inspect(ctx context.Context, issueID string) (usecase.IssueView, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	Limiter        gin.HandlerFunc
}

// Server owns the router and the background assembly runs it started.
type Server struct {
	assembler Assembler
	logger    *slog.Logger
	engine    *gin.Engine
	runs      sync.WaitGroup
}

// NewServer builds the gin engine with every route registered.
func NewServer(assembler Assembler, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{assembler: assembler, logger: logger.With("component", "httpapi")}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.accessLog())
	if len(opts.AllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = opts.AllowedOrigins
		engine.Use(cors.New(corsCfg))
	} else {
		engine.Use(cors.Default())
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1 := engine.Group("/v1")
	if opts.Limiter != nil {
		v1.Use(opts.Limiter)
	}
	{
		v1.GET("/issues/:id", s.getIssue)
		v1.POST("/issues/:id/assemble", s.assemble)
		v1.POST("/issues/:id/reprocess", s.reprocess)
		v1.PUT("/issues/:id/modules/:moduleID/selection", s.overrideSelection)
	}
	s.engine = engine
	return s
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler { return s.engine }

// Wait blocks until background runs finish or ctx ends.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) getIssue(c *gin.Context) {
	view, err := s.assembler.Inspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIssue(view))
}

func (s *Server) assemble(c *gin.Context) {
	s.start(c, "assemble", s.assembler.Run)
}

func (s *Server) reprocess(c *gin.Context) {
	s.start(c, "reprocess", s.assembler.Reprocess)
}

// start runs fn synchronously when ?wait=true, otherwise in the background detached
// from the request.
func (s *Server) start(c *gin.Context, op string, fn func(context.Context, string) (usecase.Summary, error)) {
	issueID := c.Param("id")
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if wait {
		summary, err := fn(c.Request.Context(), issueID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := fn(ctx, issueID); err != nil {
			s.logger.Error("background run failed", "op", op, "issue_id", issueID, "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"issue_id": issueID, "status": "accepted"})
}

func (s *Server) overrideSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sel, err := s.assembler.OverrideSelection(c.Request.Context(), c.Param("id"), c.Param("moduleID"), req.CandidateIDs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSelection(sel))
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrIssueNotFound), errors.Is(err, domain.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIssueFailed), errors.Is(err, domain.ErrIssueSent),
		errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrDuplicateIssue),
		errors.Is(err, domain.ErrCursorConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
