package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/taskmesh/internal/application/orchestrator"
	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxResultWait bounds the ?wait= long poll on results
const maxResultWait = 10 * time.Minute

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string          `json:"run_id"`
	State       domain.RunState `json:"state"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// PendingResultResponse is returned while a run is still executing
type PendingResultResponse struct {
	RunID string          `json:"run_id"`
	State domain.RunState `json:"state"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"active_runs": s.orchestrator.ActiveRuns(),
	}

	if s.health == nil {
		c.JSON(http.StatusOK, body)
		return
	}

	status := s.health.GetStatus()
	body["in_flight_calls"] = status.InFlight
	body["capabilities"] = len(status.Capabilities)
	if len(status.Saturated) > 0 {
		body["saturated"] = status.Saturated
	}
	if !status.Healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}

// handleSubmitRun validates a task graph and starts executing it
func (s *Server) handleSubmitRun(c *gin.Context) {
	var spec domain.GraphSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	handle, err := s.orchestrator.Submit(c.Request.Context(), spec)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       handle.ID,
		State:       domain.RunStateRunning,
		SubmittedAt: time.Now().UTC(),
	})
}

// handleGetRun returns a progress snapshot
func (s *Server) handleGetRun(c *gin.Context) {
	snapshot, err := s.orchestrator.Status(c.Request.Context(), domain.RunHandle{ID: c.Param("id")})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// handleGetResult returns the synthesized result, optionally waiting up to ?wait=
func (s *Server) handleGetResult(c *gin.Context) {
	handle := domain.RunHandle{ID: c.Param("id")}

	wait, err := parseWait(c.Query("wait"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_WAIT",
				Message: err.Error(),
			},
		})
		return
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()

		result, err := s.orchestrator.Await(ctx, handle)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, result)
			return
		case !errors.Is(err, context.DeadlineExceeded):
			s.writeError(c, err)
			return
		}
	}

	result, ready, err := s.orchestrator.Result(c.Request.Context(), handle)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ready {
		c.JSON(http.StatusAccepted, PendingResultResponse{
			RunID: handle.ID,
			State: domain.RunStateRunning,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.Cancel(c.Request.Context(), domain.RunHandle{ID: runID}); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":       runID,
		"state":        domain.RunStateCancelled,
		"cancelled_at": time.Now().UTC(),
	})
}

// handleListCapabilities lists registered capabilities with their limits
func (s *Server) handleListCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"capabilities": s.orchestrator.Capabilities(),
	})
}

// handleClearCache drops every cached capability output
func (s *Server) handleClearCache(c *gin.Context) {
	if err := s.orchestrator.ClearCache(c.Request.Context()); err != nil {
		s.logger.Error("failed to clear cache", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CACHE_ERROR",
				Message: "Failed to clear cache",
				Details: err.Error(),
			},
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// writeError maps orchestrator errors to HTTP responses
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		status = http.StatusInternalServerError
		detail = ErrorDetail{Code: "INTERNAL", Message: err.Error()}
		cyclic *domain.CyclicGraphError
	)

	switch {
	case errors.As(err, &cyclic):
		status = http.StatusBadRequest
		detail.Code = "CYCLIC_GRAPH"
		detail.Details = gin.H{"cycle": cyclic.Cycle}
	case errors.Is(err, domain.ErrInvalidGraph):
		status, detail.Code = http.StatusBadRequest, "INVALID_GRAPH"
	case errors.Is(err, domain.ErrUnknownDependency):
		status, detail.Code = http.StatusBadRequest, "UNKNOWN_DEPENDENCY"
	case errors.Is(err, domain.ErrUnknownCapability):
		status, detail.Code = http.StatusBadRequest, "UNKNOWN_CAPABILITY"
	case errors.Is(err, domain.ErrRunNotFound):
		status, detail.Code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrRunFinished):
		status, detail.Code = http.StatusConflict, "RUN_FINISHED"
	case errors.Is(err, orchestrator.ErrShuttingDown):
		status, detail.Code = http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(status, ErrorResponse{Error: detail})
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	wait, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if wait < 0 {
		return 0, errors.New("wait must not be negative")
	}
	if wait > maxResultWait {
		wait = maxResultWait
	}
	return wait, nil
}
