package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rivergate-labs/veritas/pkg/models"
)

// validModes is the set of JobMode values accepted on the wire.
var validModes = map[models.JobMode]bool{
	models.JobModeFast:     true,
	models.JobModeBalanced: true,
	models.JobModeDeep:     true,
}

// triggerJobHandler handles POST /api/v1/jobs. It creates (or returns the
// cached equivalent of) a Job and returns its id immediately; the stage
// machine runs to completion in the background.
func (s *Server) triggerJobHandler(c *gin.Context) {
	var req models.TriggerJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if req.InputRaw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "input_raw is required"})
		return
	}
	if req.TenantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "tenant_id is required"})
		return
	}
	if req.Mode == "" {
		req.Mode = models.JobModeBalanced
	}
	if !validModes[req.Mode] {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "mode must be one of fast, balanced, deep"})
		return
	}

	resp, err := s.orch.Trigger(c.Request.Context(), req)
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}

	// The request only waits for the job to be accepted; running it to
	// completion happens on a context detached from the request's, since
	// cancelling the HTTP response must not cancel the job.
	jobID := resp.JobID
	go func() {
		if err := s.orch.Run(context.Background(), jobID); err != nil {
			slog.Error("job run failed", "job_id", jobID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, resp)
}

// statusHandler handles GET /api/v1/jobs/:id.
func (s *Server) statusHandler(c *gin.Context) {
	resp, err := s.orch.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
