package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rivergate-labs/veritas/pkg/orchestrator"
)

// writeOrchestratorError maps an orchestrator-layer error to an HTTP
// response, logging anything unexpected rather than leaking it verbatim.
func writeOrchestratorError(c *gin.Context, err error) {
	if errors.Is(err, orchestrator.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
		return
	}
	if errors.Is(err, orchestrator.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "item not found"})
		return
	}
	slog.Error("unexpected orchestrator error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
