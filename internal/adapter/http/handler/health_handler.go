package handler

import (
	"net/http"

	"txrelay/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// HealthHandler aggregates every registered ports.HealthChecker into a
// single readiness response.
type HealthHandler struct {
	checkers []ports.HealthChecker
}

// NewHealthHandler creates a HealthHandler over checkers.
func NewHealthHandler(checkers ...ports.HealthChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

// Live reports process liveness without touching any dependency.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "live"})
}

// Ready pings every dependency and reports 503 if any is unreachable.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	results := make(gin.H, len(h.checkers))
	healthy := true
	for _, checker := range h.checkers {
		if err := checker.Ping(ctx); err != nil {
			results[checker.Name()] = err.Error()
			healthy = false
		} else {
			results[checker.Name()] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": boolToStatus(healthy), "dependencies": results})
}

func boolToStatus(healthy bool) string {
	if healthy {
		return "ready"
	}
	return "degraded"
}
