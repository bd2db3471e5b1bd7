package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-records/internal/service"
	"github.com/noah-isme/student-records/pkg/response"
)

const readyTimeout = 3 * time.Second

type upstreamPinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	pinger  upstreamPinger
}

// NewMetricsHandler constructs a metrics handler. pinger may be nil, in which
// case readiness does not depend on the students API.
func NewMetricsHandler(metrics *service.MetricsService, pinger upstreamPinger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, pinger: pinger}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness probes.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @Summary Readiness check
// @Description Reports ready once the students API answers.
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} response.Envelope
// @Router /ready [get]
func (h *MetricsHandler) Ready(c *gin.Context) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			response.Error(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "metrics": h.metrics.Snapshot()})
}
