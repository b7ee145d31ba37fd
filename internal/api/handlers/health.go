package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chenyuanqi/ios-DeepSeek/internal/service/chat"
)

type HealthHandler struct {
	metrics *chat.TurnMetrics
}

func NewHealthHandler(metrics *chat.TurnMetrics) *HealthHandler {
	return &HealthHandler{metrics: metrics}
}

// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	turns, deltas, failures, avgTime := h.metrics.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"metrics": gin.H{
			"total_turns":       turns,
			"total_deltas":      deltas,
			"total_failures":    failures,
			"average_turn_time": avgTime.String(),
		},
	})
}
