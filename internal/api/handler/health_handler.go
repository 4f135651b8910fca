package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const serviceName = "image-bot-service"

// Check handles GET /health. Confirms are published through the broker, so a
// lost broker connection makes the service unhealthy just like the database.
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": serviceName,
	}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["error"] = err.Error()
		} else {
			body["database"] = h.db.Stats()
		}
	}

	if h.broker != nil {
		if h.broker.IsConnected() {
			body["queue"] = "connected"
		} else {
			status = http.StatusServiceUnavailable
			body["queue"] = "disconnected"
		}
	}

	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}
