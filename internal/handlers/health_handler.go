package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is anything with a health probe, such as the audit database
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ActiveSessions counts open payment sessions
type ActiveSessions interface {
	ActiveCount(ctx context.Context) (int, error)
}

// HealthCheck returns the health endpoint. db may be nil when audit storage is off.
func HealthCheck(version string, db Pinger, sessions ActiveSessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{
			"status":    "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		}

		active, err := sessions.ActiveCount(ctx)
		if err != nil {
			body["status"] = "unhealthy"
			body["event_loop"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["active_sessions"] = active

		if db == nil {
			body["audit_database"] = "disabled"
		} else if err := db.PingContext(ctx); err != nil {
			// Audit storage is diagnostic; the bridge keeps serving without it
			body["audit_database"] = "unhealthy"
		} else {
			body["audit_database"] = "healthy"
		}

		c.JSON(http.StatusOK, body)
	}
}
