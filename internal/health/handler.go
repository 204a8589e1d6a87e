// Package health exposes the liveness/readiness surface a saga worker
// needs for orchestration probes, without standing up the REST API the
// core explicitly excludes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/booking-orchestrator/pkg/database"
	"github.com/prohmpiriya/booking-orchestrator/pkg/kafka"
	"github.com/prohmpiriya/booking-orchestrator/pkg/redis"
)

// Handler answers liveness and readiness probes against the worker's
// downstream dependencies.
type Handler struct {
	db       *database.PostgresDB
	redis    *redis.Client
	producer *kafka.Producer
}

// NewHandler wires a Handler against the worker's live connections. Any
// of them may be nil (e.g. in a test process with no Kafka), in which
// case that component reports "not configured" rather than failing.
func NewHandler(db *database.PostgresDB, redisClient *redis.Client, producer *kafka.Producer) *Handler {
	return &Handler{db: db, redis: redisClient, producer: producer}
}

// Response is the liveness probe body.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse is the readiness probe body, reporting each dependency.
type ReadyResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// Register mounts /healthz and /readyz on router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/healthz", h.Live)
	router.GET("/readyz", h.Ready)
}

// Live answers the liveness probe: the process is up and accepting
// requests, independent of any downstream's health.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready answers the readiness probe: every configured downstream the
// saga engine needs (Postgres, Redis, Kafka) must be reachable before a
// worker is added to rotation, since a worker that can't reach its state
// store or service client has nothing useful to do with a booking.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			components["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			components["postgres"] = "healthy"
		}
	} else {
		components["postgres"] = "not configured"
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(ctx); err != nil {
			components["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			components["redis"] = "healthy"
		}
	} else {
		components["redis"] = "not configured"
	}

	if h.producer != nil {
		if err := h.producer.Ping(ctx); err != nil {
			components["kafka"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			components["kafka"] = "healthy"
		}
	} else {
		components["kafka"] = "not configured"
	}

	resp := ReadyResponse{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
	if allHealthy {
		resp.Status = "ready"
		c.JSON(http.StatusOK, resp)
		return
	}
	resp.Status = "not ready"
	c.JSON(http.StatusServiceUnavailable, resp)
}
