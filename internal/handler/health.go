package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

type dependencyCheck struct {
	name string
	ping func(ctx context.Context) error
}

type HealthHandler struct {
	checks []dependencyCheck
}

func NewHealthHandler(dbPool *pgxpool.Pool, redisClient *redis.Client, amqpConn *amqp.Connection) *HealthHandler {
	return &HealthHandler{checks: []dependencyCheck{
		{name: "postgres", ping: dbPool.Ping},
		{name: "redis", ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		{name: "rabbitmq", ping: func(context.Context) error {
			if amqpConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	}}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx := c.Request.Context()

	resp := gin.H{"status": "ok"}
	status := http.StatusOK
	for _, check := range h.checks {
		if err := check.ping(ctx); err != nil {
			resp[check.name] = "unavailable"
			resp["status"] = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		resp[check.name] = "connected"
	}
	c.JSON(status, resp)
}
