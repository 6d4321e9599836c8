package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Postgres  *PostgresHealth `json:"postgres"`
	Redis     *RedisHealth    `json:"redis,omitempty"`
	WebSocket *WebSocketInfo  `json:"websocket"`
	Uptime    int64           `json:"uptime_seconds"`
}

// PostgresHealth represents message store health status
type PostgresHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RedisHealth represents online-set mirror health status
type RedisHealth struct {
	Status string  `json:"status"`
	PingMs float64 `json:"ping_ms,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// WebSocketInfo represents WebSocket server info
type WebSocketInfo struct {
	ActiveConnections int `json:"active_connections"`
	OnlineUsers       int `json:"online_users"`
	ActiveRooms       int `json:"active_rooms"`
}

var startTime = time.Now()

// healthHandler handles health check requests
func healthHandler(c *gin.Context, cfg Config) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(startTime).Seconds()),
	}

	// Check message store health
	postgresHealth := &PostgresHealth{
		Status: "connected",
	}
	if err := cfg.DB.PingContext(ctx); err != nil {
		postgresHealth.Status = "disconnected"
		postgresHealth.Error = err.Error()
		response.Status = "degraded"
		cfg.Logger.Errorf(ctx, "Postgres health check failed: %v", err)
	}
	response.Postgres = postgresHealth

	// Check mirror health; the mirror is optional
	if cfg.Redis != nil {
		redisHealth := &RedisHealth{
			Status: "connected",
		}
		pingDuration, err := cfg.Redis.Ping(ctx)
		if err != nil {
			redisHealth.Status = "disconnected"
			redisHealth.Error = err.Error()
			response.Status = "degraded"
			cfg.Logger.Errorf(ctx, "Redis health check failed: %v", err)
		} else {
			redisHealth.PingMs = float64(pingDuration.Microseconds()) / 1000.0
		}
		response.Redis = redisHealth
	}

	response.WebSocket = &WebSocketInfo{
		ActiveConnections: cfg.Registry.Len(),
		OnlineUsers:       cfg.Tracker.OnlineCount(),
		ActiveRooms:       cfg.Broker.Rooms(),
	}

	// Return appropriate status code
	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
