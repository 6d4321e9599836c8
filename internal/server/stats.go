package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/auth"
)

// StatsResponse represents the stats response
type StatsResponse struct {
	Service     string            `json:"service"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      int64             `json:"uptime_seconds"`
	Connections *ConnectionStats  `json:"connections"`
	Rooms       *RoomStats        `json:"rooms"`
	Admission   auth.TrackerStats `json:"admission"`
}

// ConnectionStats represents connection-related stats
type ConnectionStats struct {
	Active      int `json:"active"`
	OnlineUsers int `json:"online_users"`
}

// RoomStats represents room-related stats
type RoomStats struct {
	Active int `json:"active"`
}

// statsHandler handles stats requests
func statsHandler(c *gin.Context, cfg Config) {
	response := StatsResponse{
		Service:   "chatrelay",
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(startTime).Seconds()),
		Connections: &ConnectionStats{
			Active:      cfg.Registry.Len(),
			OnlineUsers: cfg.Tracker.OnlineCount(),
		},
		Rooms: &RoomStats{
			Active: cfg.Broker.Rooms(),
		},
		Admission: cfg.Limiter.GetStats(),
	}

	c.JSON(http.StatusOK, response)
}
