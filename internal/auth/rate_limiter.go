package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"chatrelay/pkg/log"
)

// RateLimitConfig holds connection admission limits
type RateLimitConfig struct {
	MaxConnectionsPerUser int
	ConnectRate           float64 // new connections per second, per user
	ConnectBurst          int
}

// DefaultRateLimitConfig returns sensible defaults for connection admission
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxConnectionsPerUser: 16,
		ConnectRate:           5,
		ConnectBurst:          10,
	}
}

// RateLimitError represents a connection admission failure
type RateLimitError struct {
	UserID  string
	Limit   string
	Current int
	Max     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for user %s: %s (current: %d, max: %d)", e.UserID, e.Limit, e.Current, e.Max)
}

// IsRateLimitError checks if an error is a RateLimitError
func IsRateLimitError(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}

// TrackerStats holds a point-in-time view of tracked connections
type TrackerStats struct {
	TotalUsers       int `json:"total_users"`
	TotalConnections int `json:"total_connections"`
}

// ConnectionTracker enforces per-user connection caps and connect rates.
// Acquire must be paired with Release on connection teardown.
type ConnectionTracker struct {
	mu       sync.Mutex
	counts   map[string]int
	limiters map[string]*rate.Limiter

	config RateLimitConfig
	logger log.Logger
}

// NewConnectionTracker creates a new ConnectionTracker
func NewConnectionTracker(config RateLimitConfig, logger log.Logger) *ConnectionTracker {
	return &ConnectionTracker{
		counts:   make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
		config:   config,
		logger:   logger,
	}
}

// Acquire admits one new connection for the user, or returns a RateLimitError
func (t *ConnectionTracker) Acquire(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, exists := t.limiters[userID]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(t.config.ConnectRate), t.config.ConnectBurst)
		t.limiters[userID] = limiter
	}

	if !limiter.Allow() {
		t.logger.Warnf(ctx, "Connect rate exceeded for user %s", userID)
		return &RateLimitError{
			UserID:  userID,
			Limit:   "connect_rate",
			Current: t.config.ConnectBurst,
			Max:     t.config.ConnectBurst,
		}
	}

	current := t.counts[userID]
	if current >= t.config.MaxConnectionsPerUser {
		t.logger.Warnf(ctx, "Connection cap reached for user %s (%d)", userID, current)
		return &RateLimitError{
			UserID:  userID,
			Limit:   "max_connections_per_user",
			Current: current,
			Max:     t.config.MaxConnectionsPerUser,
		}
	}

	t.counts[userID] = current + 1
	return nil
}

// Release returns one connection slot for the user. Safe to call after a
// failed Acquire has already been reported; the count never goes negative.
func (t *ConnectionTracker) Release(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.counts[userID]
	if !exists {
		return
	}
	if current <= 1 {
		// The limiter stays so a reconnect storm cannot reset its burst.
		delete(t.counts, userID)
		return
	}
	t.counts[userID] = current - 1
}

// GetUserConnectionCount returns the number of tracked connections for a user
func (t *ConnectionTracker) GetUserConnectionCount(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID]
}

// GetStats returns aggregate connection statistics
func (t *ConnectionTracker) GetStats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, n := range t.counts {
		total += n
	}
	return TrackerStats{
		TotalUsers:       len(t.counts),
		TotalConnections: total,
	}
}
