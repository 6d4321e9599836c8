package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/directory"
	"chatrelay/pkg/log"
)

// Authorizer defines the interface for conversation access authorization
type Authorizer interface {
	// CanChatWith checks if a user may open a conversation with a peer
	CanChatWith(ctx context.Context, userID, peerID string) (bool, error)
}

// AuthorizationError represents an authorization failure
type AuthorizationError struct {
	UserID string
	PeerID string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("unauthorized conversation with %s for user %s: %s", e.PeerID, e.UserID, e.Reason)
}

// IsAuthorizationError checks if an error is an AuthorizationError
func IsAuthorizationError(err error) bool {
	_, ok := err.(*AuthorizationError)
	return ok
}

// directoryAuthorizer allows a conversation when the peer is a known user
// and is not the requester themselves.
type directoryAuthorizer struct {
	dir    directory.Directory
	logger log.Logger
}

// NewDirectoryAuthorizer creates an Authorizer backed by the user directory
func NewDirectoryAuthorizer(dir directory.Directory, logger log.Logger) Authorizer {
	return &directoryAuthorizer{dir: dir, logger: logger}
}

func (a *directoryAuthorizer) CanChatWith(ctx context.Context, userID, peerID string) (bool, error) {
	if userID == "" || peerID == "" || userID == peerID {
		return false, nil
	}

	exists, err := a.dir.Exists(ctx, peerID)
	if err != nil {
		a.logger.Errorf(ctx, "internal.auth.directoryAuthorizer.CanChatWith: %v", err)
		return false, err
	}
	return exists, nil
}

// CacheEntry represents a cached authorization result
type CacheEntry struct {
	Allowed   bool
	ExpiresAt time.Time
}

// CachedAuthorizer wraps an Authorizer with caching capabilities
type CachedAuthorizer struct {
	delegate    Authorizer
	cache       map[string]*CacheEntry
	mu          sync.RWMutex
	cacheTTL    time.Duration
	logger      log.Logger
	cacheHits   int64
	cacheMisses int64
}

// NewCachedAuthorizer creates a new CachedAuthorizer
func NewCachedAuthorizer(delegate Authorizer, cacheTTL time.Duration, logger log.Logger) *CachedAuthorizer {
	ca := &CachedAuthorizer{
		delegate: delegate,
		cache:    make(map[string]*CacheEntry),
		cacheTTL: cacheTTL,
		logger:   logger,
	}

	// Start cache cleanup goroutine
	go ca.cleanupLoop()

	return ca
}

// cacheKey generates a cache key for authorization lookups
func cacheKey(userID, peerID string) string {
	return fmt.Sprintf("%s:%s", userID, peerID)
}

// CanChatWith checks if a user may open a conversation with a peer, with caching
func (ca *CachedAuthorizer) CanChatWith(ctx context.Context, userID, peerID string) (bool, error) {
	key := cacheKey(userID, peerID)

	// Check cache first
	ca.mu.RLock()
	entry, exists := ca.cache[key]
	ca.mu.RUnlock()

	if exists && time.Now().Before(entry.ExpiresAt) {
		ca.mu.Lock()
		ca.cacheHits++
		ca.mu.Unlock()
		return entry.Allowed, nil
	}

	// Cache miss or expired, call delegate
	allowed, err := ca.delegate.CanChatWith(ctx, userID, peerID)
	if err != nil {
		return false, err
	}

	// Update cache
	ca.mu.Lock()
	ca.cacheMisses++
	ca.cache[key] = &CacheEntry{
		Allowed:   allowed,
		ExpiresAt: time.Now().Add(ca.cacheTTL),
	}
	ca.mu.Unlock()

	return allowed, nil
}

// cleanupLoop periodically removes expired cache entries
func (ca *CachedAuthorizer) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		ca.cleanup()
	}
}

// cleanup removes expired cache entries
func (ca *CachedAuthorizer) cleanup() {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	now := time.Now()
	for key, entry := range ca.cache {
		if now.After(entry.ExpiresAt) {
			delete(ca.cache, key)
		}
	}
}

// GetCacheStats returns cache statistics
func (ca *CachedAuthorizer) GetCacheStats() (hits, misses int64, size int) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.cacheHits, ca.cacheMisses, len(ca.cache)
}

// InvalidateUser removes all cache entries for a specific user
func (ca *CachedAuthorizer) InvalidateUser(userID string) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	prefix := userID + ":"
	for key := range ca.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(ca.cache, key)
		}
	}
}
