package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/internal/directory"
)

// mockLogger implements log.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, arg ...any)                   {}
func (m *mockLogger) Debugf(ctx context.Context, template string, arg ...any) {}
func (m *mockLogger) Info(ctx context.Context, arg ...any)                    {}
func (m *mockLogger) Infof(ctx context.Context, template string, arg ...any)  {}
func (m *mockLogger) Warn(ctx context.Context, arg ...any)                    {}
func (m *mockLogger) Warnf(ctx context.Context, template string, arg ...any)  {}
func (m *mockLogger) Error(ctx context.Context, arg ...any)                   {}
func (m *mockLogger) Errorf(ctx context.Context, template string, arg ...any) {}
func (m *mockLogger) Fatal(ctx context.Context, arg ...any)                   {}
func (m *mockLogger) Fatalf(ctx context.Context, template string, arg ...any) {}

// mockAuthorizer is a mock implementation for testing
type mockAuthorizer struct {
	allowed   map[string]bool // "userID:peerID" -> allowed
	callCount int
}

func newMockAuthorizer() *mockAuthorizer {
	return &mockAuthorizer{allowed: make(map[string]bool)}
}

func (m *mockAuthorizer) setAllowed(userID, peerID string, allowed bool) {
	m.allowed[userID+":"+peerID] = allowed
}

func (m *mockAuthorizer) CanChatWith(ctx context.Context, userID, peerID string) (bool, error) {
	m.callCount++
	return m.allowed[userID+":"+peerID], nil
}

// stubDirectory serves a fixed set of known users
type stubDirectory struct {
	known map[string]bool
	err   error
}

func (d *stubDirectory) DisplayInfo(ctx context.Context, userID string) (directory.DisplayInfo, error) {
	return directory.DisplayInfo{}, directory.ErrNotFound
}

func (d *stubDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.known[userID], nil
}

func (d *stubDirectory) SetOnline(ctx context.Context, userID string, online bool) error {
	return nil
}

func TestDirectoryAuthorizer(t *testing.T) {
	logger := &mockLogger{}
	ctx := context.Background()

	t.Run("allows chat with known peer", func(t *testing.T) {
		auth := NewDirectoryAuthorizer(&stubDirectory{known: map[string]bool{"peer1": true}}, logger)

		allowed, err := auth.CanChatWith(ctx, "user1", "peer1")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("expected access to be allowed")
		}
	})

	t.Run("rejects unknown peer", func(t *testing.T) {
		auth := NewDirectoryAuthorizer(&stubDirectory{known: map[string]bool{}}, logger)

		allowed, err := auth.CanChatWith(ctx, "user1", "ghost")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("expected access to be denied")
		}
	})

	t.Run("rejects self conversation", func(t *testing.T) {
		auth := NewDirectoryAuthorizer(&stubDirectory{known: map[string]bool{"user1": true}}, logger)

		allowed, err := auth.CanChatWith(ctx, "user1", "user1")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("expected self conversation to be denied")
		}
	})

	t.Run("propagates directory errors", func(t *testing.T) {
		auth := NewDirectoryAuthorizer(&stubDirectory{err: errors.New("db down")}, logger)

		allowed, err := auth.CanChatWith(ctx, "user1", "peer1")
		if err == nil {
			t.Error("expected error from directory")
		}
		if allowed {
			t.Error("expected access to be denied on error")
		}
	})
}

func TestCachedAuthorizer(t *testing.T) {
	logger := &mockLogger{}
	ctx := context.Background()

	t.Run("caches access results", func(t *testing.T) {
		mock := newMockAuthorizer()
		mock.setAllowed("user1", "peer1", true)

		cached := NewCachedAuthorizer(mock, time.Minute, logger)

		// First call should hit the delegate
		allowed, err := cached.CanChatWith(ctx, "user1", "peer1")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("expected access to be allowed")
		}
		if mock.callCount != 1 {
			t.Errorf("expected 1 delegate call, got %d", mock.callCount)
		}

		// Second call should use cache
		allowed, err = cached.CanChatWith(ctx, "user1", "peer1")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("expected access to be allowed")
		}
		if mock.callCount != 1 {
			t.Errorf("expected 1 delegate call (cached), got %d", mock.callCount)
		}
	})

	t.Run("cache expires", func(t *testing.T) {
		mock := newMockAuthorizer()
		mock.setAllowed("user1", "peer1", true)

		// Very short TTL for testing
		cached := NewCachedAuthorizer(mock, 10*time.Millisecond, logger)

		// First call
		_, _ = cached.CanChatWith(ctx, "user1", "peer1")
		if mock.callCount != 1 {
			t.Errorf("expected 1 delegate call, got %d", mock.callCount)
		}

		// Wait for cache to expire
		time.Sleep(20 * time.Millisecond)

		// Should hit delegate again
		_, _ = cached.CanChatWith(ctx, "user1", "peer1")
		if mock.callCount != 2 {
			t.Errorf("expected 2 delegate calls after expiry, got %d", mock.callCount)
		}
	})

	t.Run("invalidate user clears cache", func(t *testing.T) {
		mock := newMockAuthorizer()
		mock.setAllowed("user1", "peer1", true)

		cached := NewCachedAuthorizer(mock, time.Minute, logger)

		// Populate cache
		_, _ = cached.CanChatWith(ctx, "user1", "peer1")
		if mock.callCount != 1 {
			t.Errorf("expected 1 delegate call, got %d", mock.callCount)
		}

		// Invalidate user
		cached.InvalidateUser("user1")

		// Should hit delegate again
		_, _ = cached.CanChatWith(ctx, "user1", "peer1")
		if mock.callCount != 2 {
			t.Errorf("expected 2 delegate calls after invalidation, got %d", mock.callCount)
		}
	})

	t.Run("denied results are cached too", func(t *testing.T) {
		mock := newMockAuthorizer()

		cached := NewCachedAuthorizer(mock, time.Minute, logger)

		allowed, _ := cached.CanChatWith(ctx, "user1", "ghost")
		if allowed {
			t.Error("expected access to be denied")
		}
		allowed, _ = cached.CanChatWith(ctx, "user1", "ghost")
		if allowed {
			t.Error("expected access to be denied")
		}
		if mock.callCount != 1 {
			t.Errorf("expected 1 delegate call, got %d", mock.callCount)
		}
	})
}

func TestAuthorizationError(t *testing.T) {
	err := &AuthorizationError{
		UserID: "user1",
		PeerID: "peer1",
		Reason: "unknown peer",
	}

	expected := "unauthorized conversation with peer1 for user user1: unknown peer"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	if !IsAuthorizationError(err) {
		t.Error("IsAuthorizationError should return true")
	}

	if IsAuthorizationError(nil) {
		t.Error("IsAuthorizationError(nil) should return false")
	}
}
