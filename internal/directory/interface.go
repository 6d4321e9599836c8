package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no profile exists for an identity.
var ErrNotFound = errors.New("profile not found")

// DisplayInfo is the directory projection used to enrich presence snapshots.
type DisplayInfo struct {
	UserID   string
	Name     string
	IsOnline bool
}

// Directory resolves identities to display attributes. Implementations are
// external collaborators; the realtime core treats them as opaque.
//
//go:generate mockery --name Directory
type Directory interface {
	// DisplayInfo returns the display attributes for one identity.
	DisplayInfo(ctx context.Context, userID string) (DisplayInfo, error)

	// Exists reports whether the identity has a profile.
	Exists(ctx context.Context, userID string) (bool, error)

	// SetOnline records the identity's online flag. Called on presence
	// transitions only, never per connection.
	SetOnline(ctx context.Context, userID string, online bool) error
}
