package transform

import (
	"context"
	"sort"

	"chatrelay/internal/directory"
	"chatrelay/internal/store"
	"chatrelay/internal/types"
	"chatrelay/pkg/log"
)

// Transformer converts internal state into wire envelopes.
type Transformer struct {
	dir    directory.Directory
	logger log.Logger
}

// New creates a Transformer backed by the profile directory.
func New(dir directory.Directory, logger log.Logger) *Transformer {
	return &Transformer{
		dir:    dir,
		logger: logger,
	}
}

// OnlineUsers enriches a set of online identities with display attributes.
// Entries are sorted by identity so every broadcast of the same snapshot is
// byte-identical. A directory miss falls back to the bare identity rather
// than dropping the user from the snapshot.
func (t *Transformer) OnlineUsers(ctx context.Context, identities []string) []types.OnlineUser {
	sorted := make([]string, len(identities))
	copy(sorted, identities)
	sort.Strings(sorted)

	users := make([]types.OnlineUser, 0, len(sorted))
	for _, id := range sorted {
		user := types.OnlineUser{UserID: id, Name: id, IsOnline: true}

		info, err := t.dir.DisplayInfo(ctx, id)
		if err != nil {
			if err != directory.ErrNotFound {
				t.logger.Warnf(ctx, "Failed to look up display info for user %s: %v", id, err)
			}
		} else if info.Name != "" {
			user.Name = info.Name
		}

		users = append(users, user)
	}

	return users
}

// ChatPayload converts a persisted message into its wire shape.
func (t *Transformer) ChatPayload(msg store.Message) types.ChatPayload {
	return types.ChatPayload{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Message:   msg.Body,
		IsRead:    msg.IsRead,
		CreatedAt: msg.CreatedAt,
	}
}

// ChatEnvelope converts a persisted message into its fan-out envelope.
func (t *Transformer) ChatEnvelope(msg store.Message) *types.ChatEnvelope {
	return types.NewChatEnvelope(t.ChatPayload(msg))
}
