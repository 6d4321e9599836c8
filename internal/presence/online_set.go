package presence

import (
	"context"

	"chatrelay/pkg/log"
	"chatrelay/pkg/redis"
)

// onlineUsersKey is the Redis set holding the currently online identities.
const onlineUsersKey = "online_users"

// OnlineSet mirrors the online identity set into Redis so other services can
// read presence without talking to this process.
type OnlineSet struct {
	client *redis.Client
	logger log.Logger
}

var _ Mirror = &OnlineSet{}

// NewOnlineSet creates a Redis-backed presence mirror.
func NewOnlineSet(client *redis.Client, logger log.Logger) *OnlineSet {
	return &OnlineSet{
		client: client,
		logger: logger,
	}
}

// Add inserts the identity into the online set.
func (s *OnlineSet) Add(ctx context.Context, identity string) error {
	return s.client.SAdd(ctx, onlineUsersKey, identity).Err()
}

// Remove deletes the identity from the online set.
func (s *OnlineSet) Remove(ctx context.Context, identity string) error {
	return s.client.SRem(ctx, onlineUsersKey, identity).Err()
}

// Members returns all identities currently in the online set.
func (s *OnlineSet) Members(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, onlineUsersKey).Result()
}
