package presence

import (
	"context"
	"sync"

	"chatrelay/internal/directory"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/transform"
	"chatrelay/internal/types"
	"chatrelay/pkg/log"
)

// Mirror reflects presence transitions into an external online set. Mirror
// failures are logged and never propagate to the connection.
type Mirror interface {
	Add(ctx context.Context, identity string) error
	Remove(ctx context.Context, identity string) error
}

// Tracker maintains the set of online identities by reference-counting live
// presence connections. A user with three tabs open stays online until the
// last tab closes. Every 0->1 or 1->0 transition triggers exactly one
// broadcast of the full snapshot to the presence group.
type Tracker struct {
	mu      sync.Mutex
	refs    map[string]int
	members map[registry.ConnID]registry.Peer

	dir     directory.Directory
	tr      *transform.Transformer
	mirror  Mirror
	logger  log.Logger
	metrics metrics.Recorder
}

// New creates a Tracker. mirror may be nil when no external online set is
// configured.
func New(dir directory.Directory, tr *transform.Transformer, mirror Mirror, logger log.Logger, rec metrics.Recorder) *Tracker {
	return &Tracker{
		refs:    make(map[string]int),
		members: make(map[registry.ConnID]registry.Peer),
		dir:     dir,
		tr:      tr,
		mirror:  mirror,
		logger:  logger,
		metrics: rec,
	}
}

// Join adds the connection to the presence group and marks its identity
// online. Broadcasts the snapshot only when the identity transitions
// offline->online.
func (t *Tracker) Join(ctx context.Context, conn registry.Connection) {
	t.mu.Lock()
	if _, exists := t.members[conn.ID]; exists {
		t.mu.Unlock()
		return
	}
	t.members[conn.ID] = conn.Peer
	t.refs[conn.Identity]++
	transitioned := t.refs[conn.Identity] == 1
	t.mu.Unlock()

	if !transitioned {
		t.logger.Debugf(ctx, "User %s opened another presence connection", conn.Identity)
		return
	}

	t.metrics.PresenceTransition("online")
	t.logger.Infof(ctx, "User %s is now online", conn.Identity)
	t.applySideEffects(ctx, conn.Identity, true)
	t.Broadcast(ctx)
}

// Leave removes the connection from the presence group. Safe to call more
// than once per connection; only the first call decrements the reference
// count. Broadcasts the snapshot only when the identity transitions
// online->offline.
func (t *Tracker) Leave(ctx context.Context, conn registry.Connection) {
	t.mu.Lock()
	if _, exists := t.members[conn.ID]; !exists {
		t.mu.Unlock()
		return
	}
	delete(t.members, conn.ID)

	transitioned := false
	if t.refs[conn.Identity] > 0 {
		t.refs[conn.Identity]--
		if t.refs[conn.Identity] == 0 {
			delete(t.refs, conn.Identity)
			transitioned = true
		}
	}
	t.mu.Unlock()

	if !transitioned {
		return
	}

	t.metrics.PresenceTransition("offline")
	t.logger.Infof(ctx, "User %s is now offline", conn.Identity)
	t.applySideEffects(ctx, conn.Identity, false)
	t.Broadcast(ctx)
}

// MarkOnline increments the reference count for an identity and reports
// whether it transitioned offline->online. Exposed for callers that manage
// group membership themselves.
func (t *Tracker) MarkOnline(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refs[identity]++
	return t.refs[identity] == 1
}

// MarkOffline decrements the reference count and reports whether the identity
// transitioned online->offline. Decrementing below zero is a no-op: duplicate
// disconnect events are expected under concurrent teardown.
func (t *Tracker) MarkOffline(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refs[identity] == 0 {
		return false
	}
	t.refs[identity]--
	if t.refs[identity] == 0 {
		delete(t.refs, identity)
		return true
	}
	return false
}

// Online reports whether the identity has at least one live presence
// connection.
func (t *Tracker) Online(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.refs[identity] > 0
}

// OnlineCount returns the number of distinct online identities.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.refs)
}

// Snapshot returns the current online set enriched with display attributes.
func (t *Tracker) Snapshot(ctx context.Context) []types.OnlineUser {
	t.mu.Lock()
	identities := make([]string, 0, len(t.refs))
	for id := range t.refs {
		identities = append(identities, id)
	}
	t.mu.Unlock()

	return t.tr.OnlineUsers(ctx, identities)
}

// Broadcast fans the full current snapshot out to every presence member.
// Full snapshots, not deltas: O(users) per transition, but clients never
// need reconciliation logic.
func (t *Tracker) Broadcast(ctx context.Context) {
	env := types.NewOnlineUsersEnvelope(t.Snapshot(ctx))
	payload, err := env.ToJSON()
	if err != nil {
		t.logger.Errorf(ctx, "Failed to marshal presence snapshot: %v", err)
		return
	}

	t.mu.Lock()
	peers := make([]registry.Peer, 0, len(t.members))
	for _, peer := range t.members {
		peers = append(peers, peer)
	}
	t.mu.Unlock()

	sent := 0
	for _, peer := range peers {
		if peer.Deliver(payload) {
			sent++
		} else {
			t.metrics.FanoutDropped()
		}
	}
	t.metrics.FanoutDelivered(sent)

	t.logger.Debugf(ctx, "Presence snapshot broadcast to %d connections", sent)
}

// applySideEffects updates the profile directory flag and the external online
// set. Both are best-effort; the in-memory reference counts stay the source
// of truth for broadcasts.
func (t *Tracker) applySideEffects(ctx context.Context, identity string, online bool) {
	if err := t.dir.SetOnline(ctx, identity, online); err != nil && err != directory.ErrNotFound {
		t.logger.Warnf(ctx, "Failed to update directory online flag for user %s: %v", identity, err)
	}

	if t.mirror == nil {
		return
	}
	var err error
	if online {
		err = t.mirror.Add(ctx, identity)
	} else {
		err = t.mirror.Remove(ctx, identity)
	}
	if err != nil {
		t.logger.Warnf(ctx, "Failed to mirror presence for user %s: %v", identity, err)
	}
}
