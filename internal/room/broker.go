package room

import (
	"context"
	"sync"
	"time"

	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/store"
	"chatrelay/internal/transform"
	"chatrelay/pkg/log"
)

// group is one room's membership plus its publish serialization. pubMu is
// held across persist-then-fan-out so messages from one sender reach every
// member in publish order; it is never held while blocked on network writes
// because Deliver only enqueues.
type group struct {
	pubMu   sync.Mutex
	members map[registry.ConnID]registry.Peer
}

// Broker groups connections by conversation and fans published messages out
// to all members of the matching room, after persistence.
type Broker struct {
	mu    sync.RWMutex
	rooms map[string]*group

	store   store.MessageStore
	tr      *transform.Transformer
	logger  log.Logger
	metrics metrics.Recorder
}

// New creates an empty Broker on top of the message store.
func New(st store.MessageStore, tr *transform.Transformer, logger log.Logger, rec metrics.Recorder) *Broker {
	return &Broker{
		rooms:   make(map[string]*group),
		store:   st,
		tr:      tr,
		logger:  logger,
		metrics: rec,
	}
}

// Join adds the connection to the room, creating the room on first join.
// No member cap: a two-party conversation may span any number of devices.
func (b *Broker) Join(roomKey string, id registry.ConnID, peer registry.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, exists := b.rooms[roomKey]
	if !exists {
		g = &group{members: make(map[registry.ConnID]registry.Peer)}
		b.rooms[roomKey] = g
	}
	g.members[id] = peer

	b.logger.Debugf(context.Background(), "Connection %s joined room %s (%d members)", id, roomKey, len(g.members))
}

// Leave removes the connection from the room. Idempotent; empty rooms are
// garbage-collected.
func (b *Broker) Leave(roomKey string, id registry.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, exists := b.rooms[roomKey]
	if !exists {
		return
	}
	if _, member := g.members[id]; !member {
		return
	}

	delete(g.members, id)
	if len(g.members) == 0 {
		delete(b.rooms, roomKey)
	}

	b.logger.Debugf(context.Background(), "Connection %s left room %s", id, roomKey)
}

// Members returns the current member count of a room.
func (b *Broker) Members(roomKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	g, exists := b.rooms[roomKey]
	if !exists {
		return 0
	}
	return len(g.members)
}

// Rooms returns the number of active rooms.
func (b *Broker) Rooms() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.rooms)
}

// Publish validates, persists, and fans the message out to every connection
// currently in the room. Persistence happens-before fan-out: a store failure
// returns a PersistenceError and nothing is delivered to anyone.
func (b *Broker) Publish(ctx context.Context, roomKey, sender, receiver, text string) (store.Message, error) {
	if text == "" || sender == "" || receiver == "" || Key(sender, receiver) != roomKey {
		return store.Message{}, ErrInvalidMessage
	}

	g := b.getOrCreate(roomKey)

	// One publish at a time per room; this is what gives per-sender ordering.
	g.pubMu.Lock()
	defer g.pubMu.Unlock()

	start := time.Now()
	msg, err := b.store.CreateMessage(ctx, sender, receiver, text)
	if err != nil {
		b.metrics.MessagePersistFailed()
		b.logger.Errorf(ctx, "Failed to persist message in room %s: %v", roomKey, err)
		return store.Message{}, &PersistenceError{Err: err}
	}

	payload, err := b.tr.ChatEnvelope(msg).ToJSON()
	if err != nil {
		// The message is durable; only this fan-out is lost.
		b.logger.Errorf(ctx, "Failed to marshal chat envelope for message %d: %v", msg.ID, err)
		return msg, nil
	}

	b.mu.RLock()
	peers := make([]registry.Peer, 0, len(g.members))
	for _, peer := range g.members {
		peers = append(peers, peer)
	}
	b.mu.RUnlock()

	sent := 0
	for _, peer := range peers {
		if peer.Deliver(payload) {
			sent++
		} else {
			b.metrics.FanoutDropped()
		}
	}

	b.metrics.MessagePublished()
	b.metrics.FanoutDelivered(sent)
	b.metrics.PublishLatency(time.Since(start))

	b.logger.Debugf(ctx, "Message %d fanned out to %d connections in room %s", msg.ID, sent, roomKey)
	return msg, nil
}

func (b *Broker) getOrCreate(roomKey string) *group {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, exists := b.rooms[roomKey]
	if !exists {
		g = &group{members: make(map[registry.ConnID]registry.Peer)}
		b.rooms[roomKey] = g
	}
	return g
}
