package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatrelay/internal/auth"
	"chatrelay/internal/metrics"
	"chatrelay/internal/presence"
	"chatrelay/internal/registry"
	"chatrelay/internal/room"
	"chatrelay/internal/store"
	"chatrelay/internal/transform"
	"chatrelay/internal/types"
	"chatrelay/pkg/jwt"
	"chatrelay/pkg/log"
)

// Handler handles WebSocket connections and the conversation HTTP API
type Handler struct {
	registry     *registry.Registry
	tracker      *presence.Tracker
	broker       *room.Broker
	store        store.MessageStore
	tr           *transform.Transformer
	jwtValidator *jwt.Validator
	authorizer   auth.Authorizer
	limiter      *auth.ConnectionTracker
	logger       log.Logger
	wsConfig     WSConfig
	metrics      metrics.Recorder

	upgrader websocket.Upgrader
}

// WSConfig holds WebSocket configuration
type WSConfig struct {
	PongWait        time.Duration
	PingPeriod      time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	MaxConnections  int
}

// NewHandler creates a new WebSocket handler
func NewHandler(
	reg *registry.Registry,
	tracker *presence.Tracker,
	broker *room.Broker,
	st store.MessageStore,
	tr *transform.Transformer,
	jwtValidator *jwt.Validator,
	authorizer auth.Authorizer,
	limiter *auth.ConnectionTracker,
	logger log.Logger,
	wsConfig WSConfig,
	rec metrics.Recorder,
) *Handler {
	return &Handler{
		registry:     reg,
		tracker:      tracker,
		broker:       broker,
		store:        st,
		tr:           tr,
		jwtValidator: jwtValidator,
		authorizer:   authorizer,
		limiter:      limiter,
		logger:       logger,
		wsConfig:     wsConfig,
		metrics:      rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsConfig.ReadBufferSize,
			WriteBufferSize: wsConfig.WriteBufferSize,
			// Allow all origins for now (configure in production)
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// authenticate extracts and validates the JWT from the token query parameter.
// A failure has already been written to the response when ok is false.
func (h *Handler) authenticate(c *gin.Context) (userID string, ok bool) {
	token := c.Query("token")
	if token == "" {
		h.logger.Warn(context.Background(), "WebSocket connection rejected: missing token")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing token parameter",
		})
		return "", false
	}

	userID, err := h.jwtValidator.ExtractUserID(token)
	if err != nil {
		h.logger.Warnf(context.Background(), "WebSocket connection rejected: invalid token - %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return "", false
	}
	return userID, true
}

// admit enforces the global connection cap and per-user admission limits.
// A failure has already been written to the response when ok is false.
func (h *Handler) admit(c *gin.Context, userID string) (ok bool) {
	if h.wsConfig.MaxConnections > 0 && h.registry.Len() >= h.wsConfig.MaxConnections {
		h.logger.Warnf(context.Background(), "WebSocket connection rejected: server at capacity (%d)", h.wsConfig.MaxConnections)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "server at connection capacity",
		})
		return false
	}

	if err := h.limiter.Acquire(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": err.Error(),
		})
		return false
	}
	return true
}

// HandleOnline handles presence connections. Every accepted connection joins
// the presence group, keeps its user online while open, and receives the full
// snapshot on every roster change.
func (h *Handler) HandleOnline(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	if !h.admit(c, userID) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf(context.Background(), "Failed to upgrade connection: %v", err)
		h.limiter.Release(userID)
		return
	}

	var connID registry.ConnID
	var connection *Connection
	teardown := func() {
		ctx := context.Background()
		h.tracker.Leave(ctx, registry.Connection{ID: connID, Identity: userID, Peer: connection})
		h.registry.Unregister(connID)
		h.limiter.Release(userID)
		h.metrics.ConnectionClosed()
	}

	connection = NewConnection(conn, userID, h.wsConfig, nil, teardown, h.logger)

	connID, err = h.registry.Register(connection, userID)
	if err != nil {
		h.logger.Errorf(context.Background(), "Failed to register connection for user %s: %v", userID, err)
		connection.Close()
		return
	}
	h.metrics.ConnectionOpened()

	// Join before starting the pumps so teardown cannot run before the
	// connection is a member. Deliver only enqueues, so pre-pump sends are
	// safe; the write pump drains them once started.
	ctx := context.Background()
	h.tracker.Join(ctx, registry.Connection{ID: connID, Identity: userID, Peer: connection})

	// Joiners always get the current roster, even when their user was already
	// online and no transition broadcast fired.
	h.sendSnapshot(ctx, connection)

	connection.Start()

	h.logger.Infof(ctx, "Presence connection established for user: %s", userID)
}

// HandleChat handles conversation connections. The path names the two
// participants; both participants' connections land in the same room.
func (h *Handler) HandleChat(c *gin.Context) {
	userID := c.Param("user_id")
	peerID := c.Param("peer_id")

	if err := ValidateChatParameters(userID, peerID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	if identity != userID {
		h.logger.Warnf(context.Background(), "WebSocket connection rejected: token subject %s does not match path user %s", identity, userID)
		c.JSON(http.StatusForbidden, gin.H{
			"error": "token subject does not match user_id",
		})
		return
	}

	allowed, err := h.authorizer.CanChatWith(c.Request.Context(), userID, peerID)
	if err != nil {
		h.logger.Errorf(context.Background(), "Authorization check failed for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "authorization check failed",
		})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{
			"error": (&auth.AuthorizationError{UserID: userID, PeerID: peerID, Reason: "unknown peer"}).Error(),
		})
		return
	}

	if !h.admit(c, userID) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf(context.Background(), "Failed to upgrade connection: %v", err)
		h.limiter.Release(userID)
		return
	}

	roomKey := room.Key(userID, peerID)

	var connID registry.ConnID
	var connection *Connection
	teardown := func() {
		h.broker.Leave(roomKey, connID)
		h.registry.Unregister(connID)
		h.limiter.Release(userID)
		h.metrics.ConnectionClosed()
	}
	inbound := func(ctx context.Context, payload []byte) {
		h.handleChatFrame(ctx, connection, roomKey, userID, payload)
	}

	connection = NewConnection(conn, userID, h.wsConfig, inbound, teardown, h.logger)

	connID, err = h.registry.Register(connection, userID)
	if err != nil {
		h.logger.Errorf(context.Background(), "Failed to register connection for user %s: %v", userID, err)
		connection.Close()
		return
	}
	h.metrics.ConnectionOpened()

	h.broker.Join(roomKey, connID, connection)
	connection.Start()

	h.logger.Infof(context.Background(), "Chat connection established for user %s in room %s", userID, roomKey)
}

// handleChatFrame processes one inbound chat-send frame. Failures are
// reported to the sending connection only; the connection stays open.
func (h *Handler) handleChatFrame(ctx context.Context, sender *Connection, roomKey, userID string, payload []byte) {
	req, err := types.ParseChatSendRequest(payload)
	if err != nil {
		h.sendError(sender, types.ErrorCodeInvalidMessage, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		h.sendError(sender, types.ErrorCodeInvalidMessage, err.Error())
		return
	}
	if req.Sender != userID {
		h.sendError(sender, types.ErrorCodeInvalidMessage, "sender must match the authenticated user")
		return
	}

	_, err = h.broker.Publish(ctx, roomKey, req.Sender, req.Receiver, req.Message)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrInvalidMessage):
		h.sendError(sender, types.ErrorCodeInvalidMessage, "sender and receiver do not match this conversation")
	case room.IsPersistenceError(err):
		h.sendError(sender, types.ErrorCodePersistenceError, "message could not be saved, resend to retry")
	default:
		h.logger.Errorf(ctx, "Unexpected publish failure in room %s: %v", roomKey, err)
		h.sendError(sender, types.ErrorCodePersistenceError, "message could not be delivered")
	}
}

// sendError delivers a failure envelope to a single connection
func (h *Handler) sendError(conn *Connection, code types.ErrorCode, reason string) {
	payload, err := types.NewErrorEnvelope(code, reason).ToJSON()
	if err != nil {
		h.logger.Errorf(context.Background(), "Failed to marshal error envelope: %v", err)
		return
	}
	if !conn.Deliver(payload) {
		h.metrics.FanoutDropped()
	}
}

// sendSnapshot delivers the current presence snapshot to a single connection
func (h *Handler) sendSnapshot(ctx context.Context, conn *Connection) {
	payload, err := types.NewOnlineUsersEnvelope(h.tracker.Snapshot(ctx)).ToJSON()
	if err != nil {
		h.logger.Errorf(ctx, "Failed to marshal presence snapshot: %v", err)
		return
	}
	if !conn.Deliver(payload) {
		h.metrics.FanoutDropped()
	}
}

// Shutdown closes every live connection. Teardown hooks run as each
// connection closes, draining the presence and room groups.
func (h *Handler) Shutdown(ctx context.Context) error {
	conns := h.registry.Connections()
	h.logger.Infof(ctx, "Closing %d WebSocket connections", len(conns))

	for _, conn := range conns {
		if c, ok := conn.Peer.(*Connection); ok {
			c.Close()
		}
	}
	return nil
}

// SetupRoutes sets up WebSocket and conversation API routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/ws/online", h.HandleOnline)
	router.GET("/ws/chat/:user_id/:peer_id", h.HandleChat)
	router.GET("/api/chat/:user_id/:peer_id/messages", h.HandleConversation)
	router.POST("/api/messages/:message_id/read", h.HandleMarkRead)
}
