package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"chatrelay/internal/auth"
	"chatrelay/internal/directory"
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

const testSecret = "test-secret"

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, args ...any)                   {}
func (m *mockLogger) Debugf(ctx context.Context, template string, args ...any) {}
func (m *mockLogger) Info(ctx context.Context, args ...any)                    {}
func (m *mockLogger) Infof(ctx context.Context, template string, args ...any)  {}
func (m *mockLogger) Warn(ctx context.Context, args ...any)                    {}
func (m *mockLogger) Warnf(ctx context.Context, template string, args ...any)  {}
func (m *mockLogger) Error(ctx context.Context, args ...any)                   {}
func (m *mockLogger) Errorf(ctx context.Context, template string, args ...any) {}
func (m *mockLogger) Fatal(ctx context.Context, args ...any)                   {}
func (m *mockLogger) Fatalf(ctx context.Context, template string, args ...any) {}

type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	saved  []store.Message
	fail   error
}

func (s *fakeStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *fakeStore) CreateMessage(ctx context.Context, sender, receiver, body string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return store.Message{}, s.fail
	}
	s.nextID++
	msg := store.Message{
		ID:        s.nextID,
		Sender:    sender,
		Receiver:  receiver,
		Body:      body,
		CreatedAt: time.Now(),
	}
	s.saved = append(s.saved, msg)
	return msg, nil
}

func (s *fakeStore) Conversation(ctx context.Context, a, b string) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Message
	for _, msg := range s.saved {
		if (msg.Sender == a && msg.Receiver == b) || (msg.Sender == b && msg.Receiver == a) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.saved {
		if s.saved[i].ID == id {
			s.saved[i].IsRead = true
			return nil
		}
	}
	return store.ErrNotFound
}

type fakeDirectory struct{}

func (fakeDirectory) DisplayInfo(ctx context.Context, userID string) (directory.DisplayInfo, error) {
	return directory.DisplayInfo{}, directory.ErrNotFound
}

func (fakeDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	return true, nil
}

func (fakeDirectory) SetOnline(ctx context.Context, userID string, online bool) error {
	return nil
}

func testWSConfig() WSConfig {
	return WSConfig{
		PongWait:        10 * time.Second,
		PingPeriod:      5 * time.Second,
		WriteWait:       2 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxConnections:  100,
	}
}

type testEnv struct {
	srv      *httptest.Server
	tracker  *presence.Tracker
	registry *registry.Registry
}

func newTestServer(t *testing.T, st store.MessageStore, wsConfig WSConfig) *httptest.Server {
	return newTestEnv(t, st, wsConfig).srv
}

func newTestEnv(t *testing.T, st store.MessageStore, wsConfig WSConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var logger log.Logger = &mockLogger{}
	dir := fakeDirectory{}
	tr := transform.New(dir, logger)
	reg := registry.New(logger)
	tracker := presence.New(dir, tr, nil, logger, metrics.Noop{})
	broker := room.New(st, tr, logger, metrics.Noop{})
	validator := jwt.NewValidator(jwt.Config{SecretKey: testSecret})
	authorizer := auth.NewDirectoryAuthorizer(dir, logger)
	limiter := auth.NewConnectionTracker(auth.RateLimitConfig{
		MaxConnectionsPerUser: 10,
		ConnectRate:           1000,
		ConnectBurst:          1000,
	}, logger)

	handler := NewHandler(reg, tracker, broker, st, tr, validator, authorizer, limiter, logger, wsConfig, metrics.Noop{})

	router := gin.New()
	handler.SetupRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, tracker: tracker, registry: reg}
}

func testToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dialExpectStatus(t *testing.T, url string, want int) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatalf("expected handshake failure for %s", url)
	}
	if resp == nil || resp.StatusCode != want {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected status %d, got %d", want, status)
	}
}

// readFrame reads one frame with a deadline, reporting false on timeout
func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) ([]byte, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	return payload, true
}

// waitForSnapshot reads frames until a presence snapshot matches the wanted set
func waitForSnapshot(t *testing.T, conn *websocket.Conn, want []string) {
	t.Helper()
	wanted := make(map[string]bool, len(want))
	for _, id := range want {
		wanted[id] = true
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		payload, ok := readFrame(t, conn, time.Until(deadline))
		if !ok {
			break
		}
		var env types.OnlineUsersEnvelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Type != types.EnvelopeTypeOnlineUsers {
			continue
		}
		if len(env.Data) != len(wanted) {
			continue
		}
		match := true
		for _, u := range env.Data {
			if !wanted[u.UserID] {
				match = false
				break
			}
		}
		if match {
			return
		}
	}
	t.Fatalf("never received presence snapshot %v", want)
}

func TestHandleOnline_RejectsBadTokens(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, testWSConfig())

	t.Run("missing token", func(t *testing.T) {
		dialExpectStatus(t, wsURL(srv, "/ws/online"), http.StatusUnauthorized)
	})

	t.Run("garbage token", func(t *testing.T) {
		dialExpectStatus(t, wsURL(srv, "/ws/online?token=garbage"), http.StatusUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
			"sub": "U1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("other-secret"))
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		dialExpectStatus(t, wsURL(srv, "/ws/online?token="+signed), http.StatusUnauthorized)
	})
}

func TestHandleOnline_PresenceLifecycle(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, testWSConfig())

	u1 := dial(t, wsURL(srv, "/ws/online?token="+testToken(t, "U1")))
	waitForSnapshot(t, u1, []string{"U1"})

	u2 := dial(t, wsURL(srv, "/ws/online?token="+testToken(t, "U2")))
	waitForSnapshot(t, u2, []string{"U1", "U2"})
	waitForSnapshot(t, u1, []string{"U1", "U2"})

	u1.Close()
	waitForSnapshot(t, u2, []string{"U2"})
}

func TestHandleOnline_SecondTabNoTransition(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, testWSConfig())

	tab1 := dial(t, wsURL(srv, "/ws/online?token="+testToken(t, "U1")))
	waitForSnapshot(t, tab1, []string{"U1"})

	// A second connection for the same user still gets the roster.
	tab2 := dial(t, wsURL(srv, "/ws/online?token="+testToken(t, "U1")))
	waitForSnapshot(t, tab2, []string{"U1"})

	// Closing one tab must not take the user offline.
	tab2.Close()

	u2 := dial(t, wsURL(srv, "/ws/online?token="+testToken(t, "U2")))
	waitForSnapshot(t, u2, []string{"U1", "U2"})
}

func TestHandleChat_RejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, testWSConfig())
	token := testToken(t, "U1")

	t.Run("self conversation", func(t *testing.T) {
		dialExpectStatus(t, wsURL(srv, "/ws/chat/U1/U1?token="+token), http.StatusBadRequest)
	})

	t.Run("bad peer id", func(t *testing.T) {
		dialExpectStatus(t, wsURL(srv, "/ws/chat/U1/bad%20peer?token="+token), http.StatusBadRequest)
	})

	t.Run("token subject mismatch", func(t *testing.T) {
		dialExpectStatus(t, wsURL(srv, "/ws/chat/U2/U1?token="+token), http.StatusForbidden)
	})

	t.Run("missing token", func(t *testing.T) {
		dialExpectStatus(t, wsURL(srv, "/ws/chat/U1/U2"), http.StatusUnauthorized)
	})
}

func TestHandleChat_MessageFlow(t *testing.T) {
	st := &fakeStore{nextID: 500}
	srv := newTestServer(t, st, testWSConfig())

	u1 := dial(t, wsURL(srv, "/ws/chat/U1/U2?token="+testToken(t, "U1")))
	u2 := dial(t, wsURL(srv, "/ws/chat/U2/U1?token="+testToken(t, "U2")))

	frame, _ := json.Marshal(types.ChatSendRequest{Sender: "U1", Receiver: "U2", Message: "hi"})
	if err := u1.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"sender": u1, "receiver": u2} {
		payload, ok := readFrame(t, conn, 3*time.Second)
		if !ok {
			t.Fatalf("%s received no fan-out frame", name)
		}
		var env types.ChatEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("failed to unmarshal frame for %s: %v", name, err)
		}
		if env.Type != types.EnvelopeTypeChatMessage {
			t.Errorf("unexpected envelope type for %s: %s", name, env.Type)
		}
		if env.Message.ID != 501 || env.Message.Message != "hi" {
			t.Errorf("unexpected payload for %s: %+v", name, env.Message)
		}
	}
}

func TestHandleChat_InvalidFrameErrorsSenderOnly(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, testWSConfig())

	u1 := dial(t, wsURL(srv, "/ws/chat/U1/U2?token="+testToken(t, "U1")))
	u2 := dial(t, wsURL(srv, "/ws/chat/U2/U1?token="+testToken(t, "U2")))

	frame, _ := json.Marshal(types.ChatSendRequest{Sender: "U1", Receiver: "U2", Message: ""})
	if err := u1.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}

	payload, ok := readFrame(t, u1, 3*time.Second)
	if !ok {
		t.Fatal("sender received no error frame")
	}
	var env types.ErrorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("failed to unmarshal error frame: %v", err)
	}
	if env.Type != types.EnvelopeTypeError || env.Error.Code != types.ErrorCodeInvalidMessage {
		t.Errorf("unexpected error envelope: %+v", env)
	}

	if _, ok := readFrame(t, u2, 300*time.Millisecond); ok {
		t.Error("receiver must not see the sender's error")
	}

	// The connection survives the error and can still publish. The expired
	// read deadline above poisoned u2's client side, so a fresh receiver
	// connection observes the resumed delivery.
	receiver := dial(t, wsURL(srv, "/ws/chat/U2/U1?token="+testToken(t, "U2")))

	frame, _ = json.Marshal(types.ChatSendRequest{Sender: "U1", Receiver: "U2", Message: "still here"})
	if err := u1.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("failed to send frame after error: %v", err)
	}
	if _, ok := readFrame(t, receiver, 3*time.Second); !ok {
		t.Error("expected delivery after a prior error")
	}
}

func TestHandleChat_PersistenceFailure(t *testing.T) {
	st := &fakeStore{}
	srv := newTestServer(t, st, testWSConfig())

	u1 := dial(t, wsURL(srv, "/ws/chat/U1/U2?token="+testToken(t, "U1")))
	u2 := dial(t, wsURL(srv, "/ws/chat/U2/U1?token="+testToken(t, "U2")))

	st.setFail(context.DeadlineExceeded)

	frame, _ := json.Marshal(types.ChatSendRequest{Sender: "U1", Receiver: "U2", Message: "hi"})
	if err := u1.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}

	payload, ok := readFrame(t, u1, 3*time.Second)
	if !ok {
		t.Fatal("sender received no error frame")
	}
	var env types.ErrorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("failed to unmarshal error frame: %v", err)
	}
	if env.Error.Code != types.ErrorCodePersistenceError {
		t.Errorf("expected persistence_error, got %s", env.Error.Code)
	}

	if _, ok := readFrame(t, u2, 300*time.Millisecond); ok {
		t.Error("expected zero fan-out after persistence failure")
	}

	// Resending after the store recovers succeeds. The expired read deadline
	// above poisoned u2's client side, so a fresh receiver connection
	// observes the retry.
	receiver := dial(t, wsURL(srv, "/ws/chat/U2/U1?token="+testToken(t, "U2")))

	st.setFail(nil)
	if err := u1.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("failed to resend frame: %v", err)
	}
	if _, ok := readFrame(t, receiver, 3*time.Second); !ok {
		t.Error("expected delivery after the store recovered")
	}
}

func TestHandleConversation(t *testing.T) {
	st := &fakeStore{}
	srv := newTestServer(t, st, testWSConfig())

	_, _ = st.CreateMessage(context.Background(), "U1", "U2", "first")
	_, _ = st.CreateMessage(context.Background(), "U2", "U1", "second")
	_, _ = st.CreateMessage(context.Background(), "U1", "U3", "other pair")

	t.Run("participant reads both directions", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/chat/U1/U2/messages?token=" + testToken(t, "U1"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var body struct {
			Messages []types.ChatPayload `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(body.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(body.Messages))
		}
		if body.Messages[0].Message != "first" || body.Messages[1].Message != "second" {
			t.Errorf("unexpected history order: %+v", body.Messages)
		}
	})

	t.Run("outsider is rejected", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/chat/U1/U2/messages?token=" + testToken(t, "U3"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/chat/U1/U2/messages")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})
}

func TestHandleMarkRead(t *testing.T) {
	st := &fakeStore{}
	srv := newTestServer(t, st, testWSConfig())

	msg, _ := st.CreateMessage(context.Background(), "U1", "U2", "hi")
	token := testToken(t, "U2")

	t.Run("marks an existing message", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/messages/1/read?token="+token, "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		history, _ := st.Conversation(context.Background(), "U1", "U2")
		if len(history) != 1 || !history[0].IsRead {
			t.Errorf("expected message %d to be read, got %+v", msg.ID, history)
		}
	})

	t.Run("unknown message returns 404", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/messages/999/read?token="+token, "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("non-numeric id returns 400", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/messages/abc/read?token="+token, "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})
}

// waitForDrain polls until the presence roster and the registry are empty
func waitForDrain(t *testing.T, env *testEnv) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if env.tracker.OnlineCount() == 0 && env.registry.Len() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("connections not fully torn down: %d online, %d registered",
		env.tracker.OnlineCount(), env.registry.Len())
}

func TestHandleOnline_ImmediateDisconnectLeavesNoResidue(t *testing.T) {
	env := newTestEnv(t, &fakeStore{}, testWSConfig())

	// Clients that drop right after the handshake must not leave their user
	// pinned online or a dead peer in the registry. Each cycle uses its own
	// user so lagging teardowns cannot hit the per-user connection cap.
	for i := 0; i < 25; i++ {
		token := testToken(t, fmt.Sprintf("U%d", i))
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.srv, "/ws/online?token="+token), nil)
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		conn.Close()
	}

	waitForDrain(t, env)
}

func TestHandleOnline_IdleTimeoutTearsDown(t *testing.T) {
	cfg := testWSConfig()
	cfg.PongWait = 300 * time.Millisecond
	cfg.PingPeriod = 150 * time.Millisecond
	env := newTestEnv(t, &fakeStore{}, cfg)

	// A client that never reads never answers pings, so the read deadline
	// expires and the server tears the connection down on its own.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.srv, "/ws/online?token="+testToken(t, "U1")), nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	// The handler joins after the handshake response, so poll for the user
	// showing up before waiting for the timeout to clear them out.
	online := false
	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); {
		if env.tracker.OnlineCount() > 0 {
			online = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !online {
		t.Fatal("expected the user to come online after the handshake")
	}

	waitForDrain(t, env)
}

func TestHandler_ConnectionCap(t *testing.T) {
	cfg := testWSConfig()
	cfg.MaxConnections = 1
	srv := newTestServer(t, &fakeStore{}, cfg)

	u1 := dial(t, wsURL(srv, "/ws/online?token="+testToken(t, "U1")))
	waitForSnapshot(t, u1, []string{"U1"})

	dialExpectStatus(t, wsURL(srv, "/ws/online?token="+testToken(t, "U2")), http.StatusServiceUnavailable)
}
