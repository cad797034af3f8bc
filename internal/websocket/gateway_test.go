package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/chat"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/config"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/models"
)

type fakeAuth struct {
	users map[string]*models.User
}

func (f *fakeAuth) GetUserFromToken(_ context.Context, tokenStr string) (*models.User, error) {
	user, ok := f.users[tokenStr]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return user, nil
}

type fakeChecker struct {
	mu      sync.Mutex
	allowed map[[2]int]bool
	err     error
}

func (f *fakeChecker) CanAccess(_ context.Context, userID, roomID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[[2]int{userID, roomID}], nil
}

type fakeMessages struct {
	mu      sync.Mutex
	nextID  int
	saved   []*models.Message
	history []*models.Message
	saveErr error
}

func (f *fakeMessages) SaveMessage(_ context.Context, msg *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.nextID++
	stored := *msg
	stored.ID = f.nextID
	stored.CreatedAt = time.Now()
	f.saved = append(f.saved, &stored)
	return &stored, nil
}

func (f *fakeMessages) LoadRecentMessages(_ context.Context, roomID, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeMessages) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeSessions struct {
	mu        sync.Mutex
	created   int
	removed   int
	refreshed int
	cleared   int
}

func (f *fakeSessions) CreateActiveSession(_ context.Context, userID, roomID int, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return nil
}

func (f *fakeSessions) RemoveActiveSession(_ context.Context, userID, roomID int, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeSessions) UpdateSessionActivity(_ context.Context, userID, roomID int, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	return nil
}

func (f *fakeSessions) ClearSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeSessions) counts() (created, removed, cleared int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.removed, f.cleared
}

func (f *fakeSessions) refreshedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshed
}

type gatewayFixture struct {
	server   *httptest.Server
	auth     *fakeAuth
	checker  *fakeChecker
	messages *fakeMessages
	sessions *fakeSessions
	router   *chat.Router
}

func newFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Chat.HistoryLimit = 10
	cfg.Chat.FramesPerSecond = 200
	cfg.Chat.FrameBurst = 200
	cfg.Chat.MaxMessageLength = 4000
	return newFixtureWithConfig(t, cfg)
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{
		auth: &fakeAuth{users: map[string]*models.User{
			"alice-token": {ID: 1, Username: "alice"},
			"bob-token":   {ID: 2, Username: "bob"},
		}},
		checker:  &fakeChecker{allowed: make(map[[2]int]bool)},
		messages: &fakeMessages{},
		sessions: &fakeSessions{},
		router: chat.NewRouter(
			chat.NewPresenceRegistry(),
			chat.NewRoomDirectory(),
			chat.NewTypingTracker(),
			50*time.Millisecond,
		),
	}

	gw := NewGateway(f.auth, f.checker, f.messages, f.sessions, f.router, cfg)
	f.server = httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(f.server.Close)
	return f
}

func (f *gatewayFixture) allow(userID, roomID int) {
	f.checker.mu.Lock()
	f.checker.allowed[[2]int{userID, roomID}] = true
	f.checker.mu.Unlock()
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, eventType models.EventType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame := models.ClientFrame{Type: eventType, Payload: raw}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *models.ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame models.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return &frame
}

// expectNoFrame fails if anything arrives before the deadline.
func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	var frame models.ServerFrame
	err := conn.ReadJSON(&frame)
	if err == nil {
		t.Fatalf("expected no frame, got %s", frame.Type)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID int) {
	t.Helper()
	writeFrame(t, conn, models.EventJoinRoom, models.JoinRoomPayload{RoomID: roomID})
	frame := readFrame(t, conn)
	if frame.Type != models.EventRoomJoined {
		t.Fatalf("expected room_joined, got %s (%+v)", frame.Type, frame)
	}
}

func TestServeWSRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"", "forged-token"} {
		url := "ws" + strings.TrimPrefix(f.server.URL, "http")
		if token != "" {
			url += "?token=" + token
		}
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("token %q: expected handshake failure", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %+v", token, resp)
		}
	}
}

func TestJoinDeliversHistory(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)
	f.messages.history = []*models.Message{
		{ID: 11, RoomID: 7, UserID: 2, Username: "bob", Content: "earlier"},
		{ID: 12, RoomID: 7, UserID: 2, Username: "bob", Content: "still earlier"},
	}

	alice := f.dial(t, "alice-token")
	writeFrame(t, alice, models.EventJoinRoom, models.JoinRoomPayload{RoomID: 7})

	frame := readFrame(t, alice)
	if frame.Type != models.EventRoomJoined {
		t.Fatalf("expected room_joined, got %s", frame.Type)
	}
	if frame.RoomID != 7 {
		t.Errorf("room_id = %d, want 7", frame.RoomID)
	}
	if len(frame.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(frame.History))
	}
	if frame.History[0].Content != "earlier" {
		t.Errorf("history[0].Content = %q, want %q", frame.History[0].Content, "earlier")
	}

	if created, _, _ := f.sessions.counts(); created != 1 {
		t.Errorf("active sessions created = %d, want 1", created)
	}
}

func TestJoinDenied(t *testing.T) {
	f := newFixture(t)

	alice := f.dial(t, "alice-token")
	writeFrame(t, alice, models.EventJoinRoom, models.JoinRoomPayload{RoomID: 7})

	frame := readFrame(t, alice)
	if frame.Type != models.EventError {
		t.Fatalf("expected error frame, got %s", frame.Type)
	}
	if frame.Error == nil || frame.Error.Code != models.ErrCodeNotMember {
		t.Fatalf("expected %s, got %+v", models.ErrCodeNotMember, frame.Error)
	}
	if created, _, _ := f.sessions.counts(); created != 0 {
		t.Errorf("active sessions created = %d, want 0", created)
	}
}

// A membership authority outage denies the join instead of failing open.
func TestJoinAuthorityUnavailable(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)

	f.checker.mu.Lock()
	f.checker.err = errors.New("dial tcp: connection refused")
	f.checker.mu.Unlock()

	alice := f.dial(t, "alice-token")
	writeFrame(t, alice, models.EventJoinRoom, models.JoinRoomPayload{RoomID: 7})

	frame := readFrame(t, alice)
	if frame.Type != models.EventError || frame.Error == nil || frame.Error.Code != models.ErrCodeNotMember {
		t.Fatalf("expected %s error, got %+v", models.ErrCodeNotMember, frame)
	}
	if !strings.Contains(frame.Error.Message, "verify") {
		t.Errorf("error message = %q, want a verification failure", frame.Error.Message)
	}
	if created, _, _ := f.sessions.counts(); created != 0 {
		t.Errorf("active sessions created = %d, want 0", created)
	}
}

func TestSendFansOutToOthersOnly(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)
	f.allow(2, 7)

	alice := f.dial(t, "alice-token")
	joinRoom(t, alice, 7)

	bob := f.dial(t, "bob-token")
	joinRoom(t, bob, 7)

	// Alice hears about bob's arrival.
	notice := readFrame(t, alice)
	if notice.Type != models.EventUserJoined {
		t.Fatalf("expected user_joined, got %s", notice.Type)
	}
	if notice.User == nil || notice.User.Username != "bob" {
		t.Fatalf("user_joined user = %+v, want bob", notice.User)
	}

	writeFrame(t, bob, models.EventSendMessage, models.SendMessagePayload{RoomID: 7, Content: "hi"})

	got := readFrame(t, alice)
	if got.Type != models.EventReceiveMessage {
		t.Fatalf("expected receive_message, got %s", got.Type)
	}
	if got.Message == nil || got.Message.Content != "hi" {
		t.Fatalf("message = %+v, want content %q", got.Message, "hi")
	}
	if got.Message.ID == 0 {
		t.Error("delivered message has no persisted id")
	}
	if got.Message.Username != "bob" {
		t.Errorf("message sender = %q, want bob", got.Message.Username)
	}

	// The sender never receives an echo.
	expectNoFrame(t, bob, 200*time.Millisecond)

	if f.messages.savedCount() != 1 {
		t.Errorf("messages persisted = %d, want 1", f.messages.savedCount())
	}
	if f.sessions.refreshedCount() != 1 {
		t.Errorf("session activity refreshes = %d, want 1", f.sessions.refreshedCount())
	}
}

func TestSendWithoutJoin(t *testing.T) {
	f := newFixture(t)

	alice := f.dial(t, "alice-token")
	writeFrame(t, alice, models.EventSendMessage, models.SendMessagePayload{RoomID: 7, Content: "hi"})

	frame := readFrame(t, alice)
	if frame.Type != models.EventError || frame.Error == nil || frame.Error.Code != models.ErrCodeNotMember {
		t.Fatalf("expected %s error, got %+v", models.ErrCodeNotMember, frame)
	}
	if f.messages.savedCount() != 0 {
		t.Errorf("messages persisted = %d, want 0", f.messages.savedCount())
	}
}

func TestSendPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)
	f.allow(2, 7)

	alice := f.dial(t, "alice-token")
	joinRoom(t, alice, 7)
	bob := f.dial(t, "bob-token")
	joinRoom(t, bob, 7)
	readFrame(t, alice) // bob's user_joined

	f.messages.mu.Lock()
	f.messages.saveErr = errors.New("database down")
	f.messages.mu.Unlock()

	writeFrame(t, bob, models.EventSendMessage, models.SendMessagePayload{RoomID: 7, Content: "hi"})

	frame := readFrame(t, bob)
	if frame.Type != models.EventError || frame.Error == nil || frame.Error.Code != models.ErrCodePersistenceFailed {
		t.Fatalf("expected %s error, got %+v", models.ErrCodePersistenceFailed, frame)
	}

	// No partial fan-out.
	expectNoFrame(t, alice, 200*time.Millisecond)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)

	alice := f.dial(t, "alice-token")
	joinRoom(t, alice, 7)

	cases := []struct {
		name    string
		payload models.SendMessagePayload
	}{
		{"empty message", models.SendMessagePayload{RoomID: 7}},
		{"oversized message", models.SendMessagePayload{RoomID: 7, Content: strings.Repeat("x", 4001)}},
		{"missing room", models.SendMessagePayload{Content: "hi"}},
	}
	for _, tc := range cases {
		writeFrame(t, alice, models.EventSendMessage, tc.payload)
		frame := readFrame(t, alice)
		if frame.Type != models.EventError || frame.Error == nil || frame.Error.Code != models.ErrCodeInvalidPayload {
			t.Fatalf("%s: expected %s error, got %+v", tc.name, models.ErrCodeInvalidPayload, frame)
		}
	}
	if f.messages.savedCount() != 0 {
		t.Errorf("messages persisted = %d, want 0", f.messages.savedCount())
	}
}

func TestAttachmentOnlyMessage(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)
	f.allow(2, 7)

	alice := f.dial(t, "alice-token")
	joinRoom(t, alice, 7)
	bob := f.dial(t, "bob-token")
	joinRoom(t, bob, 7)
	readFrame(t, alice) // bob's user_joined

	writeFrame(t, bob, models.EventSendMessage, models.SendMessagePayload{
		RoomID:      7,
		MessageType: "image",
		Attachments: []models.Attachment{{URL: "https://cdn.example.com/cat.png", Type: "image/png", Size: 1234}},
	})

	got := readFrame(t, alice)
	if got.Type != models.EventReceiveMessage {
		t.Fatalf("expected receive_message, got %s", got.Type)
	}
	if got.Message.MessageType != "image" {
		t.Errorf("message_type = %q, want image", got.Message.MessageType)
	}
	if len(got.Message.Attachments) != 1 || got.Message.Attachments[0].URL != "https://cdn.example.com/cat.png" {
		t.Fatalf("attachments = %+v", got.Message.Attachments)
	}
}

func TestTypingFanout(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)
	f.allow(2, 7)

	alice := f.dial(t, "alice-token")
	joinRoom(t, alice, 7)
	bob := f.dial(t, "bob-token")
	joinRoom(t, bob, 7)
	readFrame(t, alice) // bob's user_joined

	writeFrame(t, bob, models.EventTyping, models.TypingPayload{RoomID: 7, IsTyping: true})

	frame := readFrame(t, alice)
	if frame.Type != models.EventUserTyping {
		t.Fatalf("expected user_typing, got %s", frame.Type)
	}
	if frame.Typing == nil || !frame.Typing.IsTyping || frame.Typing.Username != "bob" {
		t.Fatalf("typing info = %+v", frame.Typing)
	}

	// Typing in a room bob never joined is rejected.
	writeFrame(t, bob, models.EventTyping, models.TypingPayload{RoomID: 99, IsTyping: true})
	errFrame := readFrame(t, bob)
	if errFrame.Type != models.EventError || errFrame.Error == nil || errFrame.Error.Code != models.ErrCodeNotMember {
		t.Fatalf("expected %s error, got %+v", models.ErrCodeNotMember, errFrame)
	}
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)
	f.allow(2, 7)

	alice := f.dial(t, "alice-token")
	joinRoom(t, alice, 7)
	bob := f.dial(t, "bob-token")
	joinRoom(t, bob, 7)
	readFrame(t, alice) // bob's user_joined

	writeFrame(t, bob, models.EventLeaveRoom, models.LeaveRoomPayload{RoomID: 7})

	ack := readFrame(t, bob)
	if ack.Type != models.EventRoomLeft || ack.RoomID != 7 {
		t.Fatalf("expected room_left for 7, got %+v", ack)
	}

	notice := readFrame(t, alice)
	if notice.Type != models.EventUserLeft {
		t.Fatalf("expected user_left, got %s", notice.Type)
	}
	if notice.User == nil || notice.User.Username != "bob" {
		t.Fatalf("user_left user = %+v, want bob", notice.User)
	}

	if _, removed, _ := f.sessions.counts(); removed != 1 {
		t.Errorf("active sessions removed = %d, want 1", removed)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	f := newFixture(t)
	f.allow(1, 7)
	f.allow(2, 7)

	alice := f.dial(t, "alice-token")
	joinRoom(t, alice, 7)
	bob := f.dial(t, "bob-token")
	joinRoom(t, bob, 7)
	readFrame(t, alice) // bob's user_joined

	bob.Close()

	// Exactly two frames reach alice: user_left on the reliable lane
	// and presence_changed on the ephemeral lane, in either order.
	sawLeft := false
	sawOffline := false
	for i := 0; i < 2; i++ {
		frame := readFrame(t, alice)
		switch frame.Type {
		case models.EventUserLeft:
			sawLeft = true
		case models.EventPresenceChanged:
			if frame.Presence != nil && !frame.Presence.IsOnline {
				sawOffline = true
			}
		default:
			t.Fatalf("unexpected frame %s after disconnect", frame.Type)
		}
	}
	if !sawLeft {
		t.Error("never saw user_left after disconnect")
	}
	if !sawOffline {
		t.Error("never saw presence_changed offline after disconnect")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, _, cleared := f.sessions.counts()
		return cleared == 1
	}, "session rows never cleared")
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	f := newFixture(t)

	alice := f.dial(t, "alice-token")

	writeFrame(t, alice, models.EventType("dance"), struct{}{})
	frame := readFrame(t, alice)
	if frame.Type != models.EventError || frame.Error == nil || frame.Error.Code != models.ErrCodeUnknownType {
		t.Fatalf("expected %s error, got %+v", models.ErrCodeUnknownType, frame)
	}

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	frame = readFrame(t, alice)
	if frame.Type != models.EventError || frame.Error == nil || frame.Error.Code != models.ErrCodeInvalidPayload {
		t.Fatalf("expected %s error, got %+v", models.ErrCodeInvalidPayload, frame)
	}
}

func TestFrameRateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Chat.HistoryLimit = 10
	cfg.Chat.FramesPerSecond = 1
	cfg.Chat.FrameBurst = 2
	cfg.Chat.MaxMessageLength = 4000
	f := newFixtureWithConfig(t, cfg)

	alice := f.dial(t, "alice-token")

	// The burst admits two frames; the third trips the limiter.
	for i := 0; i < 3; i++ {
		writeFrame(t, alice, models.EventTyping, models.TypingPayload{RoomID: 7, IsTyping: true})
	}

	sawRateLimited := false
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame models.ServerFrame
		if err := alice.ReadJSON(&frame); err != nil {
			break
		}
		if frame.Type == models.EventError && frame.Error != nil && frame.Error.Code == models.ErrCodeRateLimited {
			sawRateLimited = true
		}
	}
	if !sawRateLimited {
		t.Fatal("never saw RATE_LIMITED before the connection closed")
	}
}

func TestRepeatedGarbageDropsConnection(t *testing.T) {
	f := newFixture(t)

	alice := f.dial(t, "alice-token")
	for i := 0; i < maxDecodeErrors; i++ {
		if err := alice.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
			t.Fatalf("write garbage %d: %v", i, err)
		}
	}

	// The server closes after the third bad frame; the close frame may
	// arrive after the pending error frames.
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame models.ServerFrame
		if err := alice.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != models.EventError {
			t.Fatalf("unexpected frame %s before close", frame.Type)
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
