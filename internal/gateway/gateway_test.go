package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/refundly/refund-service/internal/auth"
	"github.com/refundly/refund-service/internal/domain"
)

// fakeResolver admits the tokens it was seeded with.
type fakeResolver struct {
	sessions map[string]auth.Session
}

func (f *fakeResolver) ResolveSession(_ context.Context, token string) (*auth.Session, error) {
	session, ok := f.sessions[token]
	if !ok {
		return nil, auth.ErrSessionInvalid
	}
	copied := session
	return &copied, nil
}

func newTestGateway(t *testing.T, heartbeat time.Duration, sessions map[string]auth.Session) (*Gateway, *httptest.Server) {
	t.Helper()
	gw := New(&fakeResolver{sessions: sessions}, heartbeat)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return gw, srv
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var f frame
	if err := json.NewDecoder(conn).Decode(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	var f frame
	if err := json.NewDecoder(conn).Decode(&f); err == nil {
		t.Fatalf("expected no frame, got %+v", f)
	}
}

func memberSession(userID uuid.UUID) auth.Session {
	return auth.Session{UserID: userID, Role: domain.RoleMember, ExpiresAt: time.Now().Add(time.Hour)}
}

func staffSession(userID uuid.UUID) auth.Session {
	return auth.Session{UserID: userID, Role: domain.RoleStaff, ExpiresAt: time.Now().Add(time.Hour)}
}

func awaitRoomSize(t *testing.T, gw *Gateway, room string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gw.RoomSize(room) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached size %d", room, want)
}

func TestHandshake_RejectsMissingToken(t *testing.T) {
	_, srv := newTestGateway(t, time.Hour, nil)

	conn := dialWS(t, srv, "")
	f := readFrame(t, conn, 2*time.Second)
	if f.Type != "auth:error" {
		t.Fatalf("expected auth:error frame, got %q", f.Type)
	}

	var payload authErrorPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != "AUTH_HANDSHAKE_REJECTED" {
		t.Fatalf("unexpected rejection code %q", payload.Code)
	}
}

func TestHandshake_RejectedConnectionJoinsNoRooms(t *testing.T) {
	userID := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, nil)

	conn := dialWS(t, srv, "bogus")
	_ = readFrame(t, conn, 2*time.Second)

	if size := gw.RoomSize(domain.UserRoom(userID)); size != 0 {
		t.Fatalf("expected empty user room, got %d members", size)
	}
	if size := gw.RoomSize(domain.RoomBroadcast); size != 0 {
		t.Fatalf("expected no admitted peers, got %d", size)
	}
}

func TestHandshake_MemberJoinsOwnRoomOnly(t *testing.T) {
	userID := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, map[string]auth.Session{
		"tok-member": memberSession(userID),
	})

	conn := dialWS(t, srv, "tok-member")
	f := readFrame(t, conn, 2*time.Second)
	if f.Type != "auth:ok" {
		t.Fatalf("expected auth:ok, got %q", f.Type)
	}

	var payload authOKPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.UserID != userID.String() {
		t.Fatalf("unexpected user id %q", payload.UserID)
	}
	if len(payload.Rooms) != 1 || payload.Rooms[0] != domain.UserRoom(userID) {
		t.Fatalf("expected only the private room, got %v", payload.Rooms)
	}
	awaitRoomSize(t, gw, domain.UserRoom(userID), 1)
	if gw.RoomSize(domain.RoomStaff) != 0 {
		t.Fatal("member must not join the staff room")
	}
}

func TestHandshake_StaffAlsoJoinsStaffRoom(t *testing.T) {
	userID := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, map[string]auth.Session{
		"tok-staff": staffSession(userID),
	})

	conn := dialWS(t, srv, "tok-staff")
	f := readFrame(t, conn, 2*time.Second)
	if f.Type != "auth:ok" {
		t.Fatalf("expected auth:ok, got %q", f.Type)
	}
	awaitRoomSize(t, gw, domain.RoomStaff, 1)
	awaitRoomSize(t, gw, domain.UserRoom(userID), 1)
}

func TestEmit_UserRoomIsolation(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, map[string]auth.Session{
		"tok-alice": memberSession(alice),
		"tok-bob":   memberSession(bob),
	})

	aliceConn := dialWS(t, srv, "tok-alice")
	bobConn := dialWS(t, srv, "tok-bob")
	_ = readFrame(t, aliceConn, 2*time.Second)
	_ = readFrame(t, bobConn, 2*time.Second)
	awaitRoomSize(t, gw, domain.UserRoom(alice), 1)
	awaitRoomSize(t, gw, domain.UserRoom(bob), 1)

	payload := json.RawMessage(`{"refundId":"r1","status":"PAID"}`)
	if err := gw.Emit(domain.UserRoom(alice), string(domain.EventRefundUpdated), payload); err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	f := readFrame(t, aliceConn, 2*time.Second)
	if f.Type != string(domain.EventRefundUpdated) {
		t.Fatalf("expected refund:updated for alice, got %q", f.Type)
	}
	expectNoFrame(t, bobConn, 300*time.Millisecond)
}

func TestEmit_BroadcastReachesEveryPeer(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, map[string]auth.Session{
		"tok-alice": memberSession(alice),
		"tok-bob":   memberSession(bob),
	})

	aliceConn := dialWS(t, srv, "tok-alice")
	bobConn := dialWS(t, srv, "tok-bob")
	_ = readFrame(t, aliceConn, 2*time.Second)
	_ = readFrame(t, bobConn, 2*time.Second)
	awaitRoomSize(t, gw, domain.RoomBroadcast, 2)

	payload := json.RawMessage(`{"id":"n1","title":"Maintenance"}`)
	if err := gw.Emit(domain.RoomBroadcast, string(domain.EventNotificationNew), payload); err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		f := readFrame(t, conn, 2*time.Second)
		if f.Type != string(domain.EventNotificationNew) {
			t.Fatalf("expected notification:new broadcast, got %q", f.Type)
		}
	}
}

func TestEmit_DeduplicatesRetriedEnvelopes(t *testing.T) {
	userID := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, map[string]auth.Session{
		"tok": memberSession(userID),
	})

	conn := dialWS(t, srv, "tok")
	_ = readFrame(t, conn, 2*time.Second)
	awaitRoomSize(t, gw, domain.UserRoom(userID), 1)

	payload := json.RawMessage(`{"refundId":"r1","status":"PAID"}`)
	room := domain.UserRoom(userID)
	if err := gw.Emit(room, string(domain.EventRefundUpdated), payload); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if err := gw.Emit(room, string(domain.EventRefundUpdated), payload); err != nil {
		t.Fatalf("second emit: %v", err)
	}

	f := readFrame(t, conn, 2*time.Second)
	if f.Type != string(domain.EventRefundUpdated) {
		t.Fatalf("expected the first delivery, got %q", f.Type)
	}
	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestEmit_DistinctPayloadsBothDeliver(t *testing.T) {
	userID := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, map[string]auth.Session{
		"tok": memberSession(userID),
	})

	conn := dialWS(t, srv, "tok")
	_ = readFrame(t, conn, 2*time.Second)
	room := domain.UserRoom(userID)
	awaitRoomSize(t, gw, room, 1)

	if err := gw.Emit(room, string(domain.EventRefundUpdated), json.RawMessage(`{"refundId":"r1","status":"PENDING_RECEIPTS"}`)); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if err := gw.Emit(room, string(domain.EventRefundUpdated), json.RawMessage(`{"refundId":"r1","status":"PAID"}`)); err != nil {
		t.Fatalf("second emit: %v", err)
	}

	first := readFrame(t, conn, 2*time.Second)
	second := readFrame(t, conn, 2*time.Second)
	if first.Type != string(domain.EventRefundUpdated) || second.Type != string(domain.EventRefundUpdated) {
		t.Fatalf("expected two refund:updated frames, got %q and %q", first.Type, second.Type)
	}
}

func TestHeartbeat_PingAndPong(t *testing.T) {
	userID := uuid.New()
	_, srv := newTestGateway(t, 50*time.Millisecond, map[string]auth.Session{
		"tok": memberSession(userID),
	})

	conn := dialWS(t, srv, "tok")
	_ = readFrame(t, conn, 2*time.Second)

	f := readFrame(t, conn, 2*time.Second)
	if f.Type != "ping" {
		t.Fatalf("expected heartbeat ping, got %q", f.Type)
	}

	if err := json.NewEncoder(conn).Encode(frame{Type: "ping"}); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	for {
		f = readFrame(t, conn, 2*time.Second)
		if f.Type == "pong" {
			return
		}
		if f.Type != "ping" {
			t.Fatalf("expected pong or heartbeat ping, got %q", f.Type)
		}
	}
}

func TestHeartbeat_DisconnectsExpiredSession(t *testing.T) {
	userID := uuid.New()
	session := memberSession(userID)
	session.ExpiresAt = time.Now().Add(40 * time.Millisecond)
	gw, srv := newTestGateway(t, 100*time.Millisecond, map[string]auth.Session{
		"tok": session,
	})

	conn := dialWS(t, srv, "tok")
	_ = readFrame(t, conn, 2*time.Second)
	awaitRoomSize(t, gw, domain.UserRoom(userID), 1)

	f := readFrame(t, conn, 2*time.Second)
	if f.Type != "auth:error" {
		t.Fatalf("expected session expiry frame, got %q", f.Type)
	}
	var payload authErrorPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != "SESSION_EXPIRED" {
		t.Fatalf("unexpected code %q", payload.Code)
	}
	awaitRoomSize(t, gw, domain.UserRoom(userID), 0)
}

func TestDisconnect_LeavesRooms(t *testing.T) {
	userID := uuid.New()
	gw, srv := newTestGateway(t, time.Hour, map[string]auth.Session{
		"tok": staffSession(userID),
	})

	conn := dialWS(t, srv, "tok")
	_ = readFrame(t, conn, 2*time.Second)
	awaitRoomSize(t, gw, domain.RoomStaff, 1)

	_ = conn.Close()
	awaitRoomSize(t, gw, domain.RoomStaff, 0)
	awaitRoomSize(t, gw, domain.UserRoom(userID), 0)
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestGateway(t, time.Hour, nil)

	resp, err := http.Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
