/**
 * @description
 * The realtime gateway terminates persistent WebSocket connections,
 * authenticates each one through the SessionResolver, assigns it to delivery
 * rooms, and relays event envelopes to those rooms.
 *
 * Handshake: the client presents a session token (query parameter or cookie)
 * at connect time. An absent, invalid or expired token gets an explicit
 * auth:error frame and the socket is closed before any room membership is
 * granted. On success the connection joins its private user room, plus the
 * staff room when the resolved role is staff.
 *
 * Emission is fire and forget: Emit delivers to every currently joined socket
 * of a room and returns immediately. Each peer writes through a buffered send
 * channel drained by its own writer goroutine, so a slow socket drops frames
 * instead of blocking the broadcast.
 *
 * Delivery jobs can be retried after a lost acknowledgment, so the gateway
 * dedups on a bounded memory of room|type|payload digests and silently skips
 * envelopes it has already relayed to that room.
 *
 * @dependencies
 * - golang.org/x/net/websocket: persistent connection transport.
 * - internal/auth: session token resolution.
 */

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/refundly/refund-service/internal/auth"
	"github.com/refundly/refund-service/internal/domain"
)

const (
	tokenCookieName = "rf_token"

	defaultHeartbeatInterval = 30 * time.Second
	peerSendBuffer           = 32
	maxDedupRecord           = 4096
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type authOKPayload struct {
	UserID string   `json:"user_id"`
	Rooms  []string `json:"rooms"`
}

// peer is one connected socket. Writes go through the send channel; the
// writer goroutine owns the underlying connection for output.
type peer struct {
	conn    *websocket.Conn
	send    chan frame
	session auth.Session
	rooms   []string

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(conn *websocket.Conn, session auth.Session, rooms []string) *peer {
	return &peer{
		conn:    conn,
		send:    make(chan frame, peerSendBuffer),
		session: session,
		rooms:   rooms,
		closed:  make(chan struct{}),
	}
}

// enqueue hands a frame to the writer goroutine. A full buffer means the
// socket is not keeping up; the frame is dropped rather than blocking the
// room broadcast.
func (p *peer) enqueue(f frame) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.send <- f:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// writeLoop drains the send channel onto the socket until the peer closes.
func (p *peer) writeLoop() {
	encoder := json.NewEncoder(p.conn)
	for {
		select {
		case <-p.closed:
			return
		case f := <-p.send:
			if err := encoder.Encode(f); err != nil {
				p.close()
				return
			}
		}
	}
}

// Gateway owns the room membership table and the socket lifecycle.
type Gateway struct {
	resolver  auth.SessionResolver
	heartbeat time.Duration

	mu    sync.RWMutex
	rooms map[string]map[*peer]struct{}
	peers map[*peer]struct{}

	dedupMu    sync.Mutex
	dedupSeen  map[string]struct{}
	dedupOrder []string
}

// New creates a gateway over the given resolver. heartbeat <= 0 falls back to
// the default interval.
func New(resolver auth.SessionResolver, heartbeat time.Duration) *Gateway {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &Gateway{
		resolver:  resolver,
		heartbeat: heartbeat,
		rooms:     make(map[string]map[*peer]struct{}),
		peers:     make(map[*peer]struct{}),
		dedupSeen: make(map[string]struct{}),
	}
}

// Handler mounts the websocket endpoint at /ws and a health probe at /up.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(g.handleConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

// tokenFromRequest reads the session token from the token query parameter or
// the rf_token cookie.
func tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// handleConn runs the handshake and, on success, serves the socket until it
// disconnects. Rejections are delivered as an auth:error frame before close,
// so the client always learns why it was refused.
func (g *Gateway) handleConn(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	request := conn.Request()
	token := tokenFromRequest(request)
	session, err := g.resolver.ResolveSession(request.Context(), token)
	if err != nil || session == nil || session.Expired(time.Now()) {
		if err != nil && !errors.Is(err, auth.ErrSessionInvalid) {
			log.Printf("level=warn component=gateway msg=\"session resolution failed\" remote=%s err=%v", request.RemoteAddr, err)
		}
		g.rejectConn(conn)
		return
	}

	rooms := []string{domain.UserRoom(session.UserID)}
	if session.Role == domain.RoleStaff {
		rooms = append(rooms, domain.RoomStaff)
	}

	p := newPeer(conn, *session, rooms)
	g.join(p)
	defer g.leave(p)

	go p.writeLoop()
	p.enqueue(frame{Type: "auth:ok", Payload: mustJSON(authOKPayload{
		UserID: session.UserID.String(),
		Rooms:  rooms,
	})})

	go g.heartbeatLoop(p)
	g.readLoop(p)
}

func (g *Gateway) rejectConn(conn *websocket.Conn) {
	body := mustJSON(authErrorPayload{
		Code:    "AUTH_HANDSHAKE_REJECTED",
		Message: "session token is missing, invalid or expired",
	})
	_ = json.NewEncoder(conn).Encode(frame{Type: "auth:error", Payload: body})
}

// readLoop consumes inbound frames. Clients only send ping frames; anything
// else is ignored. Returning tears the connection down.
func (g *Gateway) readLoop(p *peer) {
	decoder := json.NewDecoder(p.conn)
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("level=debug component=gateway msg=\"socket read ended\" user=%s err=%v", p.session.UserID, err)
			}
			p.close()
			return
		}
		if f.Type == "ping" {
			p.enqueue(frame{Type: "pong"})
		}
	}
}

// heartbeatLoop pings the peer on an interval. Sessions are re-checked at
// each tick: one that has expired since the handshake is told so and
// disconnected instead of lingering with stale credentials.
func (g *Gateway) heartbeatLoop(p *peer) {
	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			if p.session.Expired(time.Now()) {
				p.enqueue(frame{Type: "auth:error", Payload: mustJSON(authErrorPayload{
					Code:    "SESSION_EXPIRED",
					Message: "session expired; reconnect with a fresh token",
				})})
				time.AfterFunc(time.Second, p.close)
				return
			}
			p.enqueue(frame{Type: "ping"})
		}
	}
}

func (g *Gateway) join(p *peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.peers[p] = struct{}{}
	for _, room := range p.rooms {
		members, ok := g.rooms[room]
		if !ok {
			members = make(map[*peer]struct{})
			g.rooms[room] = members
		}
		members[p] = struct{}{}
	}
}

func (g *Gateway) leave(p *peer) {
	g.mu.Lock()
	for _, room := range p.rooms {
		if members, ok := g.rooms[room]; ok {
			delete(members, p)
			if len(members) == 0 {
				delete(g.rooms, room)
			}
		}
	}
	delete(g.peers, p)
	g.mu.Unlock()
	p.close()
}

// subscribers snapshots the peers of a room so emission never holds the
// membership lock while writing.
func (g *Gateway) subscribers(room string) []*peer {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if room == domain.RoomBroadcast {
		all := make([]*peer, 0, len(g.peers))
		for p := range g.peers {
			all = append(all, p)
		}
		return all
	}

	members, ok := g.rooms[room]
	if !ok {
		return nil
	}
	snapshot := make([]*peer, 0, len(members))
	for p := range members {
		snapshot = append(snapshot, p)
	}
	return snapshot
}

// Emit relays one event envelope to every socket currently joined to room.
// It returns immediately; per-socket delivery is best effort and a duplicate
// of an already relayed envelope is skipped.
func (g *Gateway) Emit(room string, eventType string, payload json.RawMessage) error {
	if g.alreadyDelivered(room, eventType, payload) {
		return nil
	}
	f := frame{Type: eventType, Payload: payload}
	for _, p := range g.subscribers(room) {
		if !p.enqueue(f) {
			log.Printf("level=warn component=gateway msg=\"frame dropped for slow socket\" room=%s type=%s user=%s", room, eventType, p.session.UserID)
		}
	}
	return nil
}

// alreadyDelivered records and checks the room|type|payload digest, with
// oldest-first eviction once the record is full.
func (g *Gateway) alreadyDelivered(room string, eventType string, payload json.RawMessage) bool {
	digest := sha256.Sum256(payload)
	key := room + "|" + eventType + "|" + hex.EncodeToString(digest[:])

	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	if _, seen := g.dedupSeen[key]; seen {
		return true
	}
	g.dedupSeen[key] = struct{}{}
	g.dedupOrder = append(g.dedupOrder, key)
	if len(g.dedupOrder) > maxDedupRecord {
		evict := g.dedupOrder[0]
		g.dedupOrder = g.dedupOrder[1:]
		delete(g.dedupSeen, evict)
	}
	return false
}

// RoomSize reports the current number of sockets joined to a room.
func (g *Gateway) RoomSize(room string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if room == domain.RoomBroadcast {
		return len(g.peers)
	}
	return len(g.rooms[room])
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("level=error component=gateway msg=\"marshal frame payload failed\" err=%v", err)
		return nil
	}
	return b
}
