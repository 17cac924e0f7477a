package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pipewatch/pipewatch/monitor/internal/api"
)

// Events that originate in the hub itself. State-change events are named by
// the publisher.
const (
	EventConnected = "connected"
	EventKeepalive = "keepalive"
)

const (
	// DefaultKeepalive is the longest a client goes without a snapshot.
	DefaultKeepalive = 30 * time.Second

	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10

	// Publishes beyond this many pending updates are dropped; the next
	// snapshot carries their state anyway.
	pendingUpdates = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients. Seq increases by one per
// encoded message; a client that sees a gap missed superseded snapshots.
type Message struct {
	Seq   uint64               `json:"seq"`
	Event string               `json:"event"`
	Jobs  []string             `json:"jobs,omitempty"`
	Data  api.SnapshotResponse `json:"data"`
}

// SnapshotFunc produces the current status snapshot.
type SnapshotFunc func() api.SnapshotResponse

type update struct {
	event string
	jobs  []string
}

// Hub pushes a fresh snapshot to every client whenever the monitor publishes
// a state change, and a keepalive snapshot after a quiet period.
type Hub struct {
	snapshot  SnapshotFunc
	keepalive time.Duration
	updates   chan update
	seq       atomic.Uint64

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// session is one connected client. out holds at most the newest undelivered
// message, so a slow reader skips stale snapshots instead of queueing them.
type session struct {
	conn *websocket.Conn
	out  chan []byte
}

// New creates a Hub. keepalive bounds the time between snapshots when
// nothing is published.
func New(snapshot SnapshotFunc, keepalive time.Duration) *Hub {
	return &Hub{
		snapshot:  snapshot,
		keepalive: keepalive,
		updates:   make(chan update, pendingUpdates),
		sessions:  make(map[*session]struct{}),
	}
}

// Publish queues a snapshot push labelled with event and the jobs involved.
// It never blocks.
func (h *Hub) Publish(event string, jobs []string) {
	select {
	case h.updates <- update{event: event, jobs: jobs}:
	default:
		slog.Debug("ws: update dropped, push already pending", "event", event)
	}
}

// Run delivers published updates and keepalives until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	idle := time.NewTimer(h.keepalive)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case u := <-h.updates:
			h.push(u.event, u.jobs)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(h.keepalive)
		case <-idle.C:
			h.push(EventKeepalive, nil)
			idle.Reset(h.keepalive)
		}
	}
}

// ServeHTTP upgrades the request and streams snapshots until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrader wrote the response
	}

	s := &session{conn: conn, out: make(chan []byte, 1)}
	if data, err := h.encode(EventConnected, nil); err == nil {
		s.out <- data
	}
	if !h.add(s) {
		conn.Close()
		return
	}
	defer h.remove(s)

	go s.write()
	s.read()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.out)
	}
}

func (h *Hub) push(event string, jobs []string) {
	if h.Count() == 0 {
		return
	}
	data, err := h.encode(event, jobs)
	if err != nil {
		slog.Error("ws: encode snapshot", "event", event, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		s.offer(data)
	}
}

func (h *Hub) encode(event string, jobs []string) ([]byte, error) {
	return json.Marshal(Message{
		Seq:   h.seq.Add(1),
		Event: event,
		Jobs:  jobs,
		Data:  h.snapshot(),
	})
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.sessions {
		delete(h.sessions, s)
		close(s.out)
	}
}

// offer replaces any undelivered message with msg. Caller holds the hub lock,
// which keeps out open.
func (s *session) offer(msg []byte) {
	select {
	case s.out <- msg:
		return
	default:
	}
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- msg:
	default:
	}
}

func (s *session) write() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		var err error
		select {
		case msg, ok := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck
				return
			}
			err = s.conn.WriteMessage(websocket.TextMessage, msg)
		case <-ping.C:
			err = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		}
		if err != nil {
			return
		}
	}
}

// read discards client frames and returns when the connection drops.
func (s *session) read() {
	defer s.conn.Close()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}
