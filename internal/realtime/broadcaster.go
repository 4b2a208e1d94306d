// Package realtime implements the websocket session registry and
// audience-filtered event broadcaster: delivery rooms, per-user offline
// queues, and keepalive pings.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lastmile/courier-core/internal/telemetry"
)

const (
	offlineQueueCap = 50
	pingInterval    = 25 * time.Second
	idleTimeout     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MessageType is the closed set of wire-protocol message kinds.
type MessageType string

const (
	MsgAuthenticate   MessageType = "authenticate"
	MsgAuthenticated  MessageType = "authenticated"
	MsgSubscribe      MessageType = "subscribe:delivery"
	MsgUnsubscribe    MessageType = "unsubscribe:delivery"
	MsgPing           MessageType = "ping"
	MsgPong           MessageType = "pong"
	MsgEvent          MessageType = "event"
)

// Message is the envelope for every frame exchanged over the socket.
type Message struct {
	Type       MessageType     `json:"type"`
	DeliveryID string          `json:"deliveryId,omitempty"`
	EventType  string          `json:"eventType,omitempty"`
	EventID    string          `json:"eventId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Event is a server-originated broadcast.
type Event struct {
	ID         string
	Type       string
	DeliveryID string // room audience, empty if not room-scoped
	UserIDs    []string
	Roles      []string
	Payload    any
}

type session struct {
	id         string
	userID     string
	role       string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	deliveries map[string]struct{}
	lastSeen   time.Time
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Broadcaster is the session registry and event fan-out. Safe for
// concurrent use behind a single mutex guarding all indexes.
type Broadcaster struct {
	mu          sync.Mutex
	sessions    map[string]*session   // connectionID -> session
	byUser      map[string][]string   // userID -> connectionIDs
	byRole      map[string][]string   // role -> connectionIDs
	byDelivery  map[string][]string   // deliveryID -> connectionIDs
	offline     map[string][]Event    // userID -> queued events
	seenInBatch map[string]struct{}   // de-dup within one Broadcast call

	log *telemetry.Logger
}

// New returns an empty Broadcaster.
func New(log *telemetry.Logger) *Broadcaster {
	return &Broadcaster{
		sessions:   make(map[string]*session),
		byUser:     make(map[string][]string),
		byRole:     make(map[string][]string),
		byDelivery: make(map[string][]string),
		offline:    make(map[string][]Event),
		log:        log,
	}
}

// Upgrade promotes an HTTP request to a websocket session and runs its
// read/write pump until the connection closes. Call in its own goroutine
// from an HTTP handler.
func (b *Broadcaster) Upgrade(w http.ResponseWriter, r *http.Request, connectionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := &session{
		id:         connectionID,
		conn:       conn,
		deliveries: make(map[string]struct{}),
		lastSeen:   time.Now().UTC(),
	}
	b.register(s)
	defer b.unregister(s)

	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	stop := make(chan struct{})
	go b.pingLoop(s, stop)
	defer close(stop)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		b.handleMessage(s, msg)
	}
}

func (b *Broadcaster) pingLoop(s *session, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) handleMessage(s *session, msg Message) {
	s.lastSeen = time.Now().UTC()
	switch msg.Type {
	case MsgAuthenticate:
		var auth struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		_ = json.Unmarshal(msg.Payload, &auth)
		b.authenticate(s, auth.UserID, auth.Role)
		_ = s.writeJSON(Message{Type: MsgAuthenticated})
		b.flushOffline(s)
	case MsgSubscribe:
		b.subscribe(s, msg.DeliveryID)
	case MsgUnsubscribe:
		b.unsubscribe(s, msg.DeliveryID)
	case MsgPing:
		_ = s.writeJSON(Message{Type: MsgPong})
	}
}

func (b *Broadcaster) register(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.id] = s
}

func (b *Broadcaster) unregister(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s.id)
	b.byUser[s.userID] = removeString(b.byUser[s.userID], s.id)
	b.byRole[s.role] = removeString(b.byRole[s.role], s.id)
	for d := range s.deliveries {
		b.byDelivery[d] = removeString(b.byDelivery[d], s.id)
	}
}

func (b *Broadcaster) authenticate(s *session, userID, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.userID = userID
	s.role = role
	b.byUser[userID] = appendUnique(b.byUser[userID], s.id)
	b.byRole[role] = appendUnique(b.byRole[role], s.id)
}

func (b *Broadcaster) subscribe(s *session, deliveryID string) {
	if deliveryID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s.deliveries[deliveryID] = struct{}{}
	b.byDelivery[deliveryID] = appendUnique(b.byDelivery[deliveryID], s.id)
}

func (b *Broadcaster) unsubscribe(s *session, deliveryID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(s.deliveries, deliveryID)
	b.byDelivery[deliveryID] = removeString(b.byDelivery[deliveryID], s.id)
}

func (b *Broadcaster) flushOffline(s *session) {
	b.mu.Lock()
	queued := b.offline[s.userID]
	delete(b.offline, s.userID)
	b.mu.Unlock()

	for _, e := range queued {
		b.deliverToSession(s, e)
	}
}

// Broadcast dispatches an event to every audience set on it: a delivery
// room, a list of users (live or queued offline), and a list of roles
// (live sessions only). Repeated calls with the same Event.ID within a
// single Broadcast are de-duplicated against the recipients already
// reached in that call.
func (b *Broadcaster) Broadcast(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reached := make(map[string]struct{})

	if e.DeliveryID != "" {
		for _, connID := range b.byDelivery[e.DeliveryID] {
			if _, ok := reached[connID]; ok {
				continue
			}
			if s, ok := b.sessions[connID]; ok {
				b.deliverToSession(s, e)
				reached[connID] = struct{}{}
			}
		}
	}
	for _, userID := range e.UserIDs {
		connIDs := b.byUser[userID]
		if len(connIDs) == 0 {
			b.queueOffline(userID, e)
			continue
		}
		for _, connID := range connIDs {
			if _, ok := reached[connID]; ok {
				continue
			}
			if s, ok := b.sessions[connID]; ok {
				b.deliverToSession(s, e)
				reached[connID] = struct{}{}
			}
		}
	}
	for _, role := range e.Roles {
		for _, connID := range b.byRole[role] {
			if _, ok := reached[connID]; ok {
				continue
			}
			if s, ok := b.sessions[connID]; ok {
				b.deliverToSession(s, e)
				reached[connID] = struct{}{}
			}
		}
	}
}

// BroadcastToRoles is the narrow entry point emergency.Broadcaster expects.
func (b *Broadcaster) BroadcastToRoles(eventType string, roles []string, payload any) {
	b.Broadcast(Event{Type: eventType, Roles: roles, Payload: payload})
}

func (b *Broadcaster) queueOffline(userID string, e Event) {
	q := b.offline[userID]
	q = append(q, e)
	if len(q) > offlineQueueCap {
		dropped := q[0]
		q = q[1:]
		if b.log != nil {
			b.log.Warn("realtime: offline queue full, dropping oldest event", map[string]any{
				"userId":         userID,
				"droppedEventId": dropped.ID,
			})
		}
	}
	b.offline[userID] = q
}

// deliverToSession must be called with the lock held for registry reads,
// but the actual write happens under the session's own write mutex so a
// slow client can't block the registry.
func (b *Broadcaster) deliverToSession(s *session, e Event) {
	payload, _ := json.Marshal(e.Payload)
	msg := Message{
		Type:       MsgEvent,
		DeliveryID: e.DeliveryID,
		EventType:  e.Type,
		EventID:    e.ID,
		Payload:    payload,
	}
	go func() {
		_ = s.writeJSON(msg)
	}()
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
