package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients only send control frames.
	maxMessageSize = 512
)

// Hub is the in-process WebSocket fan-out.  Every subscriber owns a
// bounded outbox drained by its own writer goroutine; a subscriber whose
// outbox is full is disconnected instead of slowing the others down.
// Clients reconnect and poll to catch up, nothing is replayed.  Events
// older than the last one sent for the same screening are dropped.
type Hub struct {
	log    logrus.FieldLogger
	buffer int

	mu   sync.RWMutex
	subs map[string]*subscriber

	versionMu sync.Mutex
	versions  map[uint64]uint64
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log logrus.FieldLogger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		log:      log,
		buffer:   buffer,
		subs:     make(map[string]*subscriber),
		versions: make(map[uint64]uint64),
	}
}

func (h *Hub) Name() string { return "ws" }

// Send encodes e once and queues it for every subscriber.
func (h *Hub) Send(_ context.Context, e Event) error {
	if !h.advance(e) {
		h.log.WithFields(logrus.Fields{
			"screening_id": e.ScreeningID,
			"version":      e.Version,
		}).Debug("stale seat update dropped")
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var slow []string
	h.mu.RLock()
	for id, s := range h.subs {
		select {
		case s.send <- payload:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()
	for _, id := range slow {
		h.log.WithField("subscriber_id", id).Warn("websocket subscriber too slow, disconnecting")
		h.remove(id)
	}
	return nil
}

// advance records e as the newest event of its screening.  It reports
// false when an event with the same or a higher version was already sent.
// Unversioned events always pass.
func (h *Hub) advance(e Event) bool {
	if e.Version == 0 {
		return true
	}
	h.versionMu.Lock()
	defer h.versionMu.Unlock()
	if e.Version <= h.versions[e.ScreeningID] {
		return false
	}
	h.versions[e.ScreeningID] = e.Version
	return true
}

// Serve registers conn and blocks until the client goes away.  Incoming
// frames are read only to process control messages.
func (h *Hub) Serve(conn *websocket.Conn) {
	s := &subscriber{id: uuid.NewString(), conn: conn, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	h.log.WithField("subscriber_id", s.id).Debug("websocket subscriber connected")

	go h.writeLoop(s)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(s.id)
	h.log.WithField("subscriber_id", s.id).Debug("websocket subscriber disconnected")
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(s.id)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s.id)
				return
			}
		}
	}
}

// remove unregisters a subscriber and closes its outbox.  Closing happens
// under the write lock so no Send can be writing to the channel.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.send)
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.send)
	}
}
