package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pollrooms/internal/observability/metrics"
)

// pollIDPattern guards join requests; anything else is ignored rather than
// closing the connection.
var pollIDPattern = regexp.MustCompile(`^[a-f0-9]{10}$`)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultSendBuffer        = 16
	writeWait                = 10 * time.Second
	maxInboundMessageBytes   = 512
)

// Config wires the hub's collaborators.
type Config struct {
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
	Queue             Queue
	HeartbeatInterval time.Duration
	SendBuffer        int
	// CheckOrigin overrides the upgrade origin policy. Defaults to
	// same-origin plus requests without an Origin header.
	CheckOrigin func(r *http.Request) bool
}

// Hub tracks which connection watches which poll and fans events out to the
// watchers. A connection belongs to at most one room; joining another poll
// implicitly leaves the previous one.
type Hub struct {
	logger    *slog.Logger
	metrics   *metrics.Recorder
	queue     Queue
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	buffer    int

	mu         sync.Mutex
	rooms      map[string]map[*client]struct{}
	membership map[*client]string
}

// New constructs a Hub. Run must be started for poll updates to reach
// clients; presence updates work without it.
func New(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	h := &Hub{
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		queue:      cfg.Queue,
		heartbeat:  cfg.HeartbeatInterval,
		buffer:     cfg.SendBuffer,
		rooms:      make(map[string]map[*client]struct{}),
		membership: make(map[*client]string),
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = sameOriginPolicy
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return h
}

func sameOriginPolicy(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// HandleWS upgrades the request and services the connection until the client
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.buffer),
	}
	h.metrics.ConnectionOpened()
	go c.writeLoop()
	c.readLoop()
}

// Run consumes the event queue and broadcasts poll updates to rooms. It
// blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.queue == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	sub := h.queue.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			h.dispatch(event)
		}
	}
}

func (h *Hub) dispatch(event Event) {
	if event.Type != EventPollUpdate || event.PollID == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode poll update failed", "error", err, "poll_id", event.PollID)
		return
	}
	h.mu.Lock()
	targets := h.roomClientsLocked(event.PollID)
	h.mu.Unlock()
	for _, c := range targets {
		c.enqueue(payload)
	}
	h.metrics.HubEventBroadcast(EventPollUpdate)
}

// ViewerCount reports the current room size for a poll.
func (h *Hub) ViewerCount(pollID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[pollID])
}

// join moves c into the room for pollID, leaving any previous room, and
// re-broadcasts presence for every affected room.
func (h *Hub) join(c *client, pollID string) {
	h.mu.Lock()
	previous, hadPrevious := h.membership[c]
	if hadPrevious && previous == pollID {
		h.mu.Unlock()
		return
	}
	if hadPrevious {
		h.removeFromRoomLocked(c, previous)
	}
	room, ok := h.rooms[pollID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[pollID] = room
	}
	room[c] = struct{}{}
	h.membership[c] = pollID

	previousTargets, previousCount := h.presenceLocked(previous)
	targets, count := h.presenceLocked(pollID)
	h.mu.Unlock()

	if hadPrevious {
		h.broadcastPresence(previous, previousTargets, previousCount)
	}
	h.broadcastPresence(pollID, targets, count)
}

// drop removes c from its room and membership and re-broadcasts presence.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	pollID, ok := h.membership[c]
	if ok {
		h.removeFromRoomLocked(c, pollID)
	}
	targets, count := h.presenceLocked(pollID)
	h.mu.Unlock()

	if ok {
		h.broadcastPresence(pollID, targets, count)
	}
}

func (h *Hub) removeFromRoomLocked(c *client, pollID string) {
	delete(h.membership, c)
	room, ok := h.rooms[pollID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, pollID)
	}
}

func (h *Hub) roomClientsLocked(pollID string) []*client {
	room := h.rooms[pollID]
	targets := make([]*client, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	return targets
}

// presenceLocked snapshots the room under the lock; the count is taken at
// the same instant as the target list so every recipient sees the same
// number.
func (h *Hub) presenceLocked(pollID string) ([]*client, int) {
	targets := h.roomClientsLocked(pollID)
	return targets, len(targets)
}

func (h *Hub) broadcastPresence(pollID string, targets []*client, count int) {
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(Event{Type: EventPresenceUpdate, ViewerCount: count})
	if err != nil {
		h.logger.Error("encode presence update failed", "error", err, "poll_id", pollID)
		return
	}
	for _, c := range targets {
		c.enqueue(payload)
	}
	h.metrics.HubEventBroadcast(EventPresenceUpdate)
}

// joinMessage is the only inbound frame the hub understands.
type joinMessage struct {
	Type   string `json:"type"`
	PollID string `json:"pollId"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sendMu sync.Mutex
	closed bool
}

// enqueue hands a frame to the write loop, disconnecting the client instead
// of blocking when its buffer is full. The mutex keeps a late broadcast from
// racing a concurrent close of the send channel.
func (c *client) enqueue(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.logger.Warn("dropping slow websocket client")
		c.closeLocked()
	}
}

func (c *client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.closeLocked()
}

func (c *client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.hub.metrics.ConnectionClosed()
}

func (c *client) readLoop() {
	defer func() {
		c.hub.drop(c)
		c.close()
		c.conn.Close()
	}()

	pongWait := c.hub.heartbeat * 2
	c.conn.SetReadLimit(maxInboundMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg joinMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "join_poll" || !pollIDPattern.MatchString(msg.PollID) {
			continue
		}
		c.hub.join(c, msg.PollID)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.hub.heartbeat)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
