package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pollrooms/internal/models"
	"pollrooms/internal/observability/metrics"
)

func newTestHub(t *testing.T) (*Hub, Queue, *httptest.Server) {
	t.Helper()
	queue := NewMemoryQueue(8)
	h := New(Config{
		Queue:             queue,
		Metrics:           metrics.New(),
		HeartbeatInterval: time.Second,
	})
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	return h, queue, srv
}

func mustDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJoin(t *testing.T, conn *websocket.Conn, pollID string) {
	t.Helper()
	payload, _ := json.Marshal(joinMessage{Type: "join_poll", PollID: pollID})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write join: %v", err)
	}
}

// waitForType reads frames until one of the wanted type arrives or the
// deadline passes.
func waitForType(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(time.Until(deadline)))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("decode frame %q: %v", raw, err)
		}
		if event.Type == eventType {
			return event
		}
	}
	t.Fatalf("no %s event before deadline", eventType)
	return Event{}
}

func waitUntil(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

const testPollID = "0a1b2c3d4e"

func TestJoinBroadcastsPresence(t *testing.T) {
	_, _, srv := newTestHub(t)

	first := mustDial(t, srv)
	sendJoin(t, first, testPollID)
	event := waitForType(t, first, EventPresenceUpdate)
	if event.ViewerCount != 1 {
		t.Fatalf("expected viewerCount 1, got %d", event.ViewerCount)
	}

	second := mustDial(t, srv)
	sendJoin(t, second, testPollID)
	if event := waitForType(t, second, EventPresenceUpdate); event.ViewerCount != 2 {
		t.Fatalf("joiner expected viewerCount 2, got %d", event.ViewerCount)
	}
	if event := waitForType(t, first, EventPresenceUpdate); event.ViewerCount != 2 {
		t.Fatalf("existing viewer expected viewerCount 2, got %d", event.ViewerCount)
	}
}

func TestDisconnectUpdatesPresence(t *testing.T) {
	h, _, srv := newTestHub(t)

	first := mustDial(t, srv)
	sendJoin(t, first, testPollID)
	waitForType(t, first, EventPresenceUpdate) // own join, count 1

	second := mustDial(t, srv)
	sendJoin(t, second, testPollID)
	if event := waitForType(t, first, EventPresenceUpdate); event.ViewerCount != 2 {
		t.Fatalf("expected viewerCount 2, got %d", event.ViewerCount)
	}

	second.Close()
	waitUntil(t, 2*time.Second, func() bool { return h.ViewerCount(testPollID) == 1 })
	if event := waitForType(t, first, EventPresenceUpdate); event.ViewerCount != 1 {
		t.Fatalf("expected viewerCount 1 after disconnect, got %d", event.ViewerCount)
	}
}

func TestJoinSwitchesRooms(t *testing.T) {
	h, _, srv := newTestHub(t)
	otherPollID := "f0e1d2c3b4"

	conn := mustDial(t, srv)
	sendJoin(t, conn, testPollID)
	waitUntil(t, 2*time.Second, func() bool { return h.ViewerCount(testPollID) == 1 })

	sendJoin(t, conn, otherPollID)
	waitUntil(t, 2*time.Second, func() bool {
		return h.ViewerCount(testPollID) == 0 && h.ViewerCount(otherPollID) == 1
	})
}

func TestMalformedJoinIgnored(t *testing.T) {
	h, _, srv := newTestHub(t)

	conn := mustDial(t, srv)
	for _, pollID := range []string{"", "UPPERCASE1", "short", "0a1b2c3d4e5f", "zzzzzzzzzz"} {
		sendJoin(t, conn, pollID)
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))

	// A valid join still works afterwards, proving the connection survived.
	sendJoin(t, conn, testPollID)
	waitUntil(t, 2*time.Second, func() bool { return h.ViewerCount(testPollID) == 1 })
}

func TestPollUpdateReachesRoomOnly(t *testing.T) {
	_, queue, srv := newTestHub(t)
	otherPollID := "f0e1d2c3b4"

	watcher := mustDial(t, srv)
	sendJoin(t, watcher, testPollID)
	waitForType(t, watcher, EventPresenceUpdate)

	bystander := mustDial(t, srv)
	sendJoin(t, bystander, otherPollID)
	waitForType(t, bystander, EventPresenceUpdate)

	snapshot := models.PollSnapshot{ID: testPollID, Question: "Lunch?", TotalVotes: 1}
	err := queue.Publish(context.Background(), Event{
		Type:             EventPollUpdate,
		PollID:           testPollID,
		Poll:             &snapshot,
		LastVoteOptionID: "aabbccdd",
		UpdatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	event := waitForType(t, watcher, EventPollUpdate)
	if event.Poll == nil || event.Poll.TotalVotes != 1 {
		t.Fatalf("poll snapshot missing: %+v", event)
	}
	if event.LastVoteOptionID != "aabbccdd" {
		t.Fatalf("lastVoteOptionId = %q", event.LastVoteOptionID)
	}

	// The bystander in another room must not receive the update.
	_ = bystander.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := bystander.ReadMessage(); err == nil {
		var stray Event
		_ = json.Unmarshal(raw, &stray)
		if stray.Type == EventPollUpdate {
			t.Fatalf("bystander received cross-room update: %s", raw)
		}
	}
}
