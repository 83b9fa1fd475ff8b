package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pollrooms/internal/api"
	"pollrooms/internal/hub"
	"pollrooms/internal/identity"
	"pollrooms/internal/observability/metrics"
	"pollrooms/internal/ratelimit"
	"pollrooms/internal/storage"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "polls.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	queue := hub.NewMemoryQueue(8)
	recorder := metrics.New()
	handler := &api.Handler{
		Store:       store,
		Queue:       queue,
		Hasher:      identity.NewHasher("test-secret"),
		VoteLimiter: ratelimit.NewSlidingWindow(10, time.Minute),
		Metrics:     recorder,
	}
	broadcaster := hub.New(hub.Config{Queue: queue, Metrics: recorder})
	cfg.Metrics = recorder
	return New(handler, broadcaster, cfg)
}

func TestRoutesAndHeaders(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id header missing")
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pollrooms_http_requests_total") {
		t.Fatalf("metrics endpoint broken: %d", rr.Code)
	}
}

func TestCreateAndFetchThroughFullChain(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	body, _ := json.Marshal(map[string]any{"question": "Lunch?", "options": []string{"Pizza", "Sushi"}})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/polls", bytes.NewReader(body)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Poll struct {
			ID string `json:"id"`
		} `json:"poll"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/polls/"+created.Poll.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("fetch status %d", rr.Code)
	}
}

func TestUnknownRoutesReturnJSON404(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	for _, path := range []string{"/api/unknown", "/nope", "/poll/abc"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s status %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
			t.Fatalf("%s content type %q", path, ct)
		}
	}
}

func TestThrottleRejectsFlood(t *testing.T) {
	srv := newTestServer(t, Config{Throttle: ThrottleConfig{RequestsPerSecond: 1, Burst: 1}})
	handler := srv.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/polls/ffffffffff", nil))
	if rr.Code == http.StatusTooManyRequests {
		t.Fatal("first request should pass")
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/polls/ffffffffff", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}

	// Health stays reachable under throttle.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz throttled: %d", rr.Code)
	}
}

func TestInboundRequestIDPreserved(t *testing.T) {
	srv := newTestServer(t, Config{})
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-Id", "upstream-id-42")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "upstream-id-42" {
		t.Fatalf("request id not preserved: %q", got)
	}
}
