package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, poll
// lifecycle events, vote outcomes, and realtime hub activity. It coordinates
// concurrent writers via a RWMutex while exposing a thread-safe gauge for
// active WebSocket connections.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	pollsCreated      uint64
	voteOutcomes      map[string]uint64
	hubEvents         map[string]uint64
	activeConnections atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		voteOutcomes:    make(map[string]uint64),
		hubEvents:       make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// PollCreated records a successful poll creation.
func (r *Recorder) PollCreated() {
	r.mu.Lock()
	r.pollsCreated++
	r.mu.Unlock()
}

// VoteAccepted records an accepted ballot.
func (r *Recorder) VoteAccepted() {
	r.recordVoteOutcome("accepted")
}

// VoteRejected records a rejected ballot keyed by rejection code.
func (r *Recorder) VoteRejected(code string) {
	r.recordVoteOutcome(code)
}

func (r *Recorder) recordVoteOutcome(outcome string) {
	normalized := strings.ToLower(strings.TrimSpace(outcome))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.voteOutcomes[normalized]++
	r.mu.Unlock()
}

// HubEventBroadcast records a realtime event fan-out by event type.
func (r *Recorder) HubEventBroadcast(event string) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.hubEvents[normalized]++
	r.mu.Unlock()
}

// ConnectionOpened increments the active connection gauge.
func (r *Recorder) ConnectionOpened() {
	r.activeConnections.Add(1)
}

// ConnectionClosed decrements the active connection gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) ConnectionClosed() {
	for {
		current := r.activeConnections.Load()
		if current <= 0 {
			return
		}
		if r.activeConnections.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ActiveConnections exposes the current gauge of open realtime connections.
func (r *Recorder) ActiveConnections() int64 {
	return r.activeConnections.Load()
}

// VoteOutcomeCounts returns a copy of the vote outcome counters for tests.
func (r *Recorder) VoteOutcomeCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	outcomes := make(map[string]uint64, len(r.voteOutcomes))
	for k, v := range r.voteOutcomes {
		outcomes[k] = v
	}
	return outcomes
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.pollsCreated = 0
	r.voteOutcomes = make(map[string]uint64)
	r.hubEvents = make(map[string]uint64)
	r.activeConnections.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	voteOutcomes := sortedKeys(r.voteOutcomes)
	hubEvents := sortedKeys(r.hubEvents)

	fmt.Fprintln(w, "# HELP pollrooms_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE pollrooms_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "pollrooms_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP pollrooms_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE pollrooms_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "pollrooms_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP pollrooms_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE pollrooms_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "pollrooms_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP pollrooms_polls_created_total Total number of polls created")
	fmt.Fprintln(w, "# TYPE pollrooms_polls_created_total counter")
	fmt.Fprintf(w, "pollrooms_polls_created_total %d\n", r.pollsCreated)

	fmt.Fprintln(w, "# HELP pollrooms_votes_total Ballot outcomes by result")
	fmt.Fprintln(w, "# TYPE pollrooms_votes_total counter")
	for _, outcome := range voteOutcomes {
		count := r.voteOutcomes[outcome]
		fmt.Fprintf(w, "pollrooms_votes_total{result=\"%s\"} %d\n", outcome, count)
	}

	fmt.Fprintln(w, "# HELP pollrooms_hub_events_total Realtime events broadcast by type")
	fmt.Fprintln(w, "# TYPE pollrooms_hub_events_total counter")
	for _, event := range hubEvents {
		count := r.hubEvents[event]
		fmt.Fprintf(w, "pollrooms_hub_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP pollrooms_active_connections Current number of open realtime connections")
	fmt.Fprintln(w, "# TYPE pollrooms_active_connections gauge")
	fmt.Fprintf(w, "pollrooms_active_connections %d\n", r.activeConnections.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	switch segment {
	case "api", "polls", "votes", "healthz", "metrics", "ws":
		return false
	}
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
