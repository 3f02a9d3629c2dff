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

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, engine API traffic, token exchanges, cascade deletions, and
// recording toggles. It coordinates concurrent writers via a RWMutex while
// exposing atomic gauges for lifecycle tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	engineAttempts  map[string]uint64
	engineFailures  map[string]uint64
	engineRetries   uint64
	tokenLogins     uint64
	tokenRefreshes  uint64
	cascadeRuns     uint64
	cascadeOutputs  uint64
	recordingEvents map[string]uint64
	activeIngests   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		engineAttempts:  make(map[string]uint64),
		engineFailures:  make(map[string]uint64),
		recordingEvents: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
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

// ObserveEngineCall records an outbound engine API call keyed by operation
// name (e.g. "create_process", "delete_process", "put_metadata").
func (r *Recorder) ObserveEngineCall(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.engineAttempts[op]++
	r.mu.Unlock()
}

// ObserveEngineFailure records a failed engine API call keyed by operation
// name. The caller should also record the attempt separately.
func (r *Recorder) ObserveEngineFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.engineFailures[op]++
	r.mu.Unlock()
}

// ObserveEngineRetry counts an engine call that was replayed after a 401.
func (r *Recorder) ObserveEngineRetry() {
	r.mu.Lock()
	r.engineRetries++
	r.mu.Unlock()
}

// TokenLogin counts a credential exchange against the engine login endpoint.
func (r *Recorder) TokenLogin() {
	r.mu.Lock()
	r.tokenLogins++
	r.mu.Unlock()
}

// TokenRefresh counts an access token refresh against the engine.
func (r *Recorder) TokenRefresh() {
	r.mu.Lock()
	r.tokenRefreshes++
	r.mu.Unlock()
}

// CascadeCompleted records a finished cascade deletion together with the
// number of egress outputs it removed.
func (r *Recorder) CascadeCompleted(deletedOutputs int) {
	r.mu.Lock()
	r.cascadeRuns++
	if deletedOutputs > 0 {
		r.cascadeOutputs += uint64(deletedOutputs)
	}
	r.mu.Unlock()
}

// ObserveRecording records a recording toggle outcome ("started", "stopped",
// "reconciled").
func (r *Recorder) ObserveRecording(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.recordingEvents[normalized]++
	r.mu.Unlock()
}

// IngestCreated increments the active ingest gauge.
func (r *Recorder) IngestCreated() {
	r.activeIngests.Add(1)
}

// IngestDeleted decrements the active ingest gauge, guarding against negative
// counts when concurrent updates race.
func (r *Recorder) IngestDeleted() {
	r.decrementGauge(&r.activeIngests)
}

// ActiveIngests exposes the current gauge of known ingest processes.
func (r *Recorder) ActiveIngests() int64 {
	return r.activeIngests.Load()
}

// EngineCounts returns copies of engine call attempt and failure counters for
// testing and reporting purposes.
func (r *Recorder) EngineCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.engineAttempts))
	for k, v := range r.engineAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.engineFailures))
	for k, v := range r.engineFailures {
		failures[k] = v
	}
	return attempts, failures
}

// TokenCounts returns the login and refresh counters.
func (r *Recorder) TokenCounts() (logins, refreshes uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokenLogins, r.tokenRefreshes
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.engineAttempts = make(map[string]uint64)
	r.engineFailures = make(map[string]uint64)
	r.engineRetries = 0
	r.tokenLogins = 0
	r.tokenRefreshes = 0
	r.cascadeRuns = 0
	r.cascadeOutputs = 0
	r.recordingEvents = make(map[string]uint64)
	r.activeIngests.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
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
	engineOperations := r.sortedEngineOperations()
	recordingEvents := r.sortedRecordingEvents()

	fmt.Fprintln(w, "# HELP streamingpro_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamingpro_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamingpro_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamingpro_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamingpro_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "streamingpro_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP streamingpro_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE streamingpro_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamingpro_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamingpro_engine_calls_total Engine API calls attempted by operation")
	fmt.Fprintln(w, "# TYPE streamingpro_engine_calls_total counter")
	for _, op := range engineOperations {
		count := r.engineAttempts[op]
		fmt.Fprintf(w, "streamingpro_engine_calls_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP streamingpro_engine_failures_total Engine API call failures by operation")
	fmt.Fprintln(w, "# TYPE streamingpro_engine_failures_total counter")
	for _, op := range engineOperations {
		count := r.engineFailures[op]
		fmt.Fprintf(w, "streamingpro_engine_failures_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP streamingpro_engine_retries_total Engine API calls replayed after an expired token")
	fmt.Fprintln(w, "# TYPE streamingpro_engine_retries_total counter")
	fmt.Fprintf(w, "streamingpro_engine_retries_total %d\n", r.engineRetries)

	fmt.Fprintln(w, "# HELP streamingpro_token_logins_total Credential exchanges against the engine login endpoint")
	fmt.Fprintln(w, "# TYPE streamingpro_token_logins_total counter")
	fmt.Fprintf(w, "streamingpro_token_logins_total %d\n", r.tokenLogins)

	fmt.Fprintln(w, "# HELP streamingpro_token_refreshes_total Access token refreshes against the engine")
	fmt.Fprintln(w, "# TYPE streamingpro_token_refreshes_total counter")
	fmt.Fprintf(w, "streamingpro_token_refreshes_total %d\n", r.tokenRefreshes)

	fmt.Fprintln(w, "# HELP streamingpro_cascade_deletions_total Completed cascade deletions")
	fmt.Fprintln(w, "# TYPE streamingpro_cascade_deletions_total counter")
	fmt.Fprintf(w, "streamingpro_cascade_deletions_total %d\n", r.cascadeRuns)

	fmt.Fprintln(w, "# HELP streamingpro_cascade_outputs_deleted_total Egress outputs removed by cascade deletions")
	fmt.Fprintln(w, "# TYPE streamingpro_cascade_outputs_deleted_total counter")
	fmt.Fprintf(w, "streamingpro_cascade_outputs_deleted_total %d\n", r.cascadeOutputs)

	fmt.Fprintln(w, "# HELP streamingpro_recording_events_total Recording toggle outcomes by type")
	fmt.Fprintln(w, "# TYPE streamingpro_recording_events_total counter")
	for _, event := range recordingEvents {
		count := r.recordingEvents[event]
		fmt.Fprintf(w, "streamingpro_recording_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP streamingpro_active_ingests Current number of known ingest processes")
	fmt.Fprintln(w, "# TYPE streamingpro_active_ingests gauge")
	fmt.Fprintf(w, "streamingpro_active_ingests %d\n", r.activeIngests.Load())
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

func (r *Recorder) sortedEngineOperations() []string {
	seen := make(map[string]struct{}, len(r.engineAttempts)+len(r.engineFailures))
	for op := range r.engineAttempts {
		seen[op] = struct{}{}
	}
	for op := range r.engineFailures {
		seen[op] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (r *Recorder) sortedRecordingEvents() []string {
	events := make([]string, 0, len(r.recordingEvents))
	for event := range r.recordingEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
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
			continue
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
	if len(segment) >= 16 {
		return true
	}
	if strings.Contains(segment, ":") {
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

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveEngineCall records an engine call on the default recorder.
func ObserveEngineCall(operation string) {
	defaultRecorder.ObserveEngineCall(operation)
}

// ObserveEngineFailure records an engine failure on the default recorder.
func ObserveEngineFailure(operation string) {
	defaultRecorder.ObserveEngineFailure(operation)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
