// Package enginestub hosts a fake media engine for exercising the broker,
// composer, cascade, and recording flows against real HTTP traffic.
package enginestub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Options describes how the fake engine should behave.
type Options struct {
	// Username and Password accepted by the login endpoint. If empty, any
	// credentials are accepted.
	Username string
	Password string

	// FailLogins causes the first N login requests to return HTTP 401.
	FailLogins int

	// FailRefreshes causes the first N refresh requests to return HTTP 401.
	FailRefreshes int

	// FailMetadataWrites causes the first N metadata PUT requests to return
	// HTTP 500.
	FailMetadataWrites int

	// FailDeletes maps process ids to a number of DELETE requests that
	// return HTTP 500 before succeeding.
	FailDeletes map[string]int

	// ForceUnauthorized makes every /api/v3 call return HTTP 401 regardless
	// of the presented token, while still recording the attempt.
	ForceUnauthorized bool
}

// Operation represents a recorded engine interaction.
type Operation struct {
	Kind      string
	ProcessID string
	Path      string
	Timestamp time.Time
}

type processRecord struct {
	config   json.RawMessage
	id       string
	ref      string
	exec     string
	metadata map[string]json.RawMessage
}

// Engine hosts a single httptest.Server serving the media engine REST API.
type Engine struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	processes  map[string]*processRecord
	files      map[string][]byte
	valid      map[string]bool
	refreshTok string
	seq        int
	logins     int
	refreshes  int
	loginErr   int
	refreshErr int
	metaErr    int
	deleteErr  map[string]int
	operations []Operation
}

// Start spins up a new engine stub using the provided options.
func Start(opts Options) *Engine {
	e := &Engine{
		opts:       opts,
		processes:  make(map[string]*processRecord),
		files:      make(map[string][]byte),
		valid:      make(map[string]bool),
		loginErr:   opts.FailLogins,
		refreshErr: opts.FailRefreshes,
		metaErr:    opts.FailMetadataWrites,
		deleteErr:  make(map[string]int),
	}
	for id, n := range opts.FailDeletes {
		e.deleteErr[id] = n
	}
	e.server = httptest.NewServer(http.HandlerFunc(e.handle))
	return e
}

// Close shuts down the underlying HTTP server.
func (e *Engine) Close() {
	if e.server != nil {
		e.server.Close()
	}
}

// BaseURL returns the HTTP base URL of the fake engine.
func (e *Engine) BaseURL() string {
	return e.server.URL
}

// LoginCalls reports how many login requests were received.
func (e *Engine) LoginCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logins
}

// RefreshCalls reports how many refresh requests were received.
func (e *Engine) RefreshCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshes
}

// Operations returns a copy of all recorded operations in order.
func (e *Engine) Operations() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Operation, len(e.operations))
	copy(out, e.operations)
	return out
}

// RevokeAccessTokens invalidates every issued access token so the next
// authenticated call returns 401 until the client refreshes.
func (e *Engine) RevokeAccessTokens() {
	e.mu.Lock()
	e.valid = make(map[string]bool)
	e.mu.Unlock()
}

// AddProcess seeds a process with the given id, reference, and exec state.
func (e *Engine) AddProcess(id, reference, exec string) {
	e.mu.Lock()
	e.processes[id] = &processRecord{
		id:       id,
		ref:      reference,
		exec:     exec,
		metadata: make(map[string]json.RawMessage),
	}
	e.mu.Unlock()
}

// SetProcessExec updates the runtime state reported for a process.
func (e *Engine) SetProcessExec(id, exec string) {
	e.mu.Lock()
	if record, ok := e.processes[id]; ok {
		record.exec = exec
	}
	e.mu.Unlock()
}

// SetMetadataDoc stores a raw metadata document on a seeded process.
func (e *Engine) SetMetadataDoc(id, namespace string, doc string) {
	e.mu.Lock()
	if record, ok := e.processes[id]; ok {
		record.metadata[namespace] = json.RawMessage(doc)
	}
	e.mu.Unlock()
}

// HasProcess reports whether the given process id exists.
func (e *Engine) HasProcess(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.processes[id]
	return ok
}

// ProcessConfig returns the raw submitted config for a process.
func (e *Engine) ProcessConfig(id string) (json.RawMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.processes[id]
	if !ok || record.config == nil {
		return nil, false
	}
	return record.config, true
}

// HasFile reports whether a file exists in the named storage.
func (e *Engine) HasFile(storage, path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.files[storage+":"+path]
	return ok
}

func (e *Engine) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/login":
		e.handleLogin(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/refresh":
		e.handleRefresh(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v3/"):
		e.handleAPI(w, r)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (e *Engine) handleLogin(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logins++
	e.record("login", "", r.URL.Path)

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&creds)

	if e.loginErr > 0 {
		e.loginErr--
		http.Error(w, "login rejected", http.StatusUnauthorized)
		return
	}
	if e.opts.Username != "" && (creds.Username != e.opts.Username || creds.Password != e.opts.Password) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}
	e.issueTokens(w)
}

func (e *Engine) handleRefresh(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshes++
	e.record("refresh", "", r.URL.Path)

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if e.refreshErr > 0 {
		e.refreshErr--
		http.Error(w, "refresh rejected", http.StatusUnauthorized)
		return
	}
	if body.RefreshToken == "" || body.RefreshToken != e.refreshTok {
		http.Error(w, "unknown refresh token", http.StatusUnauthorized)
		return
	}
	e.issueTokens(w)
}

// issueTokens must be called with the mutex held.
func (e *Engine) issueTokens(w http.ResponseWriter) {
	e.seq++
	access := fmt.Sprintf("access-%d", e.seq)
	e.refreshTok = fmt.Sprintf("refresh-%d", e.seq)
	e.valid[access] = true
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": e.refreshTok,
	})
}

func (e *Engine) handleAPI(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if e.opts.ForceUnauthorized || !e.valid[token] {
		e.record("unauthorized", "", r.URL.Path)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v3")
	switch {
	case path == "/process" && r.Method == http.MethodGet:
		e.handleList(w)
	case path == "/process" && r.Method == http.MethodPost:
		e.handleCreate(w, r)
	case strings.HasPrefix(path, "/process/"):
		e.handleProcess(w, r, strings.TrimPrefix(path, "/process/"))
	case strings.HasPrefix(path, "/fs/"):
		e.handleFS(w, r, strings.TrimPrefix(path, "/fs/"))
	case path == "/metrics":
		writeJSON(w, http.StatusOK, map[string]interface{}{"metrics": []interface{}{}})
	case path == "/session/active":
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": []interface{}{}})
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (e *Engine) handleList(w http.ResponseWriter) {
	e.record("list_processes", "", "/process")
	out := make([]map[string]interface{}, 0, len(e.processes))
	for _, record := range e.processes {
		out = append(out, e.render(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *Engine) handleCreate(w http.ResponseWriter, r *http.Request) {
	var cfg struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
	}
	raw := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "bad config", http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(raw, &cfg); err != nil || cfg.ID == "" {
		http.Error(w, "bad config", http.StatusBadRequest)
		return
	}
	e.record("create_process", cfg.ID, "/process")
	e.processes[cfg.ID] = &processRecord{
		config:   raw,
		id:       cfg.ID,
		ref:      cfg.Reference,
		exec:     "running",
		metadata: make(map[string]json.RawMessage),
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": cfg.ID})
}

func (e *Engine) handleProcess(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 3)
	id := parts[0]
	record, ok := e.processes[id]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		e.record("get_process", id, r.URL.Path)
		if !ok {
			http.Error(w, "process not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, e.render(record))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		e.record("delete_process", id, r.URL.Path)
		if n := e.deleteErr[id]; n > 0 {
			e.deleteErr[id] = n - 1
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "process not found", http.StatusNotFound)
			return
		}
		delete(e.processes, id)
		w.WriteHeader(http.StatusOK)
	case len(parts) == 1 && r.Method == http.MethodPut:
		e.record("update_process", id, r.URL.Path)
		if !ok {
			http.Error(w, "process not found", http.StatusNotFound)
			return
		}
		raw := json.RawMessage{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "bad config", http.StatusBadRequest)
			return
		}
		record.config = raw
		w.WriteHeader(http.StatusOK)
	case len(parts) == 3 && parts[1] == "metadata" && r.Method == http.MethodPut:
		e.record("put_metadata", id, r.URL.Path)
		if !ok {
			http.Error(w, "process not found", http.StatusNotFound)
			return
		}
		if e.metaErr > 0 {
			e.metaErr--
			http.Error(w, "metadata write failed", http.StatusInternalServerError)
			return
		}
		raw := json.RawMessage{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "bad metadata", http.StatusBadRequest)
			return
		}
		record.metadata[parts[2]] = raw
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && parts[1] == "state" && r.Method == http.MethodGet:
		e.record("get_state", id, r.URL.Path)
		if !ok {
			http.Error(w, "process not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"order": order(record.exec), "exec": record.exec})
	case len(parts) == 2 && parts[1] == "command" && r.Method == http.MethodPut:
		e.record("command", id, r.URL.Path)
		if !ok {
			http.Error(w, "process not found", http.StatusNotFound)
			return
		}
		var body struct {
			Command string `json:"command"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || (body.Command != "start" && body.Command != "stop") {
			http.Error(w, "bad command", http.StatusBadRequest)
			return
		}
		if body.Command == "start" {
			record.exec = "running"
		} else {
			record.exec = "finished"
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (e *Engine) handleFS(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "bad fs path", http.StatusBadRequest)
		return
	}
	key := parts[0] + ":/" + parts[1]
	switch r.Method {
	case http.MethodPut:
		e.record("put_file", "", r.URL.Path)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		e.files[key] = data
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		e.record("get_file", "", r.URL.Path)
		data, ok := e.files[key]
		if !ok {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case http.MethodDelete:
		e.record("delete_file", "", r.URL.Path)
		delete(e.files, key)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

// render must be called with the mutex held.
func (e *Engine) render(record *processRecord) map[string]interface{} {
	metadata := make(map[string]interface{}, len(record.metadata))
	for ns, doc := range record.metadata {
		metadata[ns] = json.RawMessage(doc)
	}
	out := map[string]interface{}{
		"id":        record.id,
		"type":      "ffmpeg",
		"reference": record.ref,
		"state":     map[string]interface{}{"order": order(record.exec), "exec": record.exec},
		"metadata":  metadata,
	}
	if record.config != nil {
		out["config"] = record.config
	}
	return out
}

func (e *Engine) record(kind, processID, path string) {
	e.operations = append(e.operations, Operation{
		Kind:      kind,
		ProcessID: processID,
		Path:      path,
		Timestamp: time.Now(),
	})
}

func order(exec string) string {
	if exec == "running" {
		return "start"
	}
	return "stop"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

