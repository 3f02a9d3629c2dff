package api

import (
	"fmt"
	"net/http"
	"strings"

	"streamingpro/internal/engine"
	"streamingpro/internal/restreamer"
	"streamingpro/internal/store"
)

// processView is the reshaped process entry the dashboard renders: linkage
// ids, display metadata, runtime state, and the locally persisted UI flags.
type processView struct {
	ID          string                `json:"id"`
	Kind        string                `json:"kind"`
	Reference   string                `json:"reference,omitempty"`
	StreamID    string                `json:"streamId,omitempty"`
	Name        string                `json:"name,omitempty"`
	Description string                `json:"description,omitempty"`
	Order       string                `json:"order,omitempty"`
	Exec        string                `json:"exec,omitempty"`
	Runtime     int64                 `json:"runtimeSeconds,omitempty"`
	Enabled     *bool                 `json:"isEnabled,omitempty"`
	Recording   *bool                 `json:"isRecording,omitempty"`
	Collapse    []store.CollapseState `json:"collapse,omitempty"`
}

// Processes serves GET /api/process (reshaped list) and POST /api/process
// (create ingest).
func (h *Handler) Processes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listProcesses(w, r)
	case http.MethodPost:
		h.createIngest(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) listProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := h.Engine.ListProcesses(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	views := make([]processView, 0, len(processes))
	for _, p := range processes {
		name, description, hidden := uiDocument(p)
		if hidden {
			continue
		}
		view := processView{
			ID:          p.ID,
			Kind:        processKind(p.ID),
			Reference:   p.Reference,
			Name:        name,
			Description: description,
		}
		switch view.Kind {
		case "ingest":
			view.StreamID = restreamer.StreamIDOf(p.ID)
		case "egress", "record":
			view.StreamID = p.Reference
		}
		if p.State != nil {
			view.Order = p.State.Order
			view.Exec = p.State.Exec
			view.Runtime = p.State.RuntimeS
		}
		if h.Store != nil {
			if enabled, ok, err := h.Store.GetEnabled(r.Context(), p.ID); err == nil && ok {
				view.Enabled = &enabled.IsEnabled
			}
			if view.Kind == "ingest" {
				if recording, ok, err := h.Store.GetRecording(r.Context(), p.ID); err == nil && ok {
					view.Recording = &recording.IsRecording
				}
			}
			if collapse, err := h.Store.ListCollapse(r.Context(), p.ID); err == nil && len(collapse) > 0 {
				view.Collapse = collapse
			}
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) createIngest(w http.ResponseWriter, r *http.Request) {
	var params restreamer.IngestParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.Composer.CreateIngest(r.Context(), params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ProcessOutput serves POST /api/process/output (create egress).
func (h *Handler) ProcessOutput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var params restreamer.EgressParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.Composer.CreateEgress(r.Context(), params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ProcessByID dispatches /api/process/{id} and /api/process/{id}/command.
func (h *Handler) ProcessByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/process/"), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("process id required"))
		return
	}
	if strings.HasSuffix(rest, "/command") {
		h.processCommand(w, r, strings.TrimSuffix(rest, "/command"))
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown process route"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getProcess(w, r, rest)
	case http.MethodDelete:
		h.deleteProcess(w, r, rest)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}

func (h *Handler) getProcess(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.Engine.GetProcess(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deleteProcess(w http.ResponseWriter, r *http.Request, id string) {
	result, err := h.Cascade.DeleteProcess(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             id,
		"deletedOutputs": result.DeletedOutputs,
	})
}

func (h *Handler) processCommand(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, "PUT")
		return
	}
	if strings.TrimSpace(id) == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("process id required"))
		return
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	command := strings.ToLower(strings.TrimSpace(req.Command))
	if command != "start" && command != "stop" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("command must be start or stop"))
		return
	}

	if err := h.Engine.Command(r.Context(), id, command); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "command": command})
}

// RecordingByID serves PUT /api/recording/{id} (toggle recording on an ingest).
func (h *Handler) RecordingByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, "PUT")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/recording/"), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("ingest id required"))
		return
	}
	// Accept either the bare stream id or the full ingest process id.
	if !restreamer.IsIngestID(id) {
		id = restreamer.IngestID(id)
	}

	var req struct {
		Record bool `json:"record"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	state, err := h.Recordings.SetRecording(r.Context(), id, req.Record)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// EngineMetrics proxies the engine metrics document to the dashboard.
func (h *Handler) EngineMetrics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := h.Engine.Metrics(r.Context(), nil)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPost:
		var query interface{}
		if err := decodeJSON(r, &query); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		doc, err := h.Engine.Metrics(r.Context(), query)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// ActiveSessions reports the engine's session summary alongside the number of
// live dashboard sessions.
func (h *Handler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}

	doc, err := h.Engine.ActiveSessions(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dashboard, err := h.sessionManager().ActiveSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":            doc,
		"dashboardSessions": dashboard,
	})
}

func processKind(id string) string {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) == 3 && parts[0] == "restreamer-ui" {
		return parts[1]
	}
	return "external"
}

func uiDocument(p engine.Process) (name, description string, hidden bool) {
	raw, ok := p.Metadata["restreamer-ui"]
	if !ok {
		return "", "", false
	}
	doc, ok := raw.(map[string]interface{})
	if !ok {
		return "", "", false
	}
	if flag, ok := doc["hidden"].(bool); ok {
		hidden = flag
	}
	if meta, ok := doc["meta"].(map[string]interface{}); ok {
		if v, ok := meta["name"].(string); ok {
			name = v
		}
		if v, ok := meta["description"].(string); ok {
			description = v
		}
	}
	return name, description, hidden
}
