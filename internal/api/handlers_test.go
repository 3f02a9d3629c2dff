package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"streamingpro/internal/auth"
	"streamingpro/internal/engine"
	"streamingpro/internal/restreamer"
	"streamingpro/internal/store"
	"streamingpro/internal/testsupport/enginestub"
)

func newTestHandler(t *testing.T, opts enginestub.Options) (*Handler, *enginestub.Engine, *store.MemoryStore) {
	t.Helper()
	stub := enginestub.Start(opts)
	t.Cleanup(stub.Close)

	client, _ := engine.Config{
		BaseURL:  stub.BaseURL(),
		Username: opts.Username,
		Password: opts.Password,
	}.NewClient()

	st := store.NewMemoryStore()
	sessions := auth.NewSessionManager(time.Hour)

	handler := NewHandler(
		restreamer.NewComposer(client, nil),
		restreamer.NewOrchestrator(client, st, nil),
		restreamer.NewRecordingController(client, st, nil),
		client,
		st,
		sessions,
	)

	hash, err := auth.HashPassword("dashboard-secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	handler.Operator = auth.OperatorCredentials{Username: "admin", PasswordHash: hash}
	return handler, stub, st
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, body)
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestCreateIngestReturnsCreated(t *testing.T) {
	handler, stub, _ := newTestHandler(t, enginestub.Options{})

	rr := doJSON(t, handler.Processes, http.MethodPost, "/api/process", map[string]string{
		"type": "rtmp",
		"name": "Studio A",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var result restreamer.ComposeResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.StreamID == "" || result.ProcessID != "restreamer-ui:ingest:"+result.StreamID {
		t.Fatalf("unexpected ids in response: %+v", result)
	}
	if !stub.HasProcess(result.ProcessID) {
		t.Fatalf("expected process %s in engine", result.ProcessID)
	}
}

func TestCreateIngestValidationMapsTo400(t *testing.T) {
	handler, _, _ := newTestHandler(t, enginestub.Options{})

	rr := doJSON(t, handler.Processes, http.MethodPost, "/api/process", map[string]string{
		"type": "rtmp",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in payload")
	}
}

func TestCreateEgressReturnsCreated(t *testing.T) {
	handler, stub, _ := newTestHandler(t, enginestub.Options{})

	ingest := doJSON(t, handler.Processes, http.MethodPost, "/api/process", map[string]string{
		"type": "rtmp",
		"name": "Studio A",
	})
	if ingest.Code != http.StatusCreated {
		t.Fatalf("ingest create failed: %d", ingest.Code)
	}
	var parent restreamer.ComposeResult
	if err := json.Unmarshal(ingest.Body.Bytes(), &parent); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}

	rr := doJSON(t, handler.ProcessOutput, http.MethodPost, "/api/process/output", map[string]interface{}{
		"type":      "rtmp",
		"streamId":  parent.StreamID,
		"name":      "YouTube",
		"url":       "rtmp://a.rtmp.youtube.com/live2",
		"streamKey": "abcd-efgh",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var egress restreamer.ComposeResult
	if err := json.Unmarshal(rr.Body.Bytes(), &egress); err != nil {
		t.Fatalf("decode egress response: %v", err)
	}
	if !stub.HasProcess(egress.ProcessID) {
		t.Fatalf("expected egress %s in engine", egress.ProcessID)
	}
	if egress.Config.Reference != parent.StreamID {
		t.Fatalf("expected egress reference %q, got %q", parent.StreamID, egress.Config.Reference)
	}
}

func TestDeleteProcessReportsDeletedOutputs(t *testing.T) {
	handler, stub, _ := newTestHandler(t, enginestub.Options{})

	stub.AddProcess("restreamer-ui:ingest:stream-1", "stream-1", "running")
	stub.AddProcess("restreamer-ui:egress:e1", "stream-1", "running")
	stub.AddProcess("restreamer-ui:egress:e2", "stream-1", "running")

	req := httptest.NewRequest(http.MethodDelete, "/api/process/restreamer-ui:ingest:stream-1", nil)
	rr := httptest.NewRecorder()
	handler.ProcessByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		ID             string `json:"id"`
		DeletedOutputs int    `json:"deletedOutputs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.DeletedOutputs != 2 {
		t.Fatalf("expected 2 deleted outputs, got %d", payload.DeletedOutputs)
	}
	if stub.HasProcess("restreamer-ui:ingest:stream-1") {
		t.Fatal("expected parent process to be deleted")
	}
}

func TestDeleteUnknownProcessReturns404(t *testing.T) {
	handler, _, _ := newTestHandler(t, enginestub.Options{})

	req := httptest.NewRequest(http.MethodDelete, "/api/process/restreamer-ui:ingest:missing", nil)
	rr := httptest.NewRecorder()
	handler.ProcessByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestProcessCommandValidatesInput(t *testing.T) {
	handler, stub, _ := newTestHandler(t, enginestub.Options{})
	stub.AddProcess("restreamer-ui:ingest:stream-1", "stream-1", "finished")

	rr := doJSON(t, handler.ProcessByID, http.MethodPut, "/api/process/restreamer-ui:ingest:stream-1/command", map[string]string{
		"command": "reboot",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", rr.Code)
	}

	rr = doJSON(t, handler.ProcessByID, http.MethodPut, "/api/process/restreamer-ui:ingest:stream-1/command", map[string]string{
		"command": "start",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListProcessesHidesRecordingProcesses(t *testing.T) {
	handler, stub, st := newTestHandler(t, enginestub.Options{})

	stub.AddProcess("restreamer-ui:ingest:stream-1", "stream-1", "running")
	stub.SetMetadataDoc("restreamer-ui:ingest:stream-1", "restreamer-ui", `{"meta":{"name":"Studio A","description":"main"}}`)
	stub.AddProcess("restreamer-ui:record:stream-1", "stream-1", "running")
	stub.SetMetadataDoc("restreamer-ui:record:stream-1", "restreamer-ui", `{"hidden":true}`)

	if err := st.UpsertEnabled(context.Background(), store.EnabledState{ProcessID: "restreamer-ui:ingest:stream-1", IsEnabled: true}); err != nil {
		t.Fatalf("UpsertEnabled: %v", err)
	}
	if err := st.UpsertRecording(context.Background(), store.RecordingState{ProcessID: "restreamer-ui:ingest:stream-1", IsRecording: true}); err != nil {
		t.Fatalf("UpsertRecording: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/process", nil)
	rr := httptest.NewRecorder()
	handler.Processes(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var views []processView
	if err := json.Unmarshal(rr.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode views: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected hidden process filtered, got %d entries", len(views))
	}
	view := views[0]
	if view.Kind != "ingest" || view.StreamID != "stream-1" {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Name != "Studio A" {
		t.Fatalf("expected display name from metadata, got %q", view.Name)
	}
	if view.Enabled == nil || !*view.Enabled {
		t.Fatal("expected enabled flag from local store")
	}
	if view.Recording == nil || !*view.Recording {
		t.Fatal("expected recording flag from local store")
	}
}

func TestRecordingToggleOnUnknownIngest(t *testing.T) {
	handler, _, _ := newTestHandler(t, enginestub.Options{})

	rr := doJSON(t, handler.RecordingByID, http.MethodPut, "/api/recording/stream-404", map[string]bool{
		"record": true,
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRecordingToggleAcceptsBareStreamID(t *testing.T) {
	handler, stub, _ := newTestHandler(t, enginestub.Options{})
	stub.AddProcess("restreamer-ui:ingest:stream-1", "stream-1", "running")

	rr := doJSON(t, handler.RecordingByID, http.MethodPut, "/api/recording/stream-1", map[string]bool{
		"record": true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var state store.RecordingState
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.IsRecording {
		t.Fatal("expected recording state on")
	}
	if !stub.HasProcess("restreamer-ui:record:stream-1") {
		t.Fatal("expected recording process in engine")
	}
}

func TestLoginSessionLogoutFlow(t *testing.T) {
	handler, _, _ := newTestHandler(t, enginestub.Options{})

	rr := doJSON(t, handler.Login, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "admin",
		"password": "dashboard-secret",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cookies := rr.Result().Cookies()
	if len(cookies) == 0 || cookies[0].Name != "streamingpro_session" {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	token := cookies[0].Value

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	sessionRR := httptest.NewRecorder()
	handler.Session(sessionRR, req)
	if sessionRR.Code != http.StatusOK {
		t.Fatalf("expected 200 session, got %d", sessionRR.Code)
	}
	var session authResponse
	if err := json.Unmarshal(sessionRR.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Operator != "admin" {
		t.Fatalf("expected operator admin, got %q", session.Operator)
	}

	logoutReq := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	logoutReq.Header.Set("Authorization", "Bearer "+token)
	logoutRR := httptest.NewRecorder()
	handler.Logout(logoutRR, logoutReq)
	if logoutRR.Code != http.StatusNoContent {
		t.Fatalf("expected 204 logout, got %d", logoutRR.Code)
	}

	retry := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	retry.Header.Set("Authorization", "Bearer "+token)
	retryRR := httptest.NewRecorder()
	handler.Session(retryRR, retry)
	if retryRR.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", retryRR.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler, _, _ := newTestHandler(t, enginestub.Options{})

	rr := doJSON(t, handler.Login, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestActiveSessionsCombinesEngineAndDashboard(t *testing.T) {
	handler, _, _ := newTestHandler(t, enginestub.Options{})

	if _, _, err := handler.Sessions.Create("admin"); err != nil {
		t.Fatalf("Create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/active", nil)
	rr := httptest.NewRecorder()
	handler.ActiveSessions(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Engine            json.RawMessage `json:"engine"`
		DashboardSessions int             `json:"dashboardSessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.DashboardSessions != 1 {
		t.Fatalf("expected 1 dashboard session, got %d", payload.DashboardSessions)
	}
	if len(payload.Engine) == 0 {
		t.Fatal("expected engine session document")
	}
}

func TestHealthReportsComponents(t *testing.T) {
	handler, _, _ := newTestHandler(t, enginestub.Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Status     string            `json:"status"`
		Components []componentStatus `json:"components"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
	if len(payload.Components) == 0 {
		t.Fatal("expected component statuses")
	}
}

func TestListProcessesEngineAuthFailureReturnsUnauthorized(t *testing.T) {
	stub := enginestub.Start(enginestub.Options{Username: "engine", Password: "correct"})
	t.Cleanup(stub.Close)

	client, _ := engine.Config{
		BaseURL:  stub.BaseURL(),
		Username: "engine",
		Password: "wrong",
	}.NewClient()
	st := store.NewMemoryStore()
	handler := NewHandler(
		restreamer.NewComposer(client, nil),
		restreamer.NewOrchestrator(client, st, nil),
		restreamer.NewRecordingController(client, st, nil),
		client,
		st,
		auth.NewSessionManager(time.Hour),
	)

	rr := doJSON(t, handler.Processes, http.MethodGet, "/api/process", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for engine authentication failure, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestNewHandlerDefaultsSessionManager(t *testing.T) {
	handler := NewHandler(nil, nil, nil, nil, store.NewMemoryStore(), nil)
	if handler.Sessions == nil {
		t.Fatal("expected NewHandler to supply a session manager")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
			rr := httptest.NewRecorder()
			handler.Session(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401 without a session cookie, got %d", rr.Code)
			}
		}()
	}
	wg.Wait()
}
