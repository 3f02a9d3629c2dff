package restreamer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"streamingpro/internal/engine"
	"streamingpro/internal/store"
	"streamingpro/internal/testsupport/enginestub"
)

const (
	recIngestID = "restreamer-ui:ingest:stream-1"
	recStreamID = "stream-1"
)

func newTestRecorder(t *testing.T) (*RecordingController, *enginestub.Engine, *store.MemoryStore) {
	t.Helper()
	stub := enginestub.Start(enginestub.Options{})
	t.Cleanup(stub.Close)
	client, _ := engine.Config{BaseURL: stub.BaseURL()}.NewClient()
	st := store.NewMemoryStore()
	controller := NewRecordingController(client, st, nil)
	controller.now = func() time.Time {
		return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	}
	return controller, stub, st
}

func TestStartRecordingCreatesHiddenProcess(t *testing.T) {
	controller, stub, st := newTestRecorder(t)
	stub.AddProcess(recIngestID, recStreamID, "running")
	stub.SetMetadataDoc(recIngestID, Namespace, `{"meta":{"name":"Cam 1"}}`)

	state, err := controller.SetRecording(context.Background(), recIngestID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.IsRecording {
		t.Fatalf("expected the persisted state to report recording")
	}

	recordID := RecordingIDFor(recIngestID)
	raw, ok := stub.ProcessConfig(recordID)
	if !ok {
		t.Fatalf("expected a recording process to be created")
	}
	var cfg engine.ProcessConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode recording config: %v", err)
	}
	if cfg.Input[0].Address != "{memfs}/"+recStreamID+"_output_0.m3u8" {
		t.Fatalf("expected the recording to read the ingest playlist, got %s", cfg.Input[0].Address)
	}
	const wantTarget = "{disk}/recordings/cam_1_20240102_150405.mp4"
	if cfg.Output[0].Address != wantTarget {
		t.Fatalf("unexpected recording target:\n got %s\nwant %s", cfg.Output[0].Address, wantTarget)
	}
	if !cfg.Autostart {
		t.Fatalf("expected the recording process to autostart")
	}
	if !stub.HasFile("disk", "/recordings/cam_1_20240102_150405.mp4") {
		t.Fatalf("expected the target file to be pre-created")
	}

	client, _ := engine.Config{BaseURL: stub.BaseURL()}.NewClient()
	process, err := client.GetProcess(context.Background(), recordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, ok := process.Metadata[Namespace].(map[string]interface{})
	if !ok || doc["hidden"] != true {
		t.Fatalf("expected the recording process to be tagged hidden, got %+v", process.Metadata)
	}

	persisted, exists, err := st.GetRecording(context.Background(), recIngestID)
	if err != nil || !exists || !persisted.IsRecording {
		t.Fatalf("expected the recording flag to be persisted, got %+v (%v, %v)", persisted, exists, err)
	}
}

func TestStartRecordingTwiceReplacesProcess(t *testing.T) {
	controller, stub, _ := newTestRecorder(t)
	stub.AddProcess(recIngestID, recStreamID, "running")

	ctx := context.Background()
	if _, err := controller.SetRecording(ctx, recIngestID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := controller.SetRecording(ctx, recIngestID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recordID := RecordingIDFor(recIngestID)
	creates, deletes := 0, 0
	for _, op := range stub.Operations() {
		if op.ProcessID != recordID {
			continue
		}
		switch op.Kind {
		case "create_process":
			creates++
		case "delete_process":
			deletes++
		}
	}
	if creates != 2 || deletes != 1 {
		t.Fatalf("expected the second start to replace the process, got %d creates and %d deletes", creates, deletes)
	}
	if !stub.HasProcess(recordID) {
		t.Fatalf("expected exactly one live recording process")
	}
}

func TestStopRecordingDeletesProcess(t *testing.T) {
	controller, stub, st := newTestRecorder(t)
	stub.AddProcess(recIngestID, recStreamID, "running")

	ctx := context.Background()
	if _, err := controller.SetRecording(ctx, recIngestID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, err := controller.SetRecording(ctx, recIngestID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.IsRecording {
		t.Fatalf("expected the persisted state to report not recording")
	}
	if stub.HasProcess(RecordingIDFor(recIngestID)) {
		t.Fatalf("expected the recording process to be deleted")
	}
	if persisted, _, _ := st.GetRecording(ctx, recIngestID); persisted.IsRecording {
		t.Fatalf("expected the persisted flag to be cleared")
	}
}

func TestStartRecordingOnStoppedIngestReconciles(t *testing.T) {
	controller, stub, st := newTestRecorder(t)
	stub.AddProcess(recIngestID, recStreamID, "finished")
	recordID := RecordingIDFor(recIngestID)
	stub.AddProcess(recordID, recStreamID, "running")
	_ = st.UpsertRecording(context.Background(), store.RecordingState{ProcessID: recIngestID, IsRecording: true})

	state, err := controller.SetRecording(context.Background(), recIngestID, true)
	if err != nil {
		t.Fatalf("reconciliation must not be an error: %v", err)
	}
	if state.IsRecording {
		t.Fatalf("a stopped ingest cannot be recording")
	}
	if stub.HasProcess(recordID) {
		t.Fatalf("expected the stale recording process to be removed")
	}
	for _, op := range stub.Operations() {
		if op.Kind == "create_process" {
			t.Fatalf("expected no new process to be created, got %+v", op)
		}
	}
}

func TestSetRecordingUnknownIngest(t *testing.T) {
	controller, _, _ := newTestRecorder(t)
	if _, err := controller.SetRecording(context.Background(), "restreamer-ui:ingest:missing", true); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestRecordingFallsBackToStreamIDName(t *testing.T) {
	controller, stub, _ := newTestRecorder(t)
	stub.AddProcess(recIngestID, recStreamID, "running")

	if _, err := controller.SetRecording(context.Background(), recIngestID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stub.HasFile("disk", "/recordings/stream_1_20240102_150405.mp4") {
		t.Fatalf("expected the stream id to name the file when no metadata exists")
	}
}
