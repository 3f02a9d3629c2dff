package restreamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamingpro/internal/engine"
	"streamingpro/internal/store"
)

const (
	recordingStorage = "disk"
	recordingDir     = "/recordings"
)

// RecordingController starts and stops the dependent recording process for an
// ingest, keeping the persisted recording flag converged with the ingest's
// own running state. When the ingest is not running the controller always
// reconciles towards "not recording", regardless of what was requested.
type RecordingController struct {
	engine *engine.Client
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRecordingController constructs a recording controller.
func NewRecordingController(client *engine.Client, st store.Store, logger *slog.Logger) *RecordingController {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingController{
		engine: client,
		store:  st,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetRecording converges the recording process for the ingest towards the
// requested state. Two concurrent toggles for the same ingest serialize on a
// per-process mutex.
func (r *RecordingController) SetRecording(ctx context.Context, ingestID string, want bool) (store.RecordingState, error) {
	lock := r.lockFor(ingestID)
	lock.Lock()
	defer lock.Unlock()

	process, err := r.engine.GetProcess(ctx, ingestID)
	if err != nil {
		if engine.IsNotFound(err) {
			return store.RecordingState{}, ErrProcessNotFound
		}
		return store.RecordingState{}, fmt.Errorf("query ingest state: %w", err)
	}

	recordID := RecordingIDFor(ingestID)

	if !process.State.Running() {
		// Reconciliation, not an error: a stopped ingest can have no
		// recording, whatever the caller asked for.
		if r.recordingExists(ctx, recordID) {
			if err := r.engine.DeleteProcess(ctx, recordID); err != nil && !engine.IsNotFound(err) {
				r.logger.Warn("failed to delete stale recording process", "process_id", recordID, "error", err)
			}
		}
		return r.persist(ctx, ingestID, false)
	}

	if !want {
		if r.recordingExists(ctx, recordID) {
			if err := r.engine.DeleteProcess(ctx, recordID); err != nil && !engine.IsNotFound(err) {
				return store.RecordingState{}, fmt.Errorf("stop recording: %w", err)
			}
		}
		return r.persist(ctx, ingestID, false)
	}

	// Idempotent restart: a second start replaces the live recording process
	// instead of duplicating it.
	if r.recordingExists(ctx, recordID) {
		if err := r.engine.DeleteProcess(ctx, recordID); err != nil && !engine.IsNotFound(err) {
			return store.RecordingState{}, fmt.Errorf("replace recording: %w", err)
		}
	}

	streamID := StreamIDOf(ingestID)
	filename := fmt.Sprintf("%s_%s.mp4", Slugify(displayName(process, streamID)), r.now().Format("20060102_150405"))
	target := recordingDir + "/" + filename

	// Some engine filesystem backends refuse to open a path that does not
	// already exist.
	if err := r.engine.PutFile(ctx, recordingStorage, target, []byte{}); err != nil {
		return store.RecordingState{}, fmt.Errorf("create recording file: %w", err)
	}

	cfg := recordingConfig(recordID, streamID, target)
	if err := r.engine.CreateProcess(ctx, cfg); err != nil {
		return store.RecordingState{}, fmt.Errorf("create recording process: %w", err)
	}
	if err := r.engine.SetMetadata(ctx, recordID, Namespace, Metadata{
		Hidden: true,
		Meta:   Meta{Name: displayName(process, streamID) + " (recording)"},
	}); err != nil {
		return store.RecordingState{}, fmt.Errorf("tag recording process: %w", err)
	}
	if _, err := r.engine.GetProcess(ctx, recordID); err != nil {
		return store.RecordingState{}, fmt.Errorf("verify recording process: %w", err)
	}

	return r.persist(ctx, ingestID, true)
}

func (r *RecordingController) lockFor(ingestID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[ingestID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[ingestID] = lock
	}
	return lock
}

func (r *RecordingController) recordingExists(ctx context.Context, recordID string) bool {
	_, err := r.engine.GetProcess(ctx, recordID)
	if err == nil {
		return true
	}
	if !engine.IsNotFound(err) {
		r.logger.Warn("failed to look up recording process", "process_id", recordID, "error", err)
	}
	return false
}

func (r *RecordingController) persist(ctx context.Context, ingestID string, recording bool) (store.RecordingState, error) {
	state := store.RecordingState{
		ProcessID:   ingestID,
		IsRecording: recording,
		LastUpdated: r.now().UTC(),
	}
	if err := r.store.UpsertRecording(ctx, state); err != nil {
		return store.RecordingState{}, fmt.Errorf("persist recording state: %w", err)
	}
	return state, nil
}

// recordingConfig reads the ingest's in-memory HLS playlist and stream-copies
// it into an mp4 on disk, autostarted and hidden from the dashboard.
func recordingConfig(recordID, streamID, target string) engine.ProcessConfig {
	options := NewOutputOptions().
		Set("-c:v", "copy").
		Set("-c:a", "copy").
		Set("-f", "mp4")
	return engine.ProcessConfig{
		ID:        recordID,
		Type:      "ffmpeg",
		Reference: streamID,
		Input: []engine.ProcessIO{{
			ID:      "input_0",
			Address: "{memfs}" + IngestPlaylistPath(streamID),
			Options: []string{"-re"},
		}},
		Output: []engine.ProcessOutput{{
			ID:      "output_0",
			Address: "{" + recordingStorage + "}" + target,
			Options: options.Args(),
		}},
		Options:               []string{"-err_detect", "ignore_err"},
		Reconnect:             false,
		Autostart:             true,
		StaleTimeoutSeconds:   30,
		ReconnectDelaySeconds: 0,
	}
}

func displayName(p engine.Process, fallback string) string {
	if doc, ok := p.Metadata[Namespace].(map[string]interface{}); ok {
		if meta, ok := doc["meta"].(map[string]interface{}); ok {
			if name, ok := meta["name"].(string); ok && name != "" {
				return name
			}
		}
	}
	return fallback
}
