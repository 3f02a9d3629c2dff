package restreamer

import (
	"context"
	"fmt"
	"log/slog"

	"streamingpro/internal/engine"
	"streamingpro/internal/store"
)

// CascadeResult summarizes a completed cascade deletion.
type CascadeResult struct {
	DeletedOutputs int `json:"deletedOutputs"`
}

// Orchestrator deletes a logical process and everything that depends on it.
// The engine offers no multi-resource transaction, so the cascade maximizes
// best-effort cleanup: every dependent step logs and continues on failure,
// and only the final deletion of the ingest resource itself is fatal.
type Orchestrator struct {
	engine *engine.Client
	store  store.Store
	logger *slog.Logger
}

// NewOrchestrator constructs a cascade deletion orchestrator.
func NewOrchestrator(client *engine.Client, st store.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{engine: client, store: st, logger: logger}
}

// DeleteProcess removes the ingest process with the given id together with
// its egress outputs, recording process, and local dashboard state.
//
// Ordering is deliberate: dependents before the parent, local bookkeeping
// before the remote resource. A crash mid-cascade then leaves at most a
// removed bookkeeping record pointing at a still-existing engine resource,
// which re-running the cascade repairs, never dangling local state that
// references nothing.
func (o *Orchestrator) DeleteProcess(ctx context.Context, processID string) (CascadeResult, error) {
	processes, err := o.engine.ListProcesses(ctx)
	if err != nil {
		return CascadeResult{}, fmt.Errorf("list processes: %w", err)
	}

	var parent *engine.Process
	for i := range processes {
		if processes[i].ID == processID {
			parent = &processes[i]
			break
		}
	}
	if parent == nil {
		return CascadeResult{}, ErrProcessNotFound
	}

	ref := ParentRef(parent.Reference)
	deleted := 0
	for _, candidate := range processes {
		if !ref.MatchesEgress(candidate) {
			continue
		}
		o.deleteLocalState(ctx, candidate.ID)
		if err := o.engine.DeleteProcess(ctx, candidate.ID); err != nil && !engine.IsNotFound(err) {
			o.logger.Warn("failed to delete egress output, continuing cascade",
				"process_id", candidate.ID, "error", err)
			continue
		}
		deleted++
	}

	o.deleteLocalState(ctx, parent.ID)
	if err := o.store.DeleteRecording(ctx, parent.ID); err != nil {
		o.logger.Warn("failed to delete recording state", "process_id", parent.ID, "error", err)
	}

	recordID := RecordingIDFor(parent.ID)
	if _, err := o.engine.GetProcess(ctx, recordID); err == nil {
		if err := o.engine.DeleteProcess(ctx, recordID); err != nil && !engine.IsNotFound(err) {
			o.logger.Warn("failed to delete recording process, continuing cascade",
				"process_id", recordID, "error", err)
		}
	} else if !engine.IsNotFound(err) {
		o.logger.Warn("failed to look up recording process, continuing cascade",
			"process_id", recordID, "error", err)
	}

	// The parent is the one resource whose deletion must not fail silently:
	// callers assume the input is gone afterwards.
	if err := o.engine.DeleteProcess(ctx, parent.ID); err != nil && !engine.IsNotFound(err) {
		return CascadeResult{DeletedOutputs: deleted}, fmt.Errorf("delete ingest %s: %w", parent.ID, err)
	}

	return CascadeResult{DeletedOutputs: deleted}, nil
}

// deleteLocalState clears the dashboard bookkeeping for one process, in
// collapse-then-enabled order. Store failures are logged and swallowed; a
// broken local record must never block remote cleanup.
func (o *Orchestrator) deleteLocalState(ctx context.Context, processID string) {
	if err := o.store.DeleteCollapse(ctx, processID); err != nil {
		o.logger.Warn("failed to delete collapse state", "process_id", processID, "error", err)
	}
	if err := o.store.DeleteEnabled(ctx, processID); err != nil {
		o.logger.Warn("failed to delete enabled state", "process_id", processID, "error", err)
	}
}
