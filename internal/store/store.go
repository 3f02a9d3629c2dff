package store

import (
	"context"
	"time"
)

// CollapseState records whether a dashboard panel for a process is collapsed.
// A process can have several collapse records, one per panel kind.
type CollapseState struct {
	ProcessID   string    `json:"processId"`
	Kind        string    `json:"type"`
	IsCollapsed bool      `json:"isCollapsed"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EnabledState records the dashboard enable/disable switch for a process.
type EnabledState struct {
	ProcessID string    `json:"processId"`
	IsEnabled bool      `json:"isEnabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordingState mirrors whether a recording process should exist for an
// ingest. The recording controller reconciles it against the engine.
type RecordingState struct {
	ProcessID   string    `json:"processId"`
	IsRecording bool      `json:"isRecording"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Store is the dashboard's local bookkeeping: simple upsert/find/delete by
// process id. Implementations must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	ListCollapse(ctx context.Context, processID string) ([]CollapseState, error)
	UpsertCollapse(ctx context.Context, state CollapseState) error
	DeleteCollapse(ctx context.Context, processID string) error

	GetEnabled(ctx context.Context, processID string) (EnabledState, bool, error)
	UpsertEnabled(ctx context.Context, state EnabledState) error
	DeleteEnabled(ctx context.Context, processID string) error

	GetRecording(ctx context.Context, processID string) (RecordingState, bool, error)
	UpsertRecording(ctx context.Context, state RecordingState) error
	DeleteRecording(ctx context.Context, processID string) error
}
