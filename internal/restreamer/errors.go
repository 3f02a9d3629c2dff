package restreamer

import (
	"errors"
	"fmt"
)

// ErrProcessNotFound signals that the target process was absent when an
// operation started. It maps to a 404 and is never retried.
var ErrProcessNotFound = errors.New("process not found")

// PartialCompositionError reports that the engine accepted a process resource
// but rejected the follow-up metadata write. Without the metadata the process
// is unnamed and invisible to the dashboard, so callers must be able to tell
// this apart from total failure. RolledBack records whether the compensating
// deletion of the fresh resource succeeded.
type PartialCompositionError struct {
	ProcessID  string
	RolledBack bool
	Err        error
}

func (e *PartialCompositionError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("metadata write failed for process %s, resource rolled back: %v", e.ProcessID, e.Err)
	}
	return fmt.Sprintf("metadata write failed for process %s, orphaned resource left on engine: %v", e.ProcessID, e.Err)
}

func (e *PartialCompositionError) Unwrap() error {
	return e.Err
}
