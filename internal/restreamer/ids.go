package restreamer

import (
	"strings"

	"streamingpro/internal/engine"
)

// Namespace prefixes every process id and names the metadata document this
// dashboard stores on engine processes. The value is fixed by the engine's
// UI conventions and must not change.
const Namespace = "restreamer-ui"

const (
	ingestSegment = ":ingest:"
	egressSegment = ":egress:"
	recordSegment = ":record:"
)

// IngestID builds the process id for an ingest with the given stream id.
func IngestID(streamID string) string {
	return Namespace + ingestSegment + streamID
}

// EgressID builds the process id for an egress with the given short id.
func EgressID(shortID string) string {
	return Namespace + egressSegment + shortID
}

// RecordingIDFor derives the recording process id that belongs to an ingest
// process id. The last colon-separated segment of the ingest id is the
// stream id, which keys the recording process.
func RecordingIDFor(ingestID string) string {
	return Namespace + recordSegment + lastSegment(ingestID)
}

// StreamIDOf extracts the stream id from an ingest process id.
func StreamIDOf(ingestID string) string {
	return lastSegment(ingestID)
}

// IsIngestID reports whether id names an ingest process.
func IsIngestID(id string) bool {
	return strings.Contains(id, ingestSegment)
}

// ParentRef identifies the ingest a dependent process belongs to. Egress and
// recording processes carry no foreign key; the only linkage the engine
// offers is a reference field matching the parent's stream id, so the
// matching predicate lives here and nowhere else.
type ParentRef string

// MatchesEgress reports whether p is an egress output belonging to the
// referenced ingest.
func (r ParentRef) MatchesEgress(p engine.Process) bool {
	return strings.Contains(p.ID, egressSegment) && p.Reference == string(r)
}

func lastSegment(id string) string {
	if idx := strings.LastIndex(id, ":"); idx >= 0 {
		return id[idx+1:]
	}
	return id
}
