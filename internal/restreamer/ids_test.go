package restreamer

import (
	"testing"

	"streamingpro/internal/engine"
)

func TestProcessIDDerivation(t *testing.T) {
	if got := IngestID("abc"); got != "restreamer-ui:ingest:abc" {
		t.Fatalf("unexpected ingest id %q", got)
	}
	if got := EgressID("def"); got != "restreamer-ui:egress:def" {
		t.Fatalf("unexpected egress id %q", got)
	}
	if got := RecordingIDFor("restreamer-ui:ingest:abc"); got != "restreamer-ui:record:abc" {
		t.Fatalf("unexpected recording id %q", got)
	}
	if got := StreamIDOf("restreamer-ui:ingest:abc"); got != "abc" {
		t.Fatalf("unexpected stream id %q", got)
	}
	if !IsIngestID("restreamer-ui:ingest:abc") || IsIngestID("restreamer-ui:egress:abc") {
		t.Fatalf("ingest id predicate misclassified")
	}
}

func TestParentRefMatchesEgress(t *testing.T) {
	ref := ParentRef("stream-1")
	cases := []struct {
		id   string
		refs string
		want bool
	}{
		{"restreamer-ui:egress:e1", "stream-1", true},
		{"restreamer-ui:egress:e1", "stream-2", false},
		{"restreamer-ui:ingest:stream-1", "stream-1", false},
		{"restreamer-ui:record:stream-1", "stream-1", false},
	}
	for _, tc := range cases {
		p := engine.Process{ID: tc.id, Reference: tc.refs}
		if got := ref.MatchesEgress(p); got != tc.want {
			t.Fatalf("MatchesEgress(%s, ref %s) = %v, want %v", tc.id, tc.refs, got, tc.want)
		}
	}
}
