// Package restreamer composes, deletes, and records the logical stream
// processes managed through the media engine.
//
// A logical process is an aggregate the engine itself never sees as one
// object: an ingest process, the egress processes that reference its stream
// id, an optional recording process, engine-side display metadata, and the
// locally persisted dashboard state. The Composer builds and commits the
// engine-side pieces, the Orchestrator tears the whole aggregate down in
// dependency order, and the RecordingController keeps the recording process
// converged with the ingest's running state.
//
// All engine access goes through engine.Client so token handling and the
// retry-once-on-401 behaviour stay in one place.
package restreamer
