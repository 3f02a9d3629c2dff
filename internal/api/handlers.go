package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"streamingpro/internal/auth"
	"streamingpro/internal/engine"
	"streamingpro/internal/restreamer"
	"streamingpro/internal/store"
)

// Handler aggregates the dashboard's HTTP surface. The composer, cascade
// orchestrator, and recording controller own the engine semantics; handlers
// translate requests and map domain errors onto HTTP statuses.
type Handler struct {
	Composer   *restreamer.Composer
	Cascade    *restreamer.Orchestrator
	Recordings *restreamer.RecordingController
	Engine     *engine.Client
	Store      store.Store
	Sessions   *auth.SessionManager
	Operator   auth.OperatorCredentials
	Logger     *slog.Logger

	SessionCookiePolicy SessionCookiePolicy
}

// NewHandler wires the domain components behind the dashboard routes. The
// session manager falls back to an in-memory instance when nil so tests can
// construct handlers without auth plumbing.
func NewHandler(composer *restreamer.Composer, cascade *restreamer.Orchestrator, recordings *restreamer.RecordingController, client *engine.Client, st store.Store, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(0)
	}
	return &Handler{
		Composer:   composer,
		Cascade:    cascade,
		Recordings: recordings,
		Engine:     client,
		Store:      st,
		Sessions:   sessions,
	}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	return h.Sessions
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// writeDomainError maps domain errors onto the API's status conventions.
// Engine authentication failures propagate as 401; partial compositions
// surface as 502 because the engine accepted part of the work.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var partial *restreamer.PartialCompositionError
	switch {
	case errors.Is(err, restreamer.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, restreamer.ErrProcessNotFound) || engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &partial):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, engine.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}
