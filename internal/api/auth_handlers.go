package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"streamingpro/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Operator  string    `json:"operator"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges operator credentials for a dashboard session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.Operator.Authenticate(req.Username, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger().Error("operator credential check failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return
	}

	token, expiresAt, err := h.sessionManager().Create(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusOK, authResponse{Operator: req.Username, ExpiresAt: expiresAt.UTC()})
}

// Logout revokes the current session token and clears its cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	token := ExtractToken(r)
	if token == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing session token"))
		return
	}
	if err := h.sessionManager().Revoke(token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.ClearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the operator behind the presented session token.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}

	token := ExtractToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("missing session token"))
		return
	}
	operator, expiresAt, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or expired session"))
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Operator: operator, ExpiresAt: expiresAt.UTC()})
}
