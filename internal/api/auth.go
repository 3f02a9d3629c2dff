package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const operatorContextKey contextKey = "authenticatedOperator"

// ContextWithOperator stores the authenticated operator name in the context.
func ContextWithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorContextKey, operator)
}

// OperatorFromContext retrieves the authenticated operator from context if present.
func OperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(operatorContextKey).(string)
	return operator, ok
}

// AuthenticateRequest validates the session token on the request and returns
// the operator it belongs to.
func (h *Handler) AuthenticateRequest(r *http.Request) (string, error) {
	token := ExtractToken(r)
	if token == "" {
		return "", fmt.Errorf("missing session token")
	}
	operator, _, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("invalid or expired session")
	}
	return operator, nil
}

// ExtractToken pulls the session token from the Authorization header or the
// session cookie.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
