package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/shadowmesh/shadowmesh/credential"
)

type sessionKey uint8

const identityKey sessionKey = iota

// requireSession rejects requests without a valid bearer token of the
// given principal class and stashes the authenticated identity for the
// handler.
func (h *Handler) requireSession(class credential.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("missing bearer token"))
				return
			}

			claims, err := h.engine.ParseSession(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("invalid or expired token"))
				return
			}
			if claims.Class != string(class) {
				writeJSON(w, http.StatusForbidden, errorBody("insufficient privileges"))
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionIdentity(r *http.Request) string {
	if id, ok := r.Context().Value(identityKey).(string); ok {
		return id
	}
	return ""
}
