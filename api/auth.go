package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/identity"
)

type contextKey string

const actorKey contextKey = "actor"

// Authenticate resolves the bearer token into an engine.Actor and stores
// it on the request context. Requests without a valid token get 401.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		actor, err := h.Identity.Authenticate(token)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Refresh reloads the engine state when the admin CLI saved to the same
// database since the last request. A failed refresh serves the loaded copy.
func (h *Handler) Refresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Store.Refresh(r.Context()); err != nil {
			log.Printf("[API] Error refreshing state: %v", err)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects callers that are not administrators. It must run
// after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := actorFrom(r).(engine.AdminActor); !ok {
			writeErrorCode(w, http.StatusForbidden, "Administrator access required", "forbidden", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func actorFrom(r *http.Request) engine.Actor {
	actor, _ := r.Context().Value(actorKey).(engine.Actor)
	return actor
}

// adminFrom is only called on routes behind RequireAdmin.
func adminFrom(r *http.Request) engine.AdminActor {
	admin, _ := actorFrom(r).(engine.AdminActor)
	return admin
}

func writeIdentityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrWeakPassword):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "weak_password", nil)
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeErrorCode(w, http.StatusUnauthorized, err.Error(), "invalid_credentials", nil)
	case errors.Is(err, identity.ErrInvalidToken):
		writeErrorCode(w, http.StatusUnauthorized, err.Error(), "invalid_token", nil)
	case errors.Is(err, identity.ErrNotApproved):
		writeErrorCode(w, http.StatusForbidden, err.Error(), "not_approved", nil)
	default:
		writeEngineError(w, err)
	}
}
