package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/baharkarakas/balance-ledger/internal/api/httpx"
	"github.com/baharkarakas/balance-ledger/internal/auth"
)

type ctxKey string

const (
	ctxUserIDKey ctxKey = "uid"
	ctxRoleKey   ctxKey = "role"
	ctxActorKey  ctxKey = "actor"
)

func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxUserIDKey).(string)
	return v, ok
}

func Role(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRoleKey).(string)
	return v, ok
}

// Actor is the identity recorded on every write made for the request.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(ctxActorKey).(string)
	return v
}

type AuthMiddleware struct {
	TM           *auth.TokenManager
	DefaultActor string
}

func NewAuthMiddleware(tm *auth.TokenManager, defaultActor string) *AuthMiddleware {
	return &AuthMiddleware{TM: tm, DefaultActor: defaultActor}
}

// Auth resolves the acting user from a bearer access token. Requests without
// a token act as DefaultActor; a token that does not verify is rejected.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" {
			ctx := context.WithValue(r.Context(), ctxActorKey, m.DefaultActor)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "malformed authorization header", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		claims, isRefresh, err := m.TM.ParseAny(token)
		if err != nil || isRefresh {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, ctxRoleKey, claims.Role)
		ctx = context.WithValue(ctx, ctxActorKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
