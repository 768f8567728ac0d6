package middleware

import (
	"net/http"

	"github.com/baharkarakas/balance-ledger/internal/api/httpx"
)

// RequireRole allows only authenticated callers holding the given role.
func RequireRole(need string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := Role(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
				return
			}
			if role != need {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "requires role "+need, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
