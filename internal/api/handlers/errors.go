package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/balance-ledger/internal/api/httpx"
	"github.com/baharkarakas/balance-ledger/internal/services"
)

// writeServiceError maps ledger errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ib *services.InsufficientBalanceError
		vi *services.VersionInconsistencyError
	)
	switch {
	case errors.Is(err, services.ErrInvalidBatch):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.As(err, &ib):
		httpx.WriteError(w, http.StatusBadRequest, "insufficient_balance", "insufficient balance",
			map[string]any{"user_id": ib.UserID})
	case errors.As(err, &vi):
		httpx.WriteError(w, http.StatusConflict, "version_inconsistency", "balance state is inconsistent",
			map[string]any{"user_id": vi.UserID})
	case errors.Is(err, services.ErrTransactionAborted):
		httpx.WriteError(w, http.StatusServiceUnavailable, "transaction_aborted", "transaction aborted, retry later", nil)
	case errors.Is(err, services.ErrStoreFailure):
		httpx.WriteError(w, http.StatusServiceUnavailable, "store_unavailable", "store unavailable", nil)
	case errors.Is(err, services.ErrCacheCorrupt):
		slog.Error("corrupt cache entry", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "cache_corrupt", "cached balance state is corrupt", nil)
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		httpx.WriteError(w, http.StatusServiceUnavailable, "request_cancelled", "request cancelled", nil)
	default:
		slog.Error("unhandled error", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
