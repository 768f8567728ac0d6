package services

import (
	"log/slog"

	"github.com/baharkarakas/balance-ledger/internal/metrics"
)

// ReconcileVersion decides which version an attempt continues from. The store
// is ground truth; a cache that claims more commits than the store has is a
// data-integrity fault and stops the batch.
func ReconcileVersion(log *slog.Logger, userID string, cacheVersion, storeVersion int64) (int64, error) {
	switch {
	case storeVersion < cacheVersion:
		metrics.VersionInconsistencies.Inc()
		log.Error("version inconsistency",
			"user_id", userID, "cache_version", cacheVersion, "store_version", storeVersion)
		return 0, &VersionInconsistencyError{UserID: userID, CacheVersion: cacheVersion, StoreVersion: storeVersion}
	case storeVersion > cacheVersion:
		metrics.CacheStale.Inc()
		log.Warn("stale cache, using store version",
			"user_id", userID, "cache_version", cacheVersion, "store_version", storeVersion)
	}
	return storeVersion, nil
}
