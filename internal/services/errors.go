package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/balance-ledger/internal/cache"
)

var (
	ErrLockAcquisition      = errors.New("ledger: lock acquisition failed")
	ErrVersionInconsistency = errors.New("ledger: cache version ahead of store")
	ErrInsufficientBalance  = errors.New("ledger: insufficient balance")
	ErrStoreFailure         = errors.New("ledger: store failure")
	ErrTransactionAborted   = errors.New("ledger: transaction aborted")
	ErrInvalidBatch         = errors.New("ledger: invalid batch")
	ErrCacheCorrupt         = errors.New("ledger: corrupt cache entry")
)

// InsufficientBalanceError names the first user whose running balance went
// below zero.
type InsufficientBalanceError struct {
	UserID  string
	Balance decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: user %s would reach %s", ErrInsufficientBalance, e.UserID, e.Balance)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

type VersionInconsistencyError struct {
	UserID       string
	CacheVersion int64
	StoreVersion int64
}

func (e *VersionInconsistencyError) Error() string {
	return fmt.Sprintf("%s: user %s cache=%d store=%d", ErrVersionInconsistency, e.UserID, e.CacheVersion, e.StoreVersion)
}

func (e *VersionInconsistencyError) Is(target error) bool { return target == ErrVersionInconsistency }

// Retriable reports whether another attempt could succeed.
func Retriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrVersionInconsistency),
		errors.Is(err, ErrInvalidBatch),
		errors.Is(err, ErrCacheCorrupt):
		return false
	case errors.Is(err, ErrLockAcquisition), errors.Is(err, ErrStoreFailure):
		return true
	}
	return false
}

// storeFailure wraps an I/O error from the store or the cache. Values the
// store refuses (SQLSTATE class 22) and cache entries that do not parse fail
// the same way on every attempt, so they are not classed as store failures.
func storeFailure(op string, err error) error {
	switch {
	case isDataException(err):
		return fmt.Errorf("%w: %s: %w", ErrInvalidBatch, op, err)
	case errors.Is(err, cache.ErrCorrupt):
		return fmt.Errorf("%w: %s: %w", ErrCacheCorrupt, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

func isDataException(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22")
}
