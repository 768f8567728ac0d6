package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/balance-ledger/internal/cache"
	"github.com/baharkarakas/balance-ledger/internal/config"
	"github.com/baharkarakas/balance-ledger/internal/lock"
	"github.com/baharkarakas/balance-ledger/internal/metrics"
	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
	"github.com/baharkarakas/balance-ledger/internal/worker"
)

// TransactionService applies balance batches: lock every user, reconcile the
// cached versions against the store, write the batch in one durable
// transaction and publish the result back to the cache.
type TransactionService struct {
	ledger repo.Ledger
	locks  *lock.Manager
	cache  *cache.BalanceCache
	wp     *worker.Pool
	cfg    config.Config
	log    *slog.Logger
}

// NewTransactionService wires the executor. wp may be nil, in which case
// batches run on the caller's goroutine.
func NewTransactionService(l repo.Ledger, locks *lock.Manager, c *cache.BalanceCache, wp *worker.Pool, cfg config.Config, log *slog.Logger) *TransactionService {
	if log == nil {
		log = slog.Default()
	}
	return &TransactionService{ledger: l, locks: locks, cache: c, wp: wp, cfg: cfg, log: log}
}

// IssueTransactions applies the batch all-or-nothing on behalf of actor.
func (s *TransactionService) IssueTransactions(ctx context.Context, actor string, req models.BatchRequest) error {
	if err := validateBatch(req); err != nil {
		metrics.BatchesTotal.WithLabelValues("invalid").Inc()
		return err
	}
	if actor == "" {
		actor = s.cfg.DefaultActor
	}
	if s.wp == nil {
		return s.run(ctx, actor, req)
	}
	return s.wp.Do(ctx, func(ctx context.Context) error { return s.run(ctx, actor, req) })
}

// balanceLimit bounds every amount and running balance to the 18 integer
// digits of NUMERIC(36,18).
var balanceLimit = decimal.New(1, 18)

func withinLimit(d decimal.Decimal) bool { return d.Abs().LessThan(balanceLimit) }

func validateBatch(req models.BatchRequest) error {
	if len(req.Transactions) == 0 {
		return fmt.Errorf("%w: no transactions", ErrInvalidBatch)
	}
	for i, e := range req.Transactions {
		if e.UserID == "" {
			return fmt.Errorf("%w: transactions[%d].user_id is empty", ErrInvalidBatch, i)
		}
		if !withinLimit(e.Amount) {
			return fmt.Errorf("%w: transactions[%d].amount %s out of range", ErrInvalidBatch, i, e.Amount)
		}
	}
	return nil
}

// run is the retry controller.
func (s *TransactionService) run(ctx context.Context, actor string, req models.BatchRequest) error {
	userIDs := req.UserIDs()
	attempts := max(s.cfg.MaxAttempts, 1)

	var last error
	n := 0
	for n < attempts {
		n++
		metrics.BatchAttempts.Inc()
		last = s.attempt(ctx, actor, req, userIDs)
		if last == nil {
			metrics.BatchesTotal.WithLabelValues("committed").Inc()
			return nil
		}
		if !Retriable(last) {
			metrics.BatchesTotal.WithLabelValues(outcome(last)).Inc()
			return last
		}
		if n == attempts {
			break
		}
		backoff := s.cfg.RetryBackoff * time.Duration(n)
		s.log.Info("batch attempt failed, retrying", "attempt", n, "backoff", backoff, "err", last)
		select {
		case <-ctx.Done():
			metrics.BatchesTotal.WithLabelValues("aborted").Inc()
			return fmt.Errorf("%w after %d attempts: %w", ErrTransactionAborted, n, ctx.Err())
		case <-time.After(backoff):
		}
	}
	metrics.BatchesTotal.WithLabelValues("aborted").Inc()
	s.log.Error("batch aborted", "attempts", n, "err", last)
	return fmt.Errorf("%w after %d attempts: %w", ErrTransactionAborted, n, last)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrVersionInconsistency):
		return "version_inconsistency"
	case errors.Is(err, ErrInvalidBatch):
		return "invalid"
	case errors.Is(err, ErrCacheCorrupt):
		return "cache_corrupt"
	}
	return "aborted"
}

// attempt runs one acquire-reconcile-apply-publish pass. Every lock it takes
// is released before it returns.
func (s *TransactionService) attempt(ctx context.Context, actor string, req models.BatchRequest, userIDs []string) error {
	held, err := s.locks.AcquireAll(ctx, userIDs)
	if err != nil {
		metrics.LockFailures.Inc()
		s.log.Warn("lock acquisition failed", "users", userIDs, "err", err)
		return fmt.Errorf("%w: %w", ErrLockAcquisition, err)
	}
	defer func() {
		if err := s.locks.ReleaseAll(context.WithoutCancel(ctx), held); err != nil {
			s.log.Error("lock release failed", "keys", held, "err", err)
		}
	}()

	cacheVersions, err := s.cache.Versions(ctx, userIDs)
	if err != nil {
		return storeFailure("read cached versions", err)
	}

	batchID := uuid.NewString()
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	var published []cache.Entry
	err = s.ledger.WithTx(txCtx, func(tx repo.LedgerTx) error {
		var err error
		published, err = s.apply(txCtx, tx, actor, batchID, req, userIDs, cacheVersions)
		return err
	})
	if err != nil {
		if !isLedgerError(err) {
			err = storeFailure("commit", err)
		}
		return err
	}

	s.log.Info("batch committed", "batch_id", batchID, "users", userIDs, "entries", len(req.Transactions))

	// The store has advanced; a stale cache is reconciled by the next batch.
	// The caller going away must not skip the publish.
	if err := s.cache.Publish(context.WithoutCancel(ctx), published); err != nil {
		s.log.Error("cache publish failed after commit", "batch_id", batchID, "err", err)
	}
	return nil
}

// apply is the body of the durable transaction. Nothing is written until
// every entry has been replayed against the locked rows.
func (s *TransactionService) apply(ctx context.Context, tx repo.LedgerTx, actor, batchID string, req models.BatchRequest, userIDs []string, cacheVersions map[string]int64) ([]cache.Entry, error) {
	rows := make(map[string]models.UserBalance, len(userIDs))
	running := make(map[string]decimal.Decimal, len(userIDs))
	for _, id := range userIDs {
		b, _, err := tx.LockBalance(ctx, id)
		if err != nil {
			return nil, storeFailure("lock balance "+id, err)
		}
		v, err := ReconcileVersion(s.log, id, cacheVersions[id], b.Version)
		if err != nil {
			return nil, err
		}
		b.Version = v
		rows[id] = b
		running[id] = b.Balance
	}

	entries := make([]models.BalanceTransaction, 0, len(req.Transactions))
	for _, e := range req.Transactions {
		next := running[e.UserID].Add(e.Amount)
		if req.CheckBalance && next.IsNegative() {
			return nil, &InsufficientBalanceError{UserID: e.UserID, Balance: next}
		}
		if !withinLimit(next) {
			return nil, fmt.Errorf("%w: balance of %s would reach %s", ErrInvalidBatch, e.UserID, next)
		}
		running[e.UserID] = next
		entries = append(entries, models.BalanceTransaction{
			BatchID:       batchID,
			UserID:        e.UserID,
			Amount:        e.Amount,
			EndingBalance: next,
		})
	}

	for _, t := range entries {
		if err := tx.InsertTransaction(ctx, actor, t); err != nil {
			return nil, storeFailure("insert transaction", err)
		}
	}

	out := make([]cache.Entry, 0, len(userIDs))
	for _, id := range userIDs {
		b := rows[id]
		b.Balance = running[id]
		b.Version++
		if err := tx.SaveBalance(ctx, actor, b); err != nil {
			return nil, storeFailure("save balance "+id, err)
		}
		out = append(out, cache.Entry{UserID: id, Balance: b.Balance, Version: b.Version})
	}

	if err := tx.InsertAuditLog(ctx, models.AuditLog{
		EntityType: "balance_batch",
		EntityID:   &batchID,
		Action:     "committed",
		Actor:      actor,
		Details: map[string]any{
			"users":         userIDs,
			"entries":       len(entries),
			"check_balance": req.CheckBalance,
		},
	}); err != nil {
		return nil, storeFailure("insert audit log", err)
	}
	return out, nil
}

func isLedgerError(err error) bool {
	return errors.Is(err, ErrStoreFailure) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrVersionInconsistency) ||
		errors.Is(err, ErrInvalidBatch) ||
		errors.Is(err, ErrCacheCorrupt)
}
