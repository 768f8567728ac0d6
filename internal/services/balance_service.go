package services

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/balance-ledger/internal/cache"
	"github.com/baharkarakas/balance-ledger/internal/metrics"
	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
)

type BalanceService struct {
	ledger repo.Ledger
	cache  *cache.BalanceCache
	log    *slog.Logger
}

func NewBalanceService(l repo.Ledger, c *cache.BalanceCache, log *slog.Logger) *BalanceService {
	if log == nil {
		log = slog.Default()
	}
	return &BalanceService{ledger: l, cache: c, log: log}
}

// GetBalance is a cache-aside read. A miss falls back to the store and does
// not populate the cache; the next committed batch does that.
func (s *BalanceService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, ok, err := s.cache.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, storeFailure("read cached balance", err)
	}
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return bal, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	b, _, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, storeFailure("read balance", err)
	}
	return b.Balance, nil
}

func (s *BalanceService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.BalanceTransaction, error) {
	out, err := s.ledger.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeFailure("list transactions", err)
	}
	return out, nil
}

// LedgerReport is the result of replaying one user's transaction log.
type LedgerReport struct {
	UserID        string          `json:"user_id"`
	Entries       int             `json:"entries"`
	Balance       decimal.Decimal `json:"balance"`
	Version       int64           `json:"version"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Consistent    bool            `json:"consistent"`
	// MismatchSeq is the first entry whose ending balance disagrees with the
	// running sum, or 0.
	MismatchSeq int64 `json:"mismatch_seq,omitempty"`
}

// VerifyLedger replays the user's entries in insertion order and compares
// every ending balance, and the last one, with the stored balance.
func (s *BalanceService) VerifyLedger(ctx context.Context, userID string) (LedgerReport, error) {
	b, _, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return LedgerReport{}, storeFailure("read balance", err)
	}
	txns, err := s.ledger.ListTransactions(ctx, userID, 0, 0)
	if err != nil {
		return LedgerReport{}, storeFailure("list transactions", err)
	}

	rep := LedgerReport{UserID: userID, Entries: len(txns), Balance: b.Balance, Version: b.Version, Consistent: true}
	sum := decimal.Zero
	for _, t := range txns {
		sum = sum.Add(t.Amount)
		if !sum.Equal(t.EndingBalance) && rep.MismatchSeq == 0 {
			rep.MismatchSeq = t.Seq
			rep.Consistent = false
		}
	}
	rep.LedgerBalance = sum
	if len(txns) > 0 && !txns[len(txns)-1].EndingBalance.Equal(b.Balance) {
		rep.Consistent = false
	}
	if len(txns) == 0 && !b.Balance.IsZero() {
		rep.Consistent = false
	}
	if !rep.Consistent {
		s.log.Error("ledger replay mismatch", "user_id", userID, "balance", b.Balance, "ledger_balance", sum, "mismatch_seq", rep.MismatchSeq)
	}
	return rep, nil
}
