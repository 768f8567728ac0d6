package repository

import (
	"context"
	"errors"

	"github.com/baharkarakas/balance-ledger/internal/models"
)

var (
	ErrNotFound      = errors.New("repository: not found")
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrConflict means a balance row changed under a transaction that expected
	// to hold its lock.
	ErrConflict = errors.New("repository: concurrent balance update")
)

// Ledger is the durable store of balances and the append-only transaction log.
type Ledger interface {
	// WithTx runs fn in one durable transaction. A non-nil error from fn, or a
	// failed commit, rolls back every write made through the LedgerTx.
	WithTx(ctx context.Context, fn func(LedgerTx) error) error

	// GetBalance is a plain read; found is false when the user has no row.
	GetBalance(ctx context.Context, userID string) (b models.UserBalance, found bool, err error)

	// ListTransactions returns the user's ledger in insertion order.
	// limit <= 0 returns every row.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.BalanceTransaction, error)
}

// LedgerTx is the write side, only reachable inside Ledger.WithTx.
type LedgerTx interface {
	// LockBalance reads the row under an exclusive row lock held until the
	// transaction ends.
	LockBalance(ctx context.Context, userID string) (b models.UserBalance, found bool, err error)
	InsertTransaction(ctx context.Context, actor string, t models.BalanceTransaction) error
	// SaveBalance inserts the row when b.ID is empty (the user had none) and
	// otherwise overwrites balance and version, guarded on b.Version-1.
	SaveBalance(ctx context.Context, actor string, b models.UserBalance) error
	InsertAuditLog(ctx context.Context, l models.AuditLog) error
}

type Users interface {
	Create(ctx context.Context, actor string, u models.User) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
}
