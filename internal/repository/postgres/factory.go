package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	repo "github.com/baharkarakas/balance-ledger/internal/repository"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repositories struct {
	Ledger repo.Ledger
	Users  repo.Users
}

func NewRepositories(db DB) Repositories {
	return Repositories{
		Ledger: &ledgerRepo{db},
		Users:  &usersRepo{db},
	}
}
