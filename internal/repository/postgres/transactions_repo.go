package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
)

type ledgerRepo struct{ db DB }

// ledgerTx is the write side of one serializable transaction.
type ledgerTx struct{ tx pgx.Tx }

func (r *ledgerRepo) WithTx(ctx context.Context, fn func(repo.LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(&ledgerTx{tx}); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	return tx.Commit(ctx)
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, actor string, bt models.BalanceTransaction) error {
	if bt.ID == "" {
		bt.ID = uuid.NewString()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO balance_transactions(id, batch_id, user_id, amount, ending_balance, created_by, last_modified_by)
		 VALUES($1, $2, $3, $4::numeric, $5::numeric, $6, $6)`,
		bt.ID, bt.BatchID, bt.UserID, bt.Amount.String(), bt.EndingBalance.String(), actor,
	)
	return err
}

func (r *ledgerRepo) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.BalanceTransaction, error) {
	// a NULL limit is LIMIT ALL
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, seq, batch_id, user_id, amount::text, ending_balance::text,
		        COALESCE(created_by, ''), COALESCE(last_modified_by, ''), created_at
		   FROM balance_transactions
		  WHERE user_id=$1
		  ORDER BY seq
		  LIMIT $2 OFFSET $3`,
		userID, lim, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BalanceTransaction
	for rows.Next() {
		var (
			bt             models.BalanceTransaction
			amount, ending string
		)
		if err := rows.Scan(&bt.ID, &bt.Seq, &bt.BatchID, &bt.UserID, &amount, &ending,
			&bt.CreatedBy, &bt.LastModifiedBy, &bt.CreatedAt); err != nil {
			return nil, err
		}
		if bt.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", bt.ID, err)
		}
		if bt.EndingBalance, err = decimal.NewFromString(ending); err != nil {
			return nil, fmt.Errorf("transaction %s ending balance: %w", bt.ID, err)
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}
