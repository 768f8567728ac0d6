package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
)

const selectBalance = `SELECT id, user_id, balance::text, version,
        COALESCE(created_by, ''), COALESCE(last_modified_by, ''), created_at, updated_at
   FROM user_balances
  WHERE user_id=$1`

func (r *ledgerRepo) GetBalance(ctx context.Context, userID string) (models.UserBalance, bool, error) {
	return scanBalance(r.db.QueryRow(ctx, selectBalance, userID), userID)
}

func (t *ledgerTx) LockBalance(ctx context.Context, userID string) (models.UserBalance, bool, error) {
	return scanBalance(t.tx.QueryRow(ctx, selectBalance+` FOR UPDATE`, userID), userID)
}

func scanBalance(row pgx.Row, userID string) (models.UserBalance, bool, error) {
	var (
		b   models.UserBalance
		raw string
	)
	err := row.Scan(&b.ID, &b.UserID, &raw, &b.Version, &b.CreatedBy, &b.LastModifiedBy, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ZeroBalance(userID), false, nil
	}
	if err != nil {
		return models.UserBalance{}, false, err
	}
	if b.Balance, err = decimal.NewFromString(raw); err != nil {
		return models.UserBalance{}, false, fmt.Errorf("balance of %s: %w", userID, err)
	}
	return b, true, nil
}

func (t *ledgerTx) SaveBalance(ctx context.Context, actor string, b models.UserBalance) error {
	if b.ID == "" {
		// a concurrent first insert for the same user trips the unique key
		_, err := t.tx.Exec(ctx,
			`INSERT INTO user_balances(id, user_id, balance, version, created_by, last_modified_by)
			 VALUES($1, $2, $3::numeric, $4, $5, $5)`,
			uuid.NewString(), b.UserID, b.Balance.String(), b.Version, actor,
		)
		if isUniqueViolation(err) {
			return repo.ErrConflict
		}
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE user_balances
		    SET balance = $2::numeric,
		        version = $3,
		        last_modified_by = $4,
		        updated_at = now()
		  WHERE user_id = $1 AND version = $3 - 1`,
		b.UserID, b.Balance.String(), b.Version, actor,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrConflict
	}
	return nil
}
