package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
)

type usersRepo struct{ db DB }

const selectUser = `SELECT id, username, email, password_hash, role, is_active,
        COALESCE(created_by, ''), COALESCE(last_modified_by, ''), created_at, updated_at
   FROM users`

func (r *usersRepo) Create(ctx context.Context, actor string, u models.User) (models.User, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(ctx,
		`INSERT INTO users(id, username, email, password_hash, role, created_by, last_modified_by)
		 VALUES($1,$2,$3,$4,$5,$6,$6)`,
		id, u.Username, u.Email, u.PasswordHash, u.Role, actor,
	)
	if isUniqueViolation(err) {
		return models.User{}, repo.ErrAlreadyExists
	}
	if err != nil {
		return models.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *usersRepo) GetByID(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+` WHERE id=$1`, id))
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+` WHERE email=$1`, email))
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive,
		&u.CreatedBy, &u.LastModifiedBy, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, repo.ErrNotFound
	}
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
