package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance is the authoritative per-user balance row. Version grows by
// exactly one for every committed batch that touches the user.
type UserBalance struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	Version        int64           `json:"version"`
	CreatedBy      string          `json:"created_by,omitempty"`
	LastModifiedBy string          `json:"last_modified_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ZeroBalance is what a user without a row looks like.
func ZeroBalance(userID string) UserBalance {
	return UserBalance{UserID: userID, Balance: decimal.Zero}
}
