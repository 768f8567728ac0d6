package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceTransaction is an immutable ledger entry.
type BalanceTransaction struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	BatchID        string          `json:"batch_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	EndingBalance  decimal.Decimal `json:"ending_balance"`
	CreatedBy      string          `json:"created_by,omitempty"`
	LastModifiedBy string          `json:"last_modified_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type BatchEntry struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type BatchRequest struct {
	Transactions []BatchEntry `json:"transactions"`
	CheckBalance bool         `json:"checkBalance"`
}

// UserIDs returns the distinct user ids of the batch in lexicographic order.
func (r BatchRequest) UserIDs() []string {
	seen := make(map[string]struct{}, len(r.Transactions))
	ids := make([]string, 0, len(r.Transactions))
	for _, e := range r.Transactions {
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		ids = append(ids, e.UserID)
	}
	sort.Strings(ids)
	return ids
}
