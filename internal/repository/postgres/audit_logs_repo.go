package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/baharkarakas/balance-ledger/internal/models"
)

func (t *ledgerTx) InsertAuditLog(ctx context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_logs(id, entity_type, entity_id, action, actor, details) VALUES($1,$2,$3,$4,$5,$6)`,
		l.ID, l.EntityType, l.EntityID, l.Action, l.Actor, l.Details,
	)
	return err
}
