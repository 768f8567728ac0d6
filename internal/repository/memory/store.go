// Package memory is a process-local ledger store. It backs STORE_DRIVER=memory
// and the service tests; transactions are serialized by a single store-wide
// lock, which is a coarser form of the row lock the postgres store takes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
)

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	balances map[string]models.UserBalance
	txns     []models.BalanceTransaction
	audit    []models.AuditLog
	users    map[string]models.User
	seq      int64
}

func New() *Store {
	return &Store{
		balances: make(map[string]models.UserBalance),
		users:    make(map[string]models.User),
	}
}

var (
	_ repo.Ledger = (*Store)(nil)
	_ repo.Users  = (*Store)(nil)
)

// ---------- ledger ----------

func (s *Store) WithTx(ctx context.Context, fn func(repo.LedgerTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{store: s, balances: make(map[string]models.UserBalance)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, b := range tx.balances {
		if prev, ok := s.balances[id]; ok {
			b.ID, b.CreatedBy, b.CreatedAt = prev.ID, prev.CreatedBy, prev.CreatedAt
		} else {
			b.ID = uuid.NewString()
			b.CreatedAt = now
		}
		b.UpdatedAt = now
		s.balances[id] = b
	}
	for _, t := range tx.txns {
		s.seq++
		t.Seq = s.seq
		t.CreatedAt = now
		s.txns = append(s.txns, t)
	}
	for _, l := range tx.audit {
		l.CreatedAt = now
		s.audit = append(s.audit, l)
	}
}

func (s *Store) GetBalance(_ context.Context, userID string) (models.UserBalance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return models.ZeroBalance(userID), false, nil
	}
	return b, true, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit, offset int) ([]models.BalanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BalanceTransaction
	for _, t := range s.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// AuditLogs returns a copy of the committed audit entries.
func (s *Store) AuditLogs() []models.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditLog(nil), s.audit...)
}

// SetBalance overwrites a row outside of any batch, the way an operator or a
// migration script would.
func (s *Store) SetBalance(b models.UserBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	s.balances[b.UserID] = b
}

type memTx struct {
	store    *Store
	balances map[string]models.UserBalance
	txns     []models.BalanceTransaction
	audit    []models.AuditLog
}

func (t *memTx) LockBalance(ctx context.Context, userID string) (models.UserBalance, bool, error) {
	if b, ok := t.balances[userID]; ok {
		return b, true, nil
	}
	return t.store.GetBalance(ctx, userID)
}

func (t *memTx) InsertTransaction(_ context.Context, actor string, bt models.BalanceTransaction) error {
	if bt.ID == "" {
		bt.ID = uuid.NewString()
	}
	bt.CreatedBy, bt.LastModifiedBy = actor, actor
	t.txns = append(t.txns, bt)
	return nil
}

func (t *memTx) SaveBalance(ctx context.Context, actor string, b models.UserBalance) error {
	cur, exists, _ := t.store.GetBalance(ctx, b.UserID)
	if b.ID == "" && exists {
		return repo.ErrConflict
	}
	if b.ID != "" && (!exists || cur.Version != b.Version-1) {
		return repo.ErrConflict
	}
	if b.CreatedBy == "" {
		b.CreatedBy = actor
	}
	b.LastModifiedBy = actor
	t.balances[b.UserID] = b
	return nil
}

func (t *memTx) InsertAuditLog(_ context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	t.audit = append(t.audit, l)
	return nil
}

// ---------- users ----------

func (s *Store) Create(_ context.Context, actor string, u models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return models.User{}, repo.ErrAlreadyExists
		}
	}
	now := time.Now()
	u.ID = uuid.NewString()
	u.IsActive = true
	u.CreatedBy, u.LastModifiedBy = actor, actor
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, repo.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repo.ErrNotFound
}
