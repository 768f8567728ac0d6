package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/balance-ledger/internal/cache"
	"github.com/baharkarakas/balance-ledger/internal/config"
	"github.com/baharkarakas/balance-ledger/internal/lock"
	"github.com/baharkarakas/balance-ledger/internal/metrics"
	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
	"github.com/baharkarakas/balance-ledger/internal/repository/memory"
	"github.com/baharkarakas/balance-ledger/internal/worker"
)

type harness struct {
	mr    *miniredis.Miniredis
	store *memory.Store
	cache *cache.BalanceCache
	txs   *TransactionService
	bal   *BalanceService
}

func testConfig() config.Config {
	return config.Config{
		LockTTL:      5 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		TxTimeout:    3 * time.Second,
		DefaultActor: "admin",
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, cfg config.Config, wrap func(repo.Ledger) repo.Ledger, wp *worker.Pool) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	var ledger repo.Ledger = store
	if wrap != nil {
		ledger = wrap(store)
	}
	c := cache.NewBalanceCache(rdb)
	return &harness{
		mr:    mr,
		store: store,
		cache: c,
		txs:   NewTransactionService(ledger, lock.NewManager(rdb, cfg.LockTTL), c, wp, cfg, discard()),
		bal:   NewBalanceService(ledger, c, discard()),
	}
}

func batch(check bool, entries ...models.BatchEntry) models.BatchRequest {
	return models.BatchRequest{Transactions: entries, CheckBalance: check}
}

func entry(userID string, amount int64) models.BatchEntry {
	return models.BatchEntry{UserID: userID, Amount: decimal.NewFromInt(amount)}
}

func (h *harness) balance(t *testing.T, userID string) models.UserBalance {
	t.Helper()
	b, _, err := h.store.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (h *harness) ledgerOf(t *testing.T, userID string) []models.BalanceTransaction {
	t.Helper()
	out, err := h.store.ListTransactions(context.Background(), userID, 0, 0)
	require.NoError(t, err)
	return out
}

func (h *harness) cached(t *testing.T, key string) string {
	t.Helper()
	v, err := h.mr.Get(key)
	require.NoError(t, err)
	return v
}

func (h *harness) assertNoLocks(t *testing.T, userIDs ...string) {
	t.Helper()
	for _, id := range userIDs {
		assert.False(t, h.mr.Exists(lock.Key(id)), "lock for %s still held", id)
	}
}

func TestFirstCreditCommits(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()

	require.NoError(t, h.txs.IssueTransactions(ctx, "alice", batch(true, entry("u1", 100))))

	b := h.balance(t, "u1")
	assert.True(t, decimal.NewFromInt(100).Equal(b.Balance))
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, "alice", b.CreatedBy)

	txns := h.ledgerOf(t, "u1")
	require.Len(t, txns, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(txns[0].EndingBalance))
	assert.Equal(t, "alice", txns[0].CreatedBy)

	assert.Equal(t, "100", h.cached(t, cache.BalanceKey("u1")))
	assert.Equal(t, "1", h.cached(t, cache.VersionKey("u1")))
	h.assertNoLocks(t, "u1")

	logs := h.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "balance_batch", logs[0].EntityType)
	assert.Equal(t, "alice", logs[0].Actor)
}

func TestOverdraftIsRejectedWithoutRetry(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 100))))

	before := testutil.ToFloat64(metrics.BatchAttempts)
	err := h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", -150)))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrTransactionAborted)
	var ib *InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, "u1", ib.UserID)
	assert.True(t, decimal.NewFromInt(-50).Equal(ib.Balance))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchAttempts)-before)

	b := h.balance(t, "u1")
	assert.True(t, decimal.NewFromInt(100).Equal(b.Balance))
	assert.Equal(t, int64(1), b.Version)
	assert.Len(t, h.ledgerOf(t, "u1"), 1)
	h.assertNoLocks(t, "u1")
}

func TestNoPartialApplicationAcrossUsers(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u2", 10))))

	err := h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 50), entry("u2", -20)))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, found, err := h.store.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, h.ledgerOf(t, "u1"))
	assert.True(t, decimal.NewFromInt(10).Equal(h.balance(t, "u2").Balance))
	assert.Len(t, h.ledgerOf(t, "u2"), 1)
	assert.Len(t, h.store.AuditLogs(), 1)
	h.assertNoLocks(t, "u1", "u2")
}

func TestCheckBalanceOffAllowsNegative(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	require.NoError(t, h.txs.IssueTransactions(context.Background(), "", batch(false, entry("u1", -30))))
	assert.True(t, decimal.NewFromInt(-30).Equal(h.balance(t, "u1").Balance))
}

func TestVersionIncrementsOncePerBatch(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	err := h.txs.IssueTransactions(context.Background(), "",
		batch(true, entry("u1", 10), entry("u1", 20), entry("u1", -5), entry("u2", 1)))
	require.NoError(t, err)

	b := h.balance(t, "u1")
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, decimal.NewFromInt(25).Equal(b.Balance))

	txns := h.ledgerOf(t, "u1")
	require.Len(t, txns, 3)
	for i, want := range []int64{10, 30, 25} {
		assert.True(t, decimal.NewFromInt(want).Equal(txns[i].EndingBalance), "entry %d", i)
	}
	assert.Equal(t, int64(1), h.balance(t, "u2").Version)
}

func TestIntraBatchOverdraftIsCheckedInOrder(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	err := h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", -5), entry("u1", 10)))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, h.ledgerOf(t, "u1"))
}

func TestStaleCacheIsReconciledFromStore(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 100))))
	require.NoError(t, h.mr.Set(cache.VersionKey("u1"), "0"))

	stale := testutil.ToFloat64(metrics.CacheStale)
	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 5))))

	assert.Equal(t, int64(2), h.balance(t, "u1").Version)
	assert.Equal(t, "2", h.cached(t, cache.VersionKey("u1")))
	assert.Equal(t, "105", h.cached(t, cache.BalanceKey("u1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheStale)-stale)
}

func TestEvictedCacheIsReconciledFromStore(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 100))))
	h.mr.FlushAll()

	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", -40))))
	assert.Equal(t, "2", h.cached(t, cache.VersionKey("u1")))
	assert.Equal(t, "60", h.cached(t, cache.BalanceKey("u1")))
}

func TestCacheAheadOfStoreFails(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 100))))
	require.NoError(t, h.mr.Set(cache.VersionKey("u1"), "2"))

	before := testutil.ToFloat64(metrics.BatchAttempts)
	err := h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 1), entry("u2", 1)))
	assert.ErrorIs(t, err, ErrVersionInconsistency)
	var vi *VersionInconsistencyError
	require.ErrorAs(t, err, &vi)
	assert.Equal(t, VersionInconsistencyError{UserID: "u1", CacheVersion: 2, StoreVersion: 1}, *vi)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchAttempts)-before)

	b := h.balance(t, "u1")
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, decimal.NewFromInt(100).Equal(b.Balance))
	assert.Len(t, h.ledgerOf(t, "u1"), 1)
	assert.Empty(t, h.ledgerOf(t, "u2"))
	assert.Equal(t, "2", h.cached(t, cache.VersionKey("u1")))
	h.assertNoLocks(t, "u1", "u2")
}

func TestHeldLockExhaustsRetries(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	require.NoError(t, h.mr.Set(lock.Key("u2"), "1"))

	before := testutil.ToFloat64(metrics.BatchAttempts)
	err := h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 1), entry("u2", 1)))
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.ErrorIs(t, err, ErrLockAcquisition)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.BatchAttempts)-before)

	h.assertNoLocks(t, "u1")
	assert.True(t, h.mr.Exists(lock.Key("u2")))
	_, found, _ := h.store.GetBalance(context.Background(), "u1")
	assert.False(t, found)
}

func TestLockFreedBetweenAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 5
	cfg.RetryBackoff = 20 * time.Millisecond
	h := newHarness(t, cfg, nil, nil)
	require.NoError(t, h.mr.Set(lock.Key("u1"), "1"))
	h.mr.SetTTL(lock.Key("u1"), 5*time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.mr.Del(lock.Key("u1"))
	}()
	require.NoError(t, h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 7))))
	assert.True(t, decimal.NewFromInt(7).Equal(h.balance(t, "u1").Balance))
}

// flakyLedger fails the first n transactions with err.
type flakyLedger struct {
	repo.Ledger
	n   atomic.Int32
	err error
}

func (f *flakyLedger) WithTx(ctx context.Context, fn func(repo.LedgerTx) error) error {
	if f.n.Add(-1) >= 0 {
		return f.err
	}
	return f.Ledger.WithTx(ctx, fn)
}

func flaky(n int32, err error) func(repo.Ledger) repo.Ledger {
	return func(l repo.Ledger) repo.Ledger {
		f := &flakyLedger{Ledger: l, err: err}
		f.n.Store(n)
		return f
	}
}

func TestTransientStoreFailureIsRetried(t *testing.T) {
	h := newHarness(t, testConfig(), flaky(2, errors.New("connection reset")), nil)

	before := testutil.ToFloat64(metrics.BatchAttempts)
	require.NoError(t, h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 100))))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.BatchAttempts)-before)

	b := h.balance(t, "u1")
	assert.Equal(t, int64(1), b.Version)
	assert.Len(t, h.ledgerOf(t, "u1"), 1)
	h.assertNoLocks(t, "u1")
}

func TestPersistentStoreFailureAborts(t *testing.T) {
	cause := errors.New("connection refused")
	h := newHarness(t, testConfig(), flaky(10, cause), nil)

	err := h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 100)))
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 3 attempts")
	h.assertNoLocks(t, "u1")
}

func TestStoreDataErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, testConfig(), flaky(100, &pgconn.PgError{Code: "22003", Message: "numeric field overflow"}), nil)

	before := testutil.ToFloat64(metrics.BatchAttempts)
	err := h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 100)))
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.NotErrorIs(t, err, ErrTransactionAborted)
	assert.NotErrorIs(t, err, ErrStoreFailure)
	assert.False(t, Retriable(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchAttempts)-before)
	h.assertNoLocks(t, "u1")
}

func TestAmountBeyondStoredDigitsIsRejected(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	huge := models.BatchEntry{UserID: "u1", Amount: decimal.RequireFromString("1e30")}

	before := testutil.ToFloat64(metrics.BatchAttempts)
	err := h.txs.IssueTransactions(context.Background(), "", batch(false, huge))
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BatchAttempts)-before)
	assert.Empty(t, h.ledgerOf(t, "u1"))
}

func TestRunningBalanceBeyondStoredDigitsIsRejected(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()
	big := models.BatchEntry{UserID: "u1", Amount: decimal.RequireFromString("900000000000000000")}
	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, big)))

	before := testutil.ToFloat64(metrics.BatchAttempts)
	err := h.txs.IssueTransactions(ctx, "", batch(true, big))
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.NotErrorIs(t, err, ErrTransactionAborted)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchAttempts)-before)

	b := h.balance(t, "u1")
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, big.Amount.Equal(b.Balance))
	assert.Len(t, h.ledgerOf(t, "u1"), 1)
	h.assertNoLocks(t, "u1")
}

func TestCorruptCachedVersionIsNotRetried(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	require.NoError(t, h.mr.Set(cache.VersionKey("u1"), "garbage"))

	before := testutil.ToFloat64(metrics.BatchAttempts)
	err := h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 1)))
	assert.ErrorIs(t, err, ErrCacheCorrupt)
	assert.ErrorIs(t, err, cache.ErrCorrupt)
	assert.NotErrorIs(t, err, ErrTransactionAborted)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchAttempts)-before)

	_, found, _ := h.store.GetBalance(context.Background(), "u1")
	assert.False(t, found)
	h.assertNoLocks(t, "u1")
}

// failingPipeline serves reads and single commands but fails every pipeline.
type failingPipeline struct{ redis.Cmdable }

func (failingPipeline) Pipelined(context.Context, func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return nil, errors.New("cache unavailable")
}

func TestPublishFailureKeepsCommitAndReconcilesLater(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, nil, nil)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	broken := NewTransactionService(h.store, lock.NewManager(rdb, cfg.LockTTL),
		cache.NewBalanceCache(failingPipeline{rdb}), nil, cfg, discard())

	before := testutil.ToFloat64(metrics.BatchAttempts)
	require.NoError(t, broken.IssueTransactions(ctx, "", batch(true, entry("u1", 100))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchAttempts)-before)

	assert.Equal(t, int64(1), h.balance(t, "u1").Version)
	assert.Len(t, h.ledgerOf(t, "u1"), 1)
	assert.False(t, h.mr.Exists(cache.VersionKey("u1")))
	v, err := h.cache.Versions(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), v["u1"])
	h.assertNoLocks(t, "u1")

	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 5))))
	assert.Equal(t, int64(2), h.balance(t, "u1").Version)
	assert.Equal(t, "2", h.cached(t, cache.VersionKey("u1")))
	assert.Equal(t, "105", h.cached(t, cache.BalanceKey("u1")))
}

// cancelAfterCommit cancels the caller's context as soon as a transaction
// commits, like a client hanging up right after the write.
type cancelAfterCommit struct {
	repo.Ledger
	cancel context.CancelFunc
}

func (c cancelAfterCommit) WithTx(ctx context.Context, fn func(repo.LedgerTx) error) error {
	err := c.Ledger.WithTx(ctx, fn)
	if err == nil {
		c.cancel()
	}
	return err
}

func TestPublishSurvivesCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, testConfig(), func(l repo.Ledger) repo.Ledger {
		return cancelAfterCommit{Ledger: l, cancel: cancel}
	}, nil)

	require.NoError(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("u1", 100))))
	require.Error(t, ctx.Err())
	assert.Equal(t, "1", h.cached(t, cache.VersionKey("u1")))
	assert.Equal(t, "100", h.cached(t, cache.BalanceKey("u1")))
	h.assertNoLocks(t, "u1")
}

// slowLedger runs every transaction only once its deadline has passed.
type slowLedger struct{ repo.Ledger }

func (s slowLedger) WithTx(ctx context.Context, fn func(repo.LedgerTx) error) error {
	<-ctx.Done()
	return s.Ledger.WithTx(ctx, fn)
}

func TestTransactionDeadlineRollsBack(t *testing.T) {
	cfg := testConfig()
	cfg.TxTimeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2
	h := newHarness(t, cfg, func(l repo.Ledger) repo.Ledger { return slowLedger{l} }, nil)

	err := h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 100)))
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.ledgerOf(t, "u1"))
	_, found, _ := h.store.GetBalance(context.Background(), "u1")
	assert.False(t, found)
}

func TestInvalidBatch(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	ctx := context.Background()
	assert.ErrorIs(t, h.txs.IssueTransactions(ctx, "", batch(true)), ErrInvalidBatch)
	assert.ErrorIs(t, h.txs.IssueTransactions(ctx, "", batch(true, entry("", 5))), ErrInvalidBatch)
}

func TestDefaultActor(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	require.NoError(t, h.txs.IssueTransactions(context.Background(), "", batch(true, entry("u1", 1))))
	assert.Equal(t, "admin", h.balance(t, "u1").LastModifiedBy)
	assert.Equal(t, "admin", h.store.AuditLogs()[0].Actor)
}

func TestConcurrentBatchesKeepLedgerConsistent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 100
	wp := worker.NewPool(4)
	defer wp.Stop()
	h := newHarness(t, cfg, nil, wp)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		committed atomic.Int64
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			users := []models.BatchEntry{entry("u1", 1), entry("u2", 2)}
			if i%2 == 1 {
				users[0], users[1] = users[1], users[0]
			}
			if h.txs.IssueTransactions(ctx, "", batch(true, users...)) == nil {
				committed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	n := committed.Load()
	require.Positive(t, n)
	u1, u2 := h.balance(t, "u1"), h.balance(t, "u2")
	assert.Equal(t, n, u1.Version)
	assert.Equal(t, n, u2.Version)
	assert.True(t, decimal.NewFromInt(n).Equal(u1.Balance))
	assert.True(t, decimal.NewFromInt(2*n).Equal(u2.Balance))

	for _, id := range []string{"u1", "u2"} {
		rep, err := h.bal.VerifyLedger(ctx, id)
		require.NoError(t, err)
		assert.True(t, rep.Consistent, id)
		v, err := h.cache.Versions(ctx, []string{id})
		require.NoError(t, err)
		assert.LessOrEqual(t, v[id], h.balance(t, id).Version)
	}
	h.assertNoLocks(t, "u1", "u2")
}
