package credit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAllowance = int64(1800)

func testLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l := NewLedger(store, testAllowance)
	// Mid-week instant, far from a reset boundary.
	l.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return l, store
}

func TestLedger_NewIdentityStartsWithAllowance(t *testing.T) {
	l, _ := testLedger(t)
	b, err := l.Balance(context.Background(), Anonymous("device-1"))
	require.NoError(t, err)
	assert.Equal(t, testAllowance, b.RemainingSeconds)
	assert.Equal(t, testAllowance, b.WeeklyAllowanceSeconds)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), b.LastResetAt)
}

func TestLedger_DebitReducesBalance(t *testing.T) {
	l, _ := testLedger(t)
	id := Anonymous("device-1")

	require.NoError(t, l.Debit(context.Background(), id, 60))

	b, err := l.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, testAllowance-60, b.RemainingSeconds)
}

func TestLedger_DebitBeyondBalanceDenied(t *testing.T) {
	l, _ := testLedger(t)
	id := Anonymous("device-1")

	err := l.Debit(context.Background(), id, testAllowance+1)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	var insErr *InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, testAllowance, insErr.RemainingSeconds)
	assert.Equal(t, testAllowance+1, insErr.RequiredSeconds)

	// Balance untouched by the denied debit.
	b, err := l.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, testAllowance, b.RemainingSeconds)
}

func TestLedger_ConcurrentDebitsNeverOverspend(t *testing.T) {
	store := NewMemoryStore()
	l := NewLedger(store, 60)
	l.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	id := Anonymous("device-1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Debit(context.Background(), id, 40)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of two 40s debits against 60s may succeed")

	b, err := l.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.RemainingSeconds)
}

func TestLedger_WeeklyReset(t *testing.T) {
	l, _ := testLedger(t)
	id := Anonymous("device-1")

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Debit(context.Background(), id, 1700))
	b, _ := l.Balance(context.Background(), id)
	assert.Equal(t, int64(100), b.RemainingSeconds)

	// Next Monday: balance returns to the full allowance.
	now = time.Date(2026, 8, 31, 0, 0, 1, 0, time.UTC)
	require.NoError(t, l.Debit(context.Background(), id, 30))
	b, _ = l.Balance(context.Background(), id)
	assert.Equal(t, testAllowance-30, b.RemainingSeconds)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), b.LastResetAt)

	// Same period again: no second reset.
	now = time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	b, _ = l.Balance(context.Background(), id)
	assert.Equal(t, testAllowance-30, b.RemainingSeconds)
}

func TestLedger_ResetAnchorNeverMovesBackwards(t *testing.T) {
	l, _ := testLedger(t)
	id := Anonymous("device-1")

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	require.NoError(t, l.Debit(context.Background(), id, 100))

	// Clock skew backwards: no reset, balance unchanged.
	now = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	b, err := l.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, testAllowance-100, b.RemainingSeconds)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), b.LastResetAt)
}

func TestLedger_MigrateAddsRemainderOnce(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()
	anon := Anonymous("device-1")
	acct := Account("user-1")

	// anon: 45s left, account: 100s left.
	require.NoError(t, l.Debit(ctx, anon, testAllowance-45))
	require.NoError(t, l.Debit(ctx, acct, testAllowance-100))

	require.NoError(t, l.Migrate(ctx, anon, acct))

	b, err := l.Balance(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, int64(145), b.RemainingSeconds)

	// Replay is a no-op even though the anon row is gone.
	require.NoError(t, l.Migrate(ctx, anon, acct))
	b, err = l.Balance(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, int64(145), b.RemainingSeconds)
}

func TestLedger_MigrateDeletesAnonymousRow(t *testing.T) {
	l, store := testLedger(t)
	ctx := context.Background()
	anon := Anonymous("device-1")
	acct := Account("user-1")

	require.NoError(t, l.Debit(ctx, anon, 10))
	require.NoError(t, l.Migrate(ctx, anon, acct))

	_, err := store.View(ctx, anon.Key())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_MigrateWithoutAnonBalance(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()
	anon := Anonymous("never-used")
	acct := Account("user-1")

	require.NoError(t, l.Migrate(ctx, anon, acct))

	b, err := l.Balance(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, testAllowance, b.RemainingSeconds)
}

func TestLedger_MigrateRejectsWrongKinds(t *testing.T) {
	l, _ := testLedger(t)
	err := l.Migrate(context.Background(), Account("a"), Account("b"))
	assert.Error(t, err)
}

func TestLedger_CreditOnce(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()
	id := Account("user-1")

	applied, err := l.CreditOnce(ctx, id, 1800, "txn-100", "credits.minutes.30")
	require.NoError(t, err)
	assert.True(t, applied)

	b, _ := l.Balance(ctx, id)
	assert.Equal(t, testAllowance+1800, b.RemainingSeconds)

	// Replayed transaction ID credits nothing.
	applied, err = l.CreditOnce(ctx, id, 1800, "txn-100", "credits.minutes.30")
	require.NoError(t, err)
	assert.False(t, applied)

	b, _ = l.Balance(ctx, id)
	assert.Equal(t, testAllowance+1800, b.RemainingSeconds)
}

func TestLedger_RefundClampsNonPositive(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()
	id := Anonymous("device-1")

	require.NoError(t, l.Debit(ctx, id, 60))
	require.NoError(t, l.Refund(ctx, id, 45))
	require.NoError(t, l.Refund(ctx, id, 0))
	require.NoError(t, l.Refund(ctx, id, -5))

	b, _ := l.Balance(ctx, id)
	assert.Equal(t, testAllowance-15, b.RemainingSeconds)
}

func TestHashDeviceID(t *testing.T) {
	a := HashDeviceID("device-1", "salt")
	b := HashDeviceID("device-1", "salt")
	assert.Equal(t, a, b, "hash must be stable")
	assert.NotEqual(t, a, HashDeviceID("device-2", "salt"))
	assert.NotEqual(t, a, HashDeviceID("device-1", "other-salt"))
	assert.NotContains(t, a, "device-1")
}
