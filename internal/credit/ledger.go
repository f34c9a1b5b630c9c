package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxlate/voxlate/internal/metrics"
)

// InsufficientBalanceError carries the numbers the client needs to render
// actionable guidance.
type InsufficientBalanceError struct {
	RemainingSeconds int64
	RequiredSeconds  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("credit: insufficient balance: have %ds, need %ds", e.RemainingSeconds, e.RequiredSeconds)
}

// ErrInsufficientBalance matches any InsufficientBalanceError via errors.Is.
var ErrInsufficientBalance = errors.New("credit: insufficient balance")

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

const (
	writeAttempts = 3
	retryBackoff  = 25 * time.Millisecond
)

// Ledger applies metered debits and credits to identity balances. All
// writes go through the store's atomic Update; contention is retried with
// bounded backoff before surfacing.
type Ledger struct {
	store           Store
	weeklyAllowance int64
	now             func() time.Time
}

// NewLedger creates a ledger granting weeklyAllowance seconds per week.
func NewLedger(store Store, weeklyAllowance int64) *Ledger {
	return &Ledger{store: store, weeklyAllowance: weeklyAllowance, now: time.Now}
}

// Balance returns the identity's balance with any due weekly reset applied.
// Unknown identities are initialized with the weekly allowance.
func (l *Ledger) Balance(ctx context.Context, id Identity) (Balance, error) {
	var out Balance
	err := l.update(ctx, []string{id.Key()}, func(tx Txn) error {
		out = l.resetIfDue(tx, id)
		return nil
	})
	return out, err
}

// Debit atomically subtracts seconds from the identity's balance, applying
// a due weekly reset first. The balance never goes negative.
func (l *Ledger) Debit(ctx context.Context, id Identity, seconds int64) error {
	if seconds <= 0 {
		return fmt.Errorf("credit: debit of %d seconds", seconds)
	}
	err := l.update(ctx, []string{id.Key()}, func(tx Txn) error {
		b := l.resetIfDue(tx, id)
		if b.RemainingSeconds < seconds {
			return &InsufficientBalanceError{
				RemainingSeconds: b.RemainingSeconds,
				RequiredSeconds:  seconds,
			}
		}
		b.RemainingSeconds -= seconds
		b.UpdatedAt = l.now()
		tx.Put(b)
		return nil
	})

	result := "ok"
	if errors.Is(err, ErrInsufficientBalance) {
		result = "denied"
	} else if err != nil {
		result = "error"
	}
	metrics.CreditDebitsTotal.WithLabelValues(result).Inc()
	return err
}

// Credit adds purchased or refunded seconds to the balance.
func (l *Ledger) Credit(ctx context.Context, id Identity, seconds int64, reason string) error {
	if seconds <= 0 {
		return fmt.Errorf("credit: credit of %d seconds", seconds)
	}
	return l.update(ctx, []string{id.Key()}, func(tx Txn) error {
		b := l.resetIfDue(tx, id)
		b.RemainingSeconds += seconds
		b.UpdatedAt = l.now()
		tx.Put(b)
		slog.Info("balance credited", "identity", id.Key(), "seconds", seconds, "reason", reason)
		return nil
	})
}

// Refund returns the unused part of a pre-debit once the actual cost is
// known. Non-positive deltas are a no-op.
func (l *Ledger) Refund(ctx context.Context, id Identity, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	return l.Credit(ctx, id, seconds, "reconciliation")
}

// CreditOnce credits granted seconds for a purchase transaction exactly
// once. A replayed transaction ID is a no-op; applied reports whether this
// call did the crediting.
func (l *Ledger) CreditOnce(ctx context.Context, id Identity, seconds int64, transactionID, productID string) (applied bool, err error) {
	if seconds <= 0 {
		return false, fmt.Errorf("credit: credit of %d seconds", seconds)
	}
	err = l.update(ctx, []string{id.Key()}, func(tx Txn) error {
		applied = false
		seen, err := tx.HasPurchase(transactionID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}

		b := l.resetIfDue(tx, id)
		b.RemainingSeconds += seconds
		b.UpdatedAt = l.now()
		tx.Put(b)
		tx.PutPurchase(PurchaseRecord{
			TransactionID:  transactionID,
			IdentityKey:    id.Key(),
			ProductID:      productID,
			GrantedSeconds: seconds,
			CreatedAt:      l.now(),
		})
		applied = true
		return nil
	})
	return applied, err
}

// Migrate folds an anonymous balance into an account balance exactly once.
// Both rows are locked in one atomic update; a migration receipt keyed by
// the anonymous identity makes replays no-ops.
func (l *Ledger) Migrate(ctx context.Context, anon, account Identity) error {
	if anon.Kind != KindAnonymous || account.Kind != KindAccount {
		return fmt.Errorf("credit: migrate wants anonymous source and account target")
	}

	keys := []string{anon.Key(), account.Key()}
	return l.update(ctx, keys, func(tx Txn) error {
		if _, done, err := tx.Receipt(anon.Key()); err != nil {
			return err
		} else if done {
			return nil
		}

		migrated := int64(0)
		if anonBal, ok := tx.Get(anon.Key()); ok {
			migrated = anonBal.RemainingSeconds
			tx.Delete(anon.Key())
		}

		acctBal := l.resetIfDue(tx, account)
		acctBal.RemainingSeconds += migrated
		acctBal.UpdatedAt = l.now()
		tx.Put(acctBal)

		tx.PutReceipt(MigrationReceipt{
			AnonKey:         anon.Key(),
			AccountKey:      account.Key(),
			MigratedSeconds: migrated,
			CreatedAt:       l.now(),
		})
		slog.Info("anonymous balance migrated",
			"account", account.Key(), "migrated_seconds", migrated)
		return nil
	})
}

// resetIfDue loads the identity's balance inside tx, initializing unknown
// identities with the weekly allowance and applying at most one weekly
// reset per period. The reset anchor only moves forward.
func (l *Ledger) resetIfDue(tx Txn, id Identity) Balance {
	now := l.now()
	anchor := weekAnchor(now)

	b, ok := tx.Get(id.Key())
	if !ok {
		b = Balance{
			Key:                    id.Key(),
			Kind:                   id.Kind,
			RemainingSeconds:       l.weeklyAllowance,
			WeeklyAllowanceSeconds: l.weeklyAllowance,
			LastResetAt:            anchor,
			UpdatedAt:              now,
		}
		tx.Put(b)
		return b
	}

	if anchor.After(b.LastResetAt) {
		b.RemainingSeconds = b.WeeklyAllowanceSeconds
		b.LastResetAt = anchor
		b.UpdatedAt = now
		tx.Put(b)
	}
	return b
}

// weekAnchor returns the Monday 00:00 UTC that starts t's week.
func weekAnchor(t time.Time) time.Time {
	t = t.UTC()
	daysPastMonday := (int(t.Weekday()) + 6) % 7
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -daysPastMonday)
}

// update runs one store update, retrying contention errors with bounded
// backoff.
func (l *Ledger) update(ctx context.Context, keys []string, fn func(tx Txn) error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		err = l.store.Update(ctx, keys, fn)
		if err == nil || !errors.Is(err, ErrContention) {
			return err
		}
		slog.Warn("ledger write contention, retrying", "attempt", attempt, "keys", keys)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}
