package credit

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no balance exists for a key.
	ErrNotFound = errors.New("credit: balance not found")

	// ErrContention marks a retryable store conflict (serialization
	// failure, deadlock). The ledger retries these with bounded backoff.
	ErrContention = errors.New("credit: write contention")
)

// Txn is the mutation surface inside one atomic store update. Balances for
// the update's keys are preloaded; receipt and purchase lookups may hit the
// store lazily.
type Txn interface {
	Get(key string) (Balance, bool)
	Put(b Balance)
	Delete(key string)

	Receipt(anonKey string) (MigrationReceipt, bool, error)
	PutReceipt(r MigrationReceipt)

	HasPurchase(transactionID string) (bool, error)
	PutPurchase(p PurchaseRecord)
}

// Store persists balances, migration receipts and applied purchases.
// Implementations must lock the given keys in sorted order so concurrent
// multi-key updates cannot deadlock.
type Store interface {
	// View reads a balance without locking.
	View(ctx context.Context, key string) (Balance, error)

	// Update runs fn atomically over the balances named by keys. All
	// staged writes commit together or not at all.
	Update(ctx context.Context, keys []string, fn func(tx Txn) error) error
}
