package credit

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-process Store used in tests and single-node runs.
// One mutex guards all state; updates stage writes and apply them only when
// fn succeeds.
type MemoryStore struct {
	mu        sync.Mutex
	balances  map[string]Balance
	receipts  map[string]MigrationReceipt
	purchases map[string]PurchaseRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]Balance),
		receipts:  make(map[string]MigrationReceipt),
		purchases: make(map[string]PurchaseRecord),
	}
}

func (s *MemoryStore) View(ctx context.Context, key string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[key]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) Update(ctx context.Context, keys []string, fn func(tx Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTxn{
		store:    s,
		staged:   make(map[string]Balance, len(keys)),
		deleted:  make(map[string]struct{}),
		receipts: make(map[string]MigrationReceipt),
	}
	for _, key := range keys {
		if b, ok := s.balances[key]; ok {
			tx.staged[key] = b
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	maps.Copy(s.balances, tx.staged)
	for key := range tx.deleted {
		delete(s.balances, key)
	}
	maps.Copy(s.receipts, tx.receipts)
	for id, p := range tx.purchases {
		s.purchases[id] = p
	}
	return nil
}

type memoryTxn struct {
	store     *MemoryStore
	staged    map[string]Balance
	deleted   map[string]struct{}
	receipts  map[string]MigrationReceipt
	purchases map[string]PurchaseRecord
}

func (t *memoryTxn) Get(key string) (Balance, bool) {
	if _, gone := t.deleted[key]; gone {
		return Balance{}, false
	}
	b, ok := t.staged[key]
	return b, ok
}

func (t *memoryTxn) Put(b Balance) {
	delete(t.deleted, b.Key)
	t.staged[b.Key] = b
}

func (t *memoryTxn) Delete(key string) {
	delete(t.staged, key)
	t.deleted[key] = struct{}{}
}

func (t *memoryTxn) Receipt(anonKey string) (MigrationReceipt, bool, error) {
	if r, ok := t.receipts[anonKey]; ok {
		return r, true, nil
	}
	r, ok := t.store.receipts[anonKey]
	return r, ok, nil
}

func (t *memoryTxn) PutReceipt(r MigrationReceipt) {
	t.receipts[r.AnonKey] = r
}

func (t *memoryTxn) HasPurchase(transactionID string) (bool, error) {
	if _, ok := t.purchases[transactionID]; ok {
		return true, nil
	}
	_, ok := t.store.purchases[transactionID]
	return ok, nil
}

func (t *memoryTxn) PutPurchase(p PurchaseRecord) {
	if t.purchases == nil {
		t.purchases = make(map[string]PurchaseRecord)
	}
	t.purchases[p.TransactionID] = p
}
