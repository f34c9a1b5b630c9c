package credit

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists balances in Postgres. Update locks the balance
// rows with SELECT FOR UPDATE in sorted key order so concurrent multi-key
// updates (migrations) cannot deadlock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) View(ctx context.Context, key string) (Balance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, kind, remaining_seconds, weekly_allowance_seconds, last_reset_at, updated_at
		FROM credit_balances
		WHERE key = $1`, key)

	var b Balance
	err := row.Scan(&b.Key, &b.Kind, &b.RemainingSeconds, &b.WeeklyAllowanceSeconds, &b.LastResetAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrNotFound
	}
	if err != nil {
		return Balance{}, fmt.Errorf("querying balance: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Update(ctx context.Context, keys []string, fn func(tx Txn) error) error {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgError(fmt.Errorf("beginning transaction: %w", err))
	}
	defer pgTx.Rollback(ctx)

	loaded := make(map[string]Balance, len(sorted))
	rows, err := pgTx.Query(ctx, `
		SELECT key, kind, remaining_seconds, weekly_allowance_seconds, last_reset_at, updated_at
		FROM credit_balances
		WHERE key = ANY($1)
		ORDER BY key
		FOR UPDATE`, sorted)
	if err != nil {
		return mapPgError(fmt.Errorf("locking balances: %w", err))
	}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.Key, &b.Kind, &b.RemainingSeconds, &b.WeeklyAllowanceSeconds, &b.LastResetAt, &b.UpdatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scanning balance: %w", err)
		}
		loaded[b.Key] = b
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapPgError(fmt.Errorf("reading balances: %w", err))
	}

	tx := &pgTxn{ctx: ctx, tx: pgTx, loaded: loaded, deleted: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.flush(); err != nil {
		return mapPgError(err)
	}

	if err := pgTx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("committing: %w", err))
	}
	return nil
}

type pgTxn struct {
	ctx     context.Context
	tx      pgx.Tx
	loaded  map[string]Balance
	staged  []Balance
	deleted map[string]struct{}

	receipts  []MigrationReceipt
	purchases []PurchaseRecord
}

func (t *pgTxn) Get(key string) (Balance, bool) {
	if _, gone := t.deleted[key]; gone {
		return Balance{}, false
	}
	for i := len(t.staged) - 1; i >= 0; i-- {
		if t.staged[i].Key == key {
			return t.staged[i], true
		}
	}
	b, ok := t.loaded[key]
	return b, ok
}

func (t *pgTxn) Put(b Balance) {
	delete(t.deleted, b.Key)
	t.staged = append(t.staged, b)
}

func (t *pgTxn) Delete(key string) {
	t.deleted[key] = struct{}{}
}

func (t *pgTxn) Receipt(anonKey string) (MigrationReceipt, bool, error) {
	row := t.tx.QueryRow(t.ctx, `
		SELECT anon_key, account_key, migrated_seconds, created_at
		FROM migration_receipts
		WHERE anon_key = $1`, anonKey)

	var r MigrationReceipt
	err := row.Scan(&r.AnonKey, &r.AccountKey, &r.MigratedSeconds, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MigrationReceipt{}, false, nil
	}
	if err != nil {
		return MigrationReceipt{}, false, fmt.Errorf("querying migration receipt: %w", err)
	}
	return r, true, nil
}

func (t *pgTxn) PutReceipt(r MigrationReceipt) {
	t.receipts = append(t.receipts, r)
}

func (t *pgTxn) HasPurchase(transactionID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx, `
		SELECT EXISTS (SELECT 1 FROM purchase_transactions WHERE transaction_id = $1)`,
		transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying purchase transaction: %w", err)
	}
	return exists, nil
}

func (t *pgTxn) PutPurchase(p PurchaseRecord) {
	t.purchases = append(t.purchases, p)
}

func (t *pgTxn) flush() error {
	for _, b := range t.staged {
		if _, gone := t.deleted[b.Key]; gone {
			continue
		}
		_, err := t.tx.Exec(t.ctx, `
			INSERT INTO credit_balances (key, kind, remaining_seconds, weekly_allowance_seconds, last_reset_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO UPDATE SET
				remaining_seconds = EXCLUDED.remaining_seconds,
				weekly_allowance_seconds = EXCLUDED.weekly_allowance_seconds,
				last_reset_at = EXCLUDED.last_reset_at,
				updated_at = EXCLUDED.updated_at`,
			b.Key, b.Kind, b.RemainingSeconds, b.WeeklyAllowanceSeconds, b.LastResetAt, b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upserting balance: %w", err)
		}
	}
	for key := range t.deleted {
		if _, err := t.tx.Exec(t.ctx, `DELETE FROM credit_balances WHERE key = $1`, key); err != nil {
			return fmt.Errorf("deleting balance: %w", err)
		}
	}
	for _, r := range t.receipts {
		_, err := t.tx.Exec(t.ctx, `
			INSERT INTO migration_receipts (anon_key, account_key, migrated_seconds, created_at)
			VALUES ($1, $2, $3, $4)`,
			r.AnonKey, r.AccountKey, r.MigratedSeconds, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting migration receipt: %w", err)
		}
	}
	for _, p := range t.purchases {
		_, err := t.tx.Exec(t.ctx, `
			INSERT INTO purchase_transactions (transaction_id, identity_key, product_id, granted_seconds, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			p.TransactionID, p.IdentityKey, p.ProductID, p.GrantedSeconds, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting purchase transaction: %w", err)
		}
	}
	return nil
}

// mapPgError converts serialization failures, deadlocks and unique-key
// races into the retryable contention error.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %v", ErrContention, err)
		}
	}
	return err
}
