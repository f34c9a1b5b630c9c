package credit

import "time"

// Balance is one identity's remaining speech-seconds.
type Balance struct {
	Key                    string
	Kind                   Kind
	RemainingSeconds       int64
	WeeklyAllowanceSeconds int64
	LastResetAt            time.Time
	UpdatedAt              time.Time
}

// MigrationReceipt records a completed anonymous-to-account balance
// migration. Its presence makes replays no-ops.
type MigrationReceipt struct {
	AnonKey         string
	AccountKey      string
	MigratedSeconds int64
	CreatedAt       time.Time
}

// PurchaseRecord marks a purchase transaction as applied, keyed by the
// store transaction ID for exactly-once crediting.
type PurchaseRecord struct {
	TransactionID  string
	IdentityKey    string
	ProductID      string
	GrantedSeconds int64
	CreatedAt      time.Time
}
