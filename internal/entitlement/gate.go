// Package entitlement admits requests against the credit ledger and applies
// verified purchases.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/voxlate/voxlate/internal/credit"
)

// Admission is a committed pre-debit. The caller reconciles it with the
// actual cost once the request finishes.
type Admission struct {
	Identity       credit.Identity
	DebitedSeconds int64
	AdmittedAt     time.Time
}

// Gate sits between the request path and the ledger.
type Gate struct {
	ledger            *credit.Ledger
	maxSessionSeconds int64
	products          map[string]int64
	verifier          *PurchaseVerifier
	now               func() time.Time
}

// NewGate creates a gate. maxSessionSeconds caps the pre-debit estimate;
// products maps purchase product IDs to granted seconds.
func NewGate(ledger *credit.Ledger, maxSessionSeconds int64, products map[string]int64, verifier *PurchaseVerifier) *Gate {
	return &Gate{
		ledger:            ledger,
		maxSessionSeconds: maxSessionSeconds,
		products:          products,
		verifier:          verifier,
		now:               time.Now,
	}
}

// Admit debits a conservative estimate up front. Unknown estimates debit
// the session ceiling; the difference comes back in Reconcile. Denials
// surface the ledger's InsufficientBalanceError unchanged.
func (g *Gate) Admit(ctx context.Context, id credit.Identity, estimatedSeconds int64) (Admission, error) {
	debit := estimatedSeconds
	if debit <= 0 || debit > g.maxSessionSeconds {
		debit = g.maxSessionSeconds
	}

	if err := g.ledger.Debit(ctx, id, debit); err != nil {
		return Admission{}, err
	}
	return Admission{Identity: id, DebitedSeconds: debit, AdmittedAt: g.now()}, nil
}

// Reconcile refunds the unused part of an admission once the actual cost
// is known. Actual cost at or above the debit refunds nothing; the
// pre-debit is the agreed ceiling.
func (g *Gate) Reconcile(ctx context.Context, adm Admission, actualSeconds int64) error {
	if actualSeconds < 0 {
		actualSeconds = 0
	}
	delta := adm.DebitedSeconds - actualSeconds
	if delta <= 0 {
		return nil
	}
	return g.ledger.Refund(ctx, adm.Identity, delta)
}

// PurchaseResult reports an applied (or replayed) purchase.
type PurchaseResult struct {
	TransactionID  string
	ProductID      string
	GrantedSeconds int64
	AlreadyApplied bool
}

// ApplyPurchase verifies a signed store transaction and credits the mapped
// seconds exactly once. Replaying an applied transaction is a no-op that
// still reports success.
func (g *Gate) ApplyPurchase(ctx context.Context, id credit.Identity, signedTransaction string) (PurchaseResult, error) {
	if g.verifier == nil {
		return PurchaseResult{}, fmt.Errorf("%w: purchase verification not configured", ErrVerificationFailed)
	}
	txn, err := g.verifier.Verify(signedTransaction)
	if err != nil {
		return PurchaseResult{}, err
	}

	seconds, ok := g.products[txn.ProductID]
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: unknown product %q", ErrVerificationFailed, txn.ProductID)
	}
	granted := seconds * txn.Quantity

	applied, err := g.ledger.CreditOnce(ctx, id, granted, txn.TransactionID, txn.ProductID)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("crediting purchase: %w", err)
	}

	return PurchaseResult{
		TransactionID:  txn.TransactionID,
		ProductID:      txn.ProductID,
		GrantedSeconds: granted,
		AlreadyApplied: !applied,
	}, nil
}
