package entitlement

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlate/voxlate/internal/credit"
)

const (
	testAllowance  = int64(1800)
	testMaxSession = int64(60)
)

var testProducts = map[string]int64{
	"credits.minutes.30":  30 * 60,
	"credits.minutes.120": 120 * 60,
	"credits.minutes.300": 300 * 60,
}

func testKeys(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, string(pemBytes)
}

func signTransaction(t *testing.T, key *ecdsa.PrivateKey, txnID, productID string, quantity int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"transactionId": txnID,
		"productId":     productID,
		"quantity":      quantity,
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func testGate(t *testing.T, rootKeyPEM string) (*Gate, *credit.Ledger) {
	t.Helper()
	ledger := credit.NewLedger(credit.NewMemoryStore(), testAllowance)
	verifier, err := NewPurchaseVerifier(rootKeyPEM)
	require.NoError(t, err)
	return NewGate(ledger, testMaxSession, testProducts, verifier), ledger
}

func TestGate_AdmitDebitsEstimate(t *testing.T) {
	_, pub := testKeys(t)
	gate, ledger := testGate(t, pub)
	id := credit.Anonymous("device-1")

	adm, err := gate.Admit(context.Background(), id, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), adm.DebitedSeconds)

	b, err := ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, testAllowance-20, b.RemainingSeconds)
}

func TestGate_AdmitCapsAtSessionCeiling(t *testing.T) {
	_, pub := testKeys(t)
	gate, _ := testGate(t, pub)

	tests := []struct {
		name      string
		estimated int64
	}{
		{"unknown estimate", 0},
		{"oversized estimate", 600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm, err := gate.Admit(context.Background(), credit.Anonymous("d-"+tt.name), tt.estimated)
			require.NoError(t, err)
			assert.Equal(t, testMaxSession, adm.DebitedSeconds)
		})
	}
}

func TestGate_AdmitDeniedCarriesDetail(t *testing.T) {
	_, pub := testKeys(t)
	gate, ledger := testGate(t, pub)
	id := credit.Anonymous("device-1")

	// Burn the balance down below the ceiling.
	require.NoError(t, ledger.Debit(context.Background(), id, testAllowance-10))

	_, err := gate.Admit(context.Background(), id, 60)
	require.ErrorIs(t, err, credit.ErrInsufficientBalance)

	var insErr *credit.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, int64(10), insErr.RemainingSeconds)
	assert.Equal(t, int64(60), insErr.RequiredSeconds)
}

func TestGate_ReconcileRefundsUnusedDelta(t *testing.T) {
	_, pub := testKeys(t)
	gate, ledger := testGate(t, pub)
	id := credit.Anonymous("device-1")
	ctx := context.Background()

	adm, err := gate.Admit(ctx, id, 60)
	require.NoError(t, err)

	require.NoError(t, gate.Reconcile(ctx, adm, 12))

	b, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testAllowance-12, b.RemainingSeconds)
}

func TestGate_ReconcileNeverRefundsBeyondDebit(t *testing.T) {
	_, pub := testKeys(t)
	gate, ledger := testGate(t, pub)
	id := credit.Anonymous("device-1")
	ctx := context.Background()

	adm, err := gate.Admit(ctx, id, 60)
	require.NoError(t, err)

	// Actual above the debit still only costs the pre-debit.
	require.NoError(t, gate.Reconcile(ctx, adm, 90))

	b, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testAllowance-60, b.RemainingSeconds)
}

func TestGate_ApplyPurchaseExactlyOnce(t *testing.T) {
	priv, pub := testKeys(t)
	gate, ledger := testGate(t, pub)
	id := credit.Account("user-1")
	ctx := context.Background()

	signed := signTransaction(t, priv, "txn-1", "credits.minutes.30", 1)

	res, err := gate.ApplyPurchase(ctx, id, signed)
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, int64(1800), res.GrantedSeconds)

	b, _ := ledger.Balance(ctx, id)
	assert.Equal(t, testAllowance+1800, b.RemainingSeconds)

	// Replay: reported as applied before, balance unchanged.
	res, err = gate.ApplyPurchase(ctx, id, signed)
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)

	b, _ = ledger.Balance(ctx, id)
	assert.Equal(t, testAllowance+1800, b.RemainingSeconds)
}

func TestGate_ApplyPurchaseQuantityMultiplies(t *testing.T) {
	priv, pub := testKeys(t)
	gate, _ := testGate(t, pub)

	signed := signTransaction(t, priv, "txn-2", "credits.minutes.120", 2)
	res, err := gate.ApplyPurchase(context.Background(), credit.Account("user-1"), signed)
	require.NoError(t, err)
	assert.Equal(t, int64(2*120*60), res.GrantedSeconds)
}

func TestGate_ApplyPurchaseBadSignature(t *testing.T) {
	otherKey, _ := testKeys(t)
	_, pub := testKeys(t)
	gate, ledger := testGate(t, pub)
	id := credit.Account("user-1")

	signed := signTransaction(t, otherKey, "txn-3", "credits.minutes.30", 1)
	_, err := gate.ApplyPurchase(context.Background(), id, signed)
	require.ErrorIs(t, err, ErrVerificationFailed)

	b, _ := ledger.Balance(context.Background(), id)
	assert.Equal(t, testAllowance, b.RemainingSeconds, "failed verification must not credit")
}

func TestGate_ApplyPurchaseUnknownProduct(t *testing.T) {
	priv, pub := testKeys(t)
	gate, _ := testGate(t, pub)

	signed := signTransaction(t, priv, "txn-4", "credits.minutes.9000", 1)
	_, err := gate.ApplyPurchase(context.Background(), credit.Account("user-1"), signed)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestPurchaseVerifier_RejectsAlgConfusion(t *testing.T) {
	_, pub := testKeys(t)
	verifier, err := NewPurchaseVerifier(pub)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"transactionId": "txn-5",
		"productId":     "credits.minutes.30",
	})
	signed, err := token.SignedString([]byte("not-the-root-key"))
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestNewPurchaseVerifier_BadPEM(t *testing.T) {
	_, err := NewPurchaseVerifier("not a pem")
	assert.Error(t, err)
}
