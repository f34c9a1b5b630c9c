package entitlement

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrVerificationFailed marks a purchase that must not be credited: bad
// signature, malformed claims or an unknown product.
var ErrVerificationFailed = errors.New("entitlement: purchase verification failed")

// Transaction is the verified payload of a signed store transaction.
type Transaction struct {
	TransactionID string
	ProductID     string
	Quantity      int64
}

type transactionClaims struct {
	TransactionID string `json:"transactionId"`
	ProductID     string `json:"productId"`
	Quantity      int64  `json:"quantity"`
	jwt.RegisteredClaims
}

// PurchaseVerifier checks store transaction signatures against the
// configured root public key.
type PurchaseVerifier struct {
	rootKey *ecdsa.PublicKey
}

// NewPurchaseVerifier parses a PEM-encoded ECDSA public key.
func NewPurchaseVerifier(rootKeyPEM string) (*PurchaseVerifier, error) {
	block, _ := pem.Decode([]byte(rootKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("entitlement: purchase root key is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("entitlement: parsing purchase root key: %w", err)
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("entitlement: purchase root key is not an ECDSA key")
	}
	return &PurchaseVerifier{rootKey: ecKey}, nil
}

// Verify checks the JWS signature and required claims.
func (v *PurchaseVerifier) Verify(signedTransaction string) (Transaction, error) {
	var claims transactionClaims
	_, err := jwt.ParseWithClaims(signedTransaction, &claims,
		func(*jwt.Token) (any, error) { return v.rootKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
	)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if claims.TransactionID == "" || claims.ProductID == "" {
		return Transaction{}, fmt.Errorf("%w: missing transaction or product ID", ErrVerificationFailed)
	}
	if claims.Quantity <= 0 {
		claims.Quantity = 1
	}

	return Transaction{
		TransactionID: claims.TransactionID,
		ProductID:     claims.ProductID,
		Quantity:      claims.Quantity,
	}, nil
}
