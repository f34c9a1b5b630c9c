// Package credit meters usage against a consumable time balance that
// survives anonymous-to-account migration.
package credit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Kind distinguishes anonymous device identities from account identities.
type Kind string

const (
	KindAnonymous Kind = "anonymous"
	KindAccount   Kind = "account"
)

// Identity is the owner of a credit balance.
type Identity struct {
	Kind Kind
	ID   string
}

// Anonymous builds a device-scoped identity. The raw device ID should be
// hashed with HashDeviceID before it gets here.
func Anonymous(id string) Identity {
	return Identity{Kind: KindAnonymous, ID: id}
}

// Account builds an account-scoped identity.
func Account(id string) Identity {
	return Identity{Kind: KindAccount, ID: id}
}

// Key is the stable storage key for the identity.
func (i Identity) Key() string {
	if i.Kind == KindAccount {
		return "acct:" + i.ID
	}
	return "anon:" + i.ID
}

func (i Identity) IsZero() bool {
	return i.ID == ""
}

// HashDeviceID derives a stable, non-reversible ledger identifier from a
// client device ID. Raw device IDs never reach storage.
func HashDeviceID(deviceID, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(deviceID))
	return hex.EncodeToString(mac.Sum(nil))
}
