package jwthmac

import (
	"time"

	"github.com/desain-gratis/order-notifier/utility/secret"
	"github.com/desain-gratis/order-notifier/utility/secret/hmac/hardcode"
)

// Utility to build & parse JWT tokens signed with HMAC (symmetric key).
// Signs the identity carried by a socket join.
type Utility interface {
	BuildHMACJWTToken(payload []byte, expireAt time.Time, hmacKeyID string) (token string, err error)
	ParseHMACJWTToken(token string) (payload []byte, err error)
	Store(keyID string, secret string) (err error)
	Get(keyID string) (secret string, ok bool, err error)
}

var _ Utility = hardcode.New()

// Keyring is the set of join keys, plus the key id new join tokens are signed with.
// Every loaded key is accepted when parsing, so keys can be rotated.
type Keyring struct {
	Utility
	SigningKeyID string
}

// NewKeyring loads the HCL secret file at path into an in-memory key store.
// An empty path gives an empty keyring that rejects every token.
func NewKeyring(path string, signingKeyID string) (keyring *Keyring, n int, err error) {
	store := hardcode.New()
	if path != "" {
		n, err = secret.Load(path, secret.STRATEGY_FLAG, store)
		if err != nil {
			return nil, 0, err
		}
	}

	return &Keyring{Utility: store, SigningKeyID: signingKeyID}, n, nil
}

// CanSign reports whether the signing key was loaded
func (k *Keyring) CanSign() bool {
	if k.SigningKeyID == "" {
		return false
	}
	_, ok, _ := k.Get(k.SigningKeyID)
	return ok
}

func (k *Keyring) Sign(payload []byte, ttl time.Duration) (token string, err error) {
	return k.BuildHMACJWTToken(payload, time.Now().Add(ttl), k.SigningKeyID)
}
