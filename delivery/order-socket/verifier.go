package ordersocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JoinVerifier decides which identity a user-join request is allowed to take
type JoinVerifier interface {
	Verify(ctx context.Context, req JoinRequest) (Identity, error)
}

type TokenParser interface {
	ParseHMACJWTToken(token string) (payload []byte, err error)
}

type TokenSigner interface {
	BuildHMACJWTToken(payload []byte, expireAt time.Time, hmacKeyID string) (token string, err error)
}

var _ JoinVerifier = &TokenVerifier{}
var _ JoinVerifier = ClaimVerifier{}

// TokenVerifier takes the identity from a signed join token.
// The userId and role sent next to the token are ignored.
type TokenVerifier struct {
	parser TokenParser
}

func NewTokenVerifier(parser TokenParser) *TokenVerifier {
	return &TokenVerifier{parser: parser}
}

func (v *TokenVerifier) Verify(ctx context.Context, req JoinRequest) (Identity, error) {
	if req.Token == "" {
		return Identity{}, ErrMissingToken
	}

	payload, err := v.parser.ParseHMACJWTToken(req.Token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var id Identity
	if err := json.Unmarshal(payload, &id); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return id, id.validate()
}

// ClaimVerifier trusts the self-reported userId and role.
// Only install it when unverified joins are explicitly allowed.
type ClaimVerifier struct{}

func (ClaimVerifier) Verify(ctx context.Context, req JoinRequest) (Identity, error) {
	id := Identity{UserID: req.UserID, Role: req.Role}
	return id, id.validate()
}

// IssueJoinToken signs id so that a TokenVerifier accepts it until ttl passes
func IssueJoinToken(signer TokenSigner, keyID string, id Identity, ttl time.Duration) (string, error) {
	if err := id.validate(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(id)
	if err != nil {
		return "", err
	}

	return signer.BuildHMACJWTToken(payload, time.Now().Add(ttl), keyID)
}
