// Package auth extracts the caller identity when a connection is established.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/open-same/collab-hub/internal/model"
)

// Claims is the token payload issued by the identity provider.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret rejects every token.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks tok and returns the identity it carries. The user id
// falls back to the subject claim and the username to the user id.
func (v *Verifier) Verify(tok string) (model.Identity, error) {
	if len(v.secret) == 0 || tok == "" {
		return model.Identity{}, model.ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}

	identity := model.Identity{UserID: claims.UserID, Username: claims.Username}
	if identity.UserID == "" {
		identity.UserID = claims.Subject
	}
	if identity.Username == "" {
		identity.Username = identity.UserID
	}
	if !identity.Valid() {
		return model.Identity{}, fmt.Errorf("%w: no user id", model.ErrInvalidToken)
	}
	return identity, nil
}

// Sign issues a token for identity valid for ttl.
func (v *Verifier) Sign(identity model.Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("signing secret is empty")
	}
	if !identity.Valid() {
		return "", errors.New("empty user id")
	}

	now := time.Now()
	claims := Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(v.secret)
}
