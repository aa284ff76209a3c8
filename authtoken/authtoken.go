// Package authtoken verifies the credential presented by the authenticate
// action (spec.md §6 "Auth token"): an RS256 JWT whose payload is an
// object containing a string "id" field.
package authtoken

//go:generate go tool errtrace -w .

import (
	"crypto/rsa"
	"fmt"

	"braces.dev/errtrace"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tradepeer/tradepeer/internal/errs"
	"github.com/tradepeer/tradepeer/session"
)

// ErrMalformed is returned when a verified token's payload isn't the
// expected {id: string} shape.
const ErrMalformed errs.Sentinel = "token payload missing string id field"

// Verifier validates RS256 JWTs against a fixed public key.
type Verifier struct {
	publicKey *rsa.PublicKey
}

// NewVerifier parses a PEM-encoded RSA public key for RS256 verification.
func NewVerifier(publicKeyPEM []byte) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("authtoken: parse public key: %w", err))
	}
	return &Verifier{publicKey: key}, nil
}

// Verify implements session.TokenVerifier.
func (v *Verifier) Verify(token string) (session.UserID, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errtrace.Wrap(fmt.Errorf("authtoken: unexpected signing method %v", t.Header["alg"]))
		}
		return v.publicKey, nil
	})
	if err != nil {
		return "", errtrace.Wrap(fmt.Errorf("authtoken: %w", err))
	}

	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return "", errtrace.Wrap(errs.New(ErrMalformed))
	}
	return session.UserID(id), nil
}

// PassthroughVerifier treats the raw token string as the user id,
// matching the development-mode rule in spec.md §6 for when
// BACKEND_PUBLIC_KEY is unset.
func PassthroughVerifier(token string) (session.UserID, error) {
	if token == "" {
		return "", errtrace.Wrap(errs.New(ErrMalformed, "empty development-mode token"))
	}
	return session.UserID(token), nil
}
