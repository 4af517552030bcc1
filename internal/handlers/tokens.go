package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "bidhouse"

var errMissingSubject = errors.New("missing subject")

// tokenSigner issues and verifies HS256 access tokens whose subject is the
// account email.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

func newTokenSigner(secret string, ttl time.Duration) tokenSigner {
	return tokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
		),
	}
}

func (s tokenSigner) issue(email string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    tokenIssuer,
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s tokenSigner) subject(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := s.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}
