// Package auth resolves handshake credentials to identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/golang-jwt/jwt/v4"
)

// Claims carried by a Pulse access token. The subject is the user id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator checks HMAC-signed tokens issued by the account service.
type JWTValidator struct {
	secret []byte
	issuer string
}

func NewJWTValidator(secret, issuer string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTValidator{secret: []byte(secret), issuer: issuer}, nil
}

func (v *JWTValidator) Validate(_ context.Context, credential string) (domain.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("parse token: %w: %w", domain.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return domain.Identity{}, fmt.Errorf("token invalid: %w", domain.ErrUnauthenticated)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return domain.Identity{}, fmt.Errorf("issuer %q: %w", claims.Issuer, domain.ErrUnauthenticated)
	}
	uid, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("subject: %w: %w", domain.ErrUnauthenticated, err)
	}
	return domain.Identity{UserID: uid, Username: claims.Username}, nil
}

// Issue signs a token for uid. It is used by the token command and tests.
func Issue(secret, issuer string, uid domain.UserID, username string, ttl time.Duration) (string, error) {
	now := time.Now().Add(-time.Second)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(uid),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
