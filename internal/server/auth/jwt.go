// Package auth mints and checks the optional owner tokens attached to
// uploads. A valid token's owner id is recorded with the catalog entry.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the owner id next to the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner_id"`
}

func GenerateToken(ownerID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
			Subject:   ownerID,
		},
		OwnerID: ownerID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// OwnerFromToken validates tokenString and returns its owner id. Expired
// tokens yield common.ErrTokenExpired, anything else common.ErrInvalidToken.
func OwnerFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.OwnerID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.OwnerID, nil
}

// BearerToken extracts the token from an Authorization header value. ok is
// false when the header is empty; a non-bearer value is an error.
func BearerToken(header string) (token string, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, nil
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(rest) == "" {
		return "", false, common.ErrInvalidToken
	}
	return strings.TrimSpace(rest), true, nil
}
