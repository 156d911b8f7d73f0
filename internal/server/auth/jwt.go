// Package auth implements the token codec and password primitive used by
// the directory service: HMAC-signed JWTs carrying the subject email, and
// bcrypt digests for stored credentials.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avoronov/userdir/internal/common"
)

// Claims are the session token claims. The registered Subject carries the
// owning user's email; validity is bounded by the registered ExpiresAt.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs a token for the given subject email using the HMAC
// method named by algorithm (HS256, HS384 or HS512).
func GenerateToken(email string, secretKey []byte, algorithm string, validityDuration time.Duration) (string, error) {
	method, err := hmacMethod(algorithm)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(method, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetSubjectFromToken verifies signature, method and expiry, and returns the
// subject email. Expired tokens map to common.ErrTokenExpired, every other
// failure to common.ErrInvalidToken.
func GetSubjectFromToken(tokenString string, secretKey []byte, algorithm string) (string, error) {
	method, err := hmacMethod(algorithm)
	if err != nil {
		return "", err
	}

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{method.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return "", common.ErrInvalidToken
	}

	return claims.Subject, nil
}

func hmacMethod(algorithm string) (jwt.SigningMethod, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, errors.New("unknown signing algorithm: " + algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unsupported signing algorithm: " + algorithm)
	}
	return method, nil
}
