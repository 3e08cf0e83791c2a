package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// Access tokens are stateless and self-verifying so request auth never hits
// storage; refresh tokens are stored rows so logout can revoke them.

func createAccessToken(userID int64) (string, error) {
	claims := jwt.MapClaims{"userId": userID, "exp": time.Now().Add(accessTokenTTL).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// parseAccessToken verifies the signature and expiry and returns the bound
// user id. Any failure is ErrInvalidCredential; callers never learn why.
func parseAccessToken(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidCredential
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidCredential
	}
	userID, ok := claims["userId"].(float64)
	if !ok {
		return 0, ErrInvalidCredential
	}
	return int64(userID), nil
}

func newRefreshToken() string {
	return uuid.NewString()
}
