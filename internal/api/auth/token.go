package auth

import (
	"time"

	"handytoknow/internal/app/http/middleware"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

func issueTradeJWT(secret, tradeID, email string, now time.Time) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"trade_id": tradeID,
		"email":    email,
		"role":     middleware.RoleTrade,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
	})
	return t.SignedString([]byte(secret))
}

func issueAdminJWT(secret, email string, now time.Time) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"role":  middleware.RoleAdmin,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
	})
	return t.SignedString([]byte(secret))
}
