package middleware

import (
	"fmt"
	"strings"

	"handytoknow/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleTrade = "trade"
	RoleAdmin = "admin"
)

// Context keys set by AuthMiddleware.
const (
	KeyEmail   = "email"
	KeyRole    = "role"
	KeyTradeID = "trade_id"
)

func AuthMiddleware(secret string) gin.HandlerFunc {
	jwtKey := []byte(secret)
	return func(c *gin.Context) {
		if len(jwtKey) == 0 {
			apperr.Respond(c, &apperr.Error{Kind: apperr.KindInternal, Message: "JWT secret not configured"})
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apperr.Respond(c, apperr.Auth("Authorization header missing"))
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == authHeader || tokenString == "" {
			apperr.Respond(c, apperr.Auth("Bearer token malformed"))
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jwtKey, nil
		}, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			apperr.Respond(c, apperr.Auth("Invalid or expired token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			apperr.Respond(c, apperr.Auth("Invalid token claims"))
			return
		}
		if email, ok := claims["email"].(string); ok {
			c.Set(KeyEmail, email)
		}
		if role, ok := claims["role"].(string); ok {
			c.Set(KeyRole, role)
		}
		if tradeID, ok := claims["trade_id"].(string); ok {
			c.Set(KeyTradeID, tradeID)
		}
		c.Next()
	}
}

func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(KeyRole)
		if !exists {
			apperr.Respond(c, apperr.Auth("Role not found in token"))
			return
		}
		if value != role {
			apperr.Respond(c, apperr.Forbidden("Access denied"))
			return
		}
		c.Next()
	}
}
