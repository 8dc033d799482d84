package middleware

import (
	"context"
	"net/http"
	"strings"

	"meeshy/internal/auth"
	"meeshy/internal/transport/httpdto"
	"meeshy/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const anonymousSessionHeader = "X-Anonymous-Session"

type senderCtxKey struct{}

// AccessClaims are the registered-user token claims.
type AccessClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// SenderMiddleware resolves the caller into a sender context: a bearer access
// token yields a registered sender, the anonymous session header yields an
// anonymous one. Requests carrying neither are rejected before they reach a
// handler.
func SenderMiddleware(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractBearer(c); token != "" {
			userID, err := parseAccessToken(token, jwtSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
				c.Abort()
				return
			}
			attachSender(c, auth.Registered(userID))
			c.Next()
			return
		}

		if session := c.GetHeader(anonymousSessionHeader); session != "" {
			attachSender(c, auth.Anonymous(session))
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		c.Abort()
	}
}

func attachSender(c *gin.Context, sender auth.SenderContext) {
	ctx := context.WithValue(c.Request.Context(), senderCtxKey{}, sender)
	ctx = context.WithValue(ctx, logger.SenderKey, sender.Key())
	c.Request = c.Request.WithContext(ctx)
}

// SenderFromContext returns the sender attached by SenderMiddleware.
func SenderFromContext(ctx context.Context) (auth.SenderContext, bool) {
	sender, ok := ctx.Value(senderCtxKey{}).(auth.SenderContext)
	return sender, ok
}

func parseAccessToken(tokenString string, secret []byte) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, jwt.ErrTokenUnverifiable
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}
	return uuid.Parse(claims.UserID)
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
