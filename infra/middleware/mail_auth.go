package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// JWTAuth guards the API with a shared-secret HS256 bearer token. An empty
// secret disables the check entirely; that is the expected mode when the
// engine runs as a local library behind no network boundary.
func JWTAuth(secret string, log zerolog.Logger) fiber.Handler {
	if secret == "" {
		log.Warn().Msg("JWT secret not configured, API authentication disabled")
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := ""
		if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}
		// EventSource cannot set headers; the stream endpoint passes the
		// token in the query string instead.
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return apperr.Unauthorized("missing bearer token")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			log.Warn().Err(err).Str("ip", c.IP()).Msg("token rejected")
			return apperr.Unauthorized("invalid token")
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, _ := claims["sub"].(string); sub != "" {
				c.Locals("subject", sub)
			}
		}
		return c.Next()
	}
}
