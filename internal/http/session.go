package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"clipnote/internal/config"
)

// sessionClaims are the JWT claims of the browser session cookie.
type sessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

func sessionCookieName(cfg *config.Config) string {
	if cfg.Auth.Session.CookieName == "" {
		return "clipnote_session"
	}
	return cfg.Auth.Session.CookieName
}

func issueSessionCookie(c *fiber.Ctx, cfg *config.Config, userID string) error {
	secret := cfg.Auth.Session.Secret
	if secret == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "session secret is not configured")
	}

	ttl := time.Duration(cfg.Auth.Session.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     sessionCookieName(cfg),
		Value:    signed,
		Path:     "/",
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   !cfg.Auth.Session.Insecure,
		SameSite: "Lax",
	})
	return nil
}

func clearSessionCookie(c *fiber.Ctx, cfg *config.Config) {
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookieName(cfg),
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   !cfg.Auth.Session.Insecure,
		SameSite: "Lax",
	})
}

func parseSessionFromRequest(c *fiber.Ctx, cfg *config.Config) (*sessionClaims, error) {
	secret := cfg.Auth.Session.Secret
	if secret == "" {
		return nil, fiber.ErrUnauthorized
	}
	cookie := c.Cookies(sessionCookieName(cfg))
	if cookie == "" {
		return nil, fiber.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(cookie, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fiber.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}
