package http

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clipnote/internal/config"
	"clipnote/internal/metrics"
)

func unauthenticated(c *fiber.Ctx, msg string) error {
	return writeError(c, fiber.StatusUnauthorized, "UNAUTHENTICATED", msg)
}

// parseBearerToken validates an HS256 token issued by the auth platform and
// returns its subject.
func parseBearerToken(raw string, cfg *config.Config) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Auth.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Auth.JWTSecret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// authMiddleware accepts an Authorization: Bearer JWT or the session cookie
// and stores the resulting Principal as "principal".
func authMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rawAuth := c.Get(fiber.HeaderAuthorization); rawAuth != "" {
			if !strings.HasPrefix(rawAuth, "Bearer ") {
				return unauthenticated(c, "Missing Authorization Bearer token")
			}
			token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
			sub, err := parseBearerToken(token, cfg)
			if err != nil {
				requestLogger(c).Debug("bearer token rejected", zap.Error(err))
				return unauthenticated(c, "Invalid or expired token")
			}
			c.Locals("principal", Principal{UserID: sub, Source: "bearer"})
			return c.Next()
		}

		claims, err := parseSessionFromRequest(c, cfg)
		if err != nil {
			return unauthenticated(c, "Authentication required")
		}
		c.Locals("principal", Principal{UserID: claims.UserID, Source: "session"})
		return c.Next()
	}
}

// windowCounter is the subset of the Redis client the rate limiter needs.
type windowCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// rateLimitMiddleware enforces a per-IP fixed one-minute window. With no
// counter or a non-positive limit it is a no-op.
func rateLimitMiddleware(limit int, rdb windowCounter, now func() time.Time) fiber.Handler {
	if rdb == nil || limit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if now == nil {
		now = time.Now
	}
	return func(c *fiber.Ctx) error {
		t := now().UTC()
		window := t.Format("200601021504")
		key := fmt.Sprintf("clipnote:rl:%s:%s", c.IP(), window)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Fail open while Redis is unavailable.
			requestLogger(c).Warn("rate limit increment failed", zap.Error(err))
			return c.Next()
		}
		if count == 1 {
			if err := rdb.Expire(ctx, key, time.Minute).Err(); err != nil {
				requestLogger(c).Warn("rate limit expire failed", zap.String("key", key), zap.Error(err))
			}
		}

		if count > int64(limit) {
			metrics.RecordRateLimited()
			retry := t.Truncate(time.Minute).Add(time.Minute).Sub(t)
			secs := int(retry.Seconds())
			if secs < 1 {
				secs = 1
			}
			minutes := (secs + 59) / 60
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return writeError(c, fiber.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				fmt.Sprintf("リクエストが多すぎます。約%d分後に再試行してください", minutes))
		}
		return c.Next()
	}
}

// requestMiddleware assigns a request id, attaches a request-scoped logger
// and records the access log line and request metric.
func requestMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)
		c.Locals("logger", logger.With(zap.String("request_id", reqID)))

		err := c.Next()
		if err != nil {
			// Let the ErrorHandler write the response so the status is final.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		route := c.Route().Path

		metrics.RecordRequest(method, route, status, latency.Milliseconds())

		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", method),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Int64("latency_ms", latency.Milliseconds()),
			zap.String("ip", c.IP()),
		}
		if v, ok := c.Locals("degraded").(string); ok && v != "" {
			fields = append(fields, zap.String("degraded", v))
		}
		logger.Info("request", fields...)
		return nil
	}
}

func requestLogger(c *fiber.Ctx) *zap.Logger {
	if l, ok := c.Locals("logger").(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
