package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/yakoovad/taskcrew/internal/auth"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

const (
	contextKeyUserID    = "user_id"
	contextKeyUserEmail = "user_email"
)

func ZapLoggerMiddleware(l *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			reqLogger := l.With(
				zap.String("request_id", requestID),
			)

			c.Set("logger", reqLogger)

			ctx := logger.WithLogger(req.Context(), reqLogger)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			latency := time.Since(start)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
				zap.Int("status", res.Status),
				zap.Duration("latency", latency),
				zap.Int64("bytes_in", req.ContentLength),
				zap.Int64("bytes_out", res.Size),
			}

			if err != nil {
				fields = append(fields, zap.Error(err))
				reqLogger.Error("request failed", fields...)
			} else {
				reqLogger.Info("request completed", fields...)
			}

			return err
		}
	}
}

// AuthMiddleware verifies the bearer token and exposes the caller's stable
// user id to handlers. Token issuance lives in the external identity
// provider; this service only verifies.
func AuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization header must be a bearer token"})
			}

			claims, err := auth.VerifyToken(tokenString)
			if err != nil {
				logger.FromContext(c.Request().Context()).Warn("token verification failed", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			}

			c.Set(contextKeyUserID, claims.UserID)
			c.Set(contextKeyUserEmail, claims.Email)

			return next(c)
		}
	}
}

func callerID(c echo.Context) string {
	if id, ok := c.Get(contextKeyUserID).(string); ok {
		return id
	}
	return ""
}

func callerEmail(c echo.Context) string {
	if email, ok := c.Get(contextKeyUserEmail).(string); ok {
		return email
	}
	return ""
}
