package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sterilization-gateway/internal/backend"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/services"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxRequestID = "request_id"
	ctxUser      = "user"
)

// Authenticator resolves a bearer token to the user it belongs to;
// *services.Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// RequestIDMiddleware reuses the caller's X-Request-ID or mints one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.With(logrus.Fields{
			"request_id": c.GetString(ctxRequestID),
			"user":       c.GetString(ctxUser),
		}).Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// AuthMiddleware requires a bearer token the backend accepts and forwards it on
// every call made with the request context. The acting user comes from the
// backend's session, never from a request header. Browsers cannot set headers
// on a websocket handshake, so a "token" query parameter is accepted as well.
func AuthMiddleware(auth Authenticator, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			var apiErr *backend.APIError
			switch {
			case errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			case errors.Is(err, context.Canceled):
				c.AbortWithStatus(499)
			default:
				logger.Errorf("Verify token %s: %v", services.Fingerprint(token), err)
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
			}
			return
		}
		c.Set(ctxUser, user)

		ctx := backend.WithToken(c.Request.Context(), token)
		ctx = services.WithMeta(ctx, services.Meta{Actor: user, RequestID: c.GetString(ctxRequestID)})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
