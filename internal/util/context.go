package util

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey int

const (
	clientIPKey contextKey = iota
	requestPathKey
)

// WithRequestInfo returns a context carrying the caller's IP and request path
func WithRequestInfo(ctx context.Context, clientIP, path string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, requestPathKey, path)
}

// RequestInfoMiddleware copies the client IP and path into the request context
// so services can attribute audit events without depending on gin.
func RequestInfoMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithRequestInfo(c.Request.Context(), c.ClientIP(), c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetIPFromContext extracts the client IP address from the context
func GetIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}

// GetRequestPathFromContext extracts the request path from the context
func GetRequestPathFromContext(ctx context.Context) string {
	if path, ok := ctx.Value(requestPathKey).(string); ok {
		return path
	}
	return ""
}
