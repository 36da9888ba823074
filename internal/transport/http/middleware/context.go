package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mohabh15/studio-sub000/internal/infra/logger"
)

// RequestIDHeader carries the correlation identifier. A fronting proxy may
// supply one; otherwise an ID is minted per request and echoed back.
const RequestIDHeader = "X-Request-ID"

const requestContextKey = "authd_request_context"

// RequestContext is the per-request correlation state the access logger and
// error payloads draw from.
type RequestContext struct {
	RequestID string
	IP        string
	UserAgent string
}

// EnrichContext assigns the correlation ID and records client metadata for
// downstream middleware and handlers. The ID also lands on the request
// context so logger.WithContext picks it up below the transport.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(RequestIDHeader, id)
		c.Set(requestContextKey, &RequestContext{
			RequestID: id,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetRequestContext returns the request's correlation state, zero-valued when
// the middleware did not run.
func GetRequestContext(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if reqCtx, ok := v.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}

// GetRequestID returns the request's correlation ID, or "" when unset.
func GetRequestID(c *gin.Context) string {
	return GetRequestContext(c).RequestID
}
