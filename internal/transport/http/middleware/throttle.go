package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// ActivityThrottle collapses bursts of activity pings into at most one
// forwarded request per interval. Suppressed requests still succeed with
// 204 so callers never need to care whether their ping was the winner.
//
// The daemon serves a single principal, so one shared timestamp is enough;
// there is no per-client bookkeeping.
func ActivityThrottle(minInterval time.Duration) gin.HandlerFunc {
	if minInterval <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	var lastForwarded atomic.Int64

	return func(c *gin.Context) {
		now := time.Now().UnixNano()
		last := lastForwarded.Load()

		if last != 0 && now-last < int64(minInterval) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		if !lastForwarded.CompareAndSwap(last, now) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
