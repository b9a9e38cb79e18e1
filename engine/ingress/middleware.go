package ingress

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/compozy/relay/pkg/logger"
)

// LoggerMiddleware attaches log to the request context and logs every
// completed request.
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))

		c.Next()

		status := c.Writer.Status()
		keyvals := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			keyvals = append(keyvals, "error", msg)
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request completed", keyvals...)
		case status >= http.StatusBadRequest:
			log.Warn("request rejected", keyvals...)
		default:
			log.Info("request completed", keyvals...)
		}
	}
}

// RecoveryMiddleware turns handler panics into a generic 500. When the
// response is already committed the panic is only logged.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			err := fmt.Errorf("panic: %v", r)
			log := logger.FromContext(c.Request.Context())
			if c.Writer.Written() {
				log.Error("panic after response was committed", "error", err)
				c.Abort()
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		}()
		c.Next()
	}
}

// RateLimitMiddleware limits requests per peer address to perMinute using an
// in-memory store. Forwarding headers are ignored when keying. A non-positive
// limit disables limiting.
func RateLimitMiddleware(perMinute int64) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	rate := limiter.Rate{Period: time.Minute, Limit: perMinute}
	lim := limiter.New(memory.NewStore(), rate)
	return mgin.NewMiddleware(lim,
		mgin.WithKeyGetter(func(c *gin.Context) string { return c.RemoteIP() }),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": msgRateLimited})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		}),
	)
}

func methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": msgMethod})
}

// notFound answers unknown paths. Only POST can reach a route, so any other
// method is rejected as not allowed whatever the path.
func notFound(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		methodNotAllowed(c)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}
