package lockd

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID     = "X-Request-Id"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	ctxLogger = "logger"
	ctxClaims = "claims"
)

// requestLogger injects a request id and logs one summary line per request.
func requestLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set(ctxLogger, reqLogger)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
			if c.Writer.Status() >= http.StatusInternalServerError {
				reqLogger.Error("request", attrs...)
				return
			}
		}
		reqLogger.Info("request", attrs...)
	}
}

// loggerFrom pulls the request-scoped logger from the gin context.
func loggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// requireToken verifies a bearer token of the given type and stores its
// claims on the gin context.
func requireToken(tokens *Tokens, typ TokenType, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{Code: codeUnauthenticated, Message: "missing bearer token"})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(raw, bearerPrefix), typ, now())
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{Code: codeUnauthenticated, Message: "invalid " + string(typ) + " token"})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(Claims)
	return claims
}
