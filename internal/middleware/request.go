package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/logger"
)

// RequestIDHeader é o cabeçalho usado para correlacionar requisições
const RequestIDHeader = "X-Request-ID"

// httpLogger é implementado pelo logger estruturado
type httpLogger interface {
	LogHTTPRequest(method, path string, status int, latency time.Duration, fields map[string]interface{})
}

// RequestContext gera o request id, enriquece o contexto para os logs e
// registra cada requisição concluída
func RequestContext(extractor IdentityExtractor, log domain.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		clientIP := ""
		if addr, err := extractor.ClientAddress(c); err == nil {
			clientIP = addr.String()
		}

		ctx := logger.ContextWithRequestInfo(
			c.Request.Context(),
			requestID,
			extractor.ClientID(c),
			clientIP,
			c.GetHeader("User-Agent"),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if l, ok := log.WithContext(ctx).(httpLogger); ok {
			l.LogHTTPRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), nil)
		}
	}
}
