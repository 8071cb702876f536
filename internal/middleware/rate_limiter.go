package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/iprange"
)

// DecisionKey guarda a decisão no contexto do gin
const DecisionKey = "admission_decision"

// RateLimiterMiddleware aplica o motor de admissão às rotas protegidas
type RateLimiterMiddleware struct {
	service    domain.RateLimiterService
	extractor  IdentityExtractor
	statusCode int
	logger     domain.Logger
}

// NewRateLimiterMiddleware cria uma nova instância do middleware
func NewRateLimiterMiddleware(
	service domain.RateLimiterService,
	extractor IdentityExtractor,
	statusCode int,
	logger domain.Logger,
) gin.HandlerFunc {
	if statusCode == 0 {
		statusCode = http.StatusTooManyRequests
	}

	middleware := &RateLimiterMiddleware{
		service:    service,
		extractor:  extractor,
		statusCode: statusCode,
		logger:     logger,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *RateLimiterMiddleware) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	logger := m.logger.WithContext(ctx)

	identity, err := m.extractor.Extract(c)
	if err != nil {
		logger.Warn("Unable to resolve client identity", map[string]interface{}{
			"remote_addr": c.Request.RemoteAddr,
			"error":       err.Error(),
		})
		WriteError(c, err)
		c.Abort()
		return
	}

	decision, err := m.service.Admit(ctx, identity)
	if err != nil {
		logger.Error("Rate limiter service error", err, map[string]interface{}{
			"path": identity.Path,
		})
		WriteError(c, err)
		c.Abort()
		return
	}

	c.Set(DecisionKey, decision)

	if !decision.Allowed {
		c.JSON(m.statusCode, BlockedResponse(decision))
		c.Abort()
		return
	}

	c.Next()
}

// BlockedResponse monta o corpo da resposta de cota excedida. Nenhum
// cabeçalho de rate limit é escrito.
func BlockedResponse(decision *domain.Decision) gin.H {
	response := gin.H{
		"error":       "rate_limit_exceeded",
		"message":     decision.Message,
		"retry_after": int64(decision.RetryAfter.Seconds()),
	}

	if decision.Rule != nil {
		response["details"] = gin.H{
			"endpoint":  decision.Rule.Endpoint,
			"limit":     decision.Rule.Limit,
			"period":    decision.Rule.Period,
			"remaining": decision.Result.Remaining,
			"reset_at":  decision.Result.ResetAt.Unix(),
		}
	}

	return response
}

// WriteError traduz os erros do domínio em status HTTP
func WriteError(c *gin.Context, err error) {
	var resolutionErr *iprange.ResolutionError

	switch {
	case errors.As(err, &resolutionErr), errors.Is(err, domain.ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_identity",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrInvalidPolicy):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrPolicyNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "backend_unavailable",
			"message": "Counter backend unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Unable to process request",
		})
	}
}
