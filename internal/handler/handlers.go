package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/iprange"
	"rate-limit-engine/internal/middleware"
)

// Options reúne as dependências opcionais dos handlers
type Options struct {
	Extractor      middleware.IdentityExtractor
	StatusCode     int
	MetricsHandler http.Handler
	Version        string
}

// Handlers contém os handlers da API
type Handlers struct {
	service   domain.RateLimiterService
	policies  domain.PolicyService
	logger    domain.Logger
	options   Options
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(service domain.RateLimiterService, policies domain.PolicyService, logger domain.Logger, options Options) *Handlers {
	if options.StatusCode == 0 {
		options.StatusCode = http.StatusTooManyRequests
	}
	if options.Version == "" {
		options.Version = "1.0.0"
	}

	return &Handlers{
		service:   service,
		policies:  policies,
		logger:    logger,
		options:   options,
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.Use(middleware.RequestContext(h.options.Extractor, h.logger))

	// Rotas públicas (sem rate limiting)
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", h.MetricsHandler)

	// Rotas protegidas por rate limiting
	protected := router.Group("/")
	protected.Use(middleware.NewRateLimiterMiddleware(h.service, h.options.Extractor, h.options.StatusCode, h.logger))
	{
		protected.GET("/", h.ExampleHandler)
	}

	// Motor de admissão para proxies e gateways
	v1 := router.Group("/v1")
	{
		v1.POST("/admit", h.AdmitHandler)
		v1.GET("/rules", h.RulesHandler)
	}

	// Rotas administrativas (sem rate limiting)
	admin := router.Group("/admin")
	{
		admin.GET("/policies/clients/:id", h.GetClientPolicyHandler)
		admin.PUT("/policies/clients/:id", h.SetClientPolicyHandler)
		admin.DELETE("/policies/clients/:id", h.RemoveClientPolicyHandler)
		admin.GET("/policies/ip", h.GetIPPoliciesHandler)
		admin.PUT("/policies/ip", h.SetIPPoliciesHandler)
		admin.DELETE("/counters", h.ResetCounterHandler)
	}
}

// HealthHandler verifica o backend de contadores
func (h *Handlers) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := gin.H{
		"status":    "healthy",
		"service":   "Admission Engine API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.options.Version,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
	}

	if err := h.service.Health(ctx); err != nil {
		h.logger.WithContext(ctx).Warn("Health check failed", map[string]interface{}{
			"error": err.Error(),
		})
		response["status"] = "unhealthy"
		response["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// MetricsHandler expõe as métricas Prometheus do registry configurado
func (h *Handlers) MetricsHandler(c *gin.Context) {
	if h.options.MetricsHandler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics are not enabled"})
		return
	}
	h.options.MetricsHandler.ServeHTTP(c.Writer, c.Request)
}

// ExampleHandler implementa um endpoint de exemplo protegido por rate limiting
func (h *Handlers) ExampleHandler(c *gin.Context) {
	response := gin.H{
		"message":   "Hello from Admission Engine API!",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"path":      c.Request.URL.Path,
		"method":    c.Request.Method,
	}

	if value, ok := c.Get(middleware.DecisionKey); ok {
		if decision, ok := value.(*domain.Decision); ok && decision.Rule != nil {
			response["remaining"] = decision.Result.Remaining
			response["period"] = decision.Rule.Period
		}
	}

	c.JSON(http.StatusOK, response)
}

// IdentityRequest descreve uma identidade no corpo ou na query
type IdentityRequest struct {
	ClientID string `json:"client_id" form:"client_id"`
	ClientIP string `json:"client_ip" form:"client_ip"`
	Verb     string `json:"verb" form:"verb"`
	Path     string `json:"path" form:"path"`
}

// AdmissionResponse é a decisão com o tempo de espera em segundos
type AdmissionResponse struct {
	*domain.Decision
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// AdmitHandler avalia uma identidade informada pelo chamador
func (h *Handlers) AdmitHandler(c *gin.Context) {
	var req IdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	identity, err := h.identityFrom(c, req)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	decision, err := h.service.Admit(c.Request.Context(), identity)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("Failed to admit request", err, nil)
		middleware.WriteError(c, err)
		return
	}

	response := AdmissionResponse{Decision: decision}
	status := http.StatusOK
	if !decision.Allowed {
		response.RetryAfter = int64(decision.RetryAfter.Seconds())
		status = h.options.StatusCode
	}

	c.JSON(status, response)
}

// RulesHandler mostra as regras resolvidas para uma identidade
func (h *Handlers) RulesHandler(c *gin.Context) {
	var req IdentityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid query: " + err.Error(),
		})
		return
	}

	identity, err := h.identityFrom(c, req)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	rules, err := h.service.Resolve(c.Request.Context(), identity)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("Failed to resolve rules", err, nil)
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verb":  identity.HTTPVerb,
		"path":  identity.Path,
		"rules": rules,
	})
}

// identityFrom completa a identidade com os dados da própria requisição
func (h *Handlers) identityFrom(c *gin.Context, req IdentityRequest) (domain.Identity, error) {
	identity := domain.Identity{
		ClientID: strings.TrimSpace(req.ClientID),
		HTTPVerb: strings.ToUpper(strings.TrimSpace(req.Verb)),
		Path:     strings.TrimSpace(req.Path),
	}

	if identity.HTTPVerb == "" {
		identity.HTTPVerb = http.MethodGet
	}
	if identity.Path == "" {
		identity.Path = "/"
	}

	if req.ClientIP != "" {
		addr, err := iprange.ParseClientAddress(req.ClientIP)
		if err != nil {
			return domain.Identity{}, err
		}
		identity.ClientIP = addr
	} else {
		addr, err := h.options.Extractor.ClientAddress(c)
		if err != nil {
			return domain.Identity{}, err
		}
		identity.ClientIP = addr
	}

	if identity.ClientID == "" {
		identity.ClientID = h.options.Extractor.ClientID(c)
	}

	return identity, nil
}

// GetClientPolicyHandler retorna a política de um client id
func (h *Handlers) GetClientPolicyHandler(c *gin.Context) {
	policy, err := h.policies.GetClientPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// ClientPolicyRequest é o corpo do PUT de política de cliente
type ClientPolicyRequest struct {
	Rules domain.RuleSet `json:"rules" binding:"required"`
}

// SetClientPolicyHandler cria ou substitui a política de um client id
func (h *Handlers) SetClientPolicyHandler(c *gin.Context) {
	var req ClientPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	policy := &domain.ClientPolicy{ClientID: c.Param("id"), Rules: req.Rules}
	if err := h.policies.SetClientPolicy(c.Request.Context(), policy); err != nil {
		h.logError(c, "Failed to set client policy", err)
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// RemoveClientPolicyHandler remove a política de um client id
func (h *Handlers) RemoveClientPolicyHandler(c *gin.Context) {
	if err := h.policies.RemoveClientPolicy(c.Request.Context(), c.Param("id")); err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetIPPoliciesHandler retorna todas as políticas por endereço
func (h *Handlers) GetIPPoliciesHandler(c *gin.Context) {
	policies, err := h.policies.GetIPPolicies(c.Request.Context())
	if err != nil {
		h.logError(c, "Failed to get ip policies", err)
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, policies)
}

// SetIPPoliciesHandler substitui todas as políticas por endereço
func (h *Handlers) SetIPPoliciesHandler(c *gin.Context) {
	var policies domain.IPPolicySet
	if err := c.ShouldBindJSON(&policies); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := h.policies.SetIPPolicies(c.Request.Context(), &policies); err != nil {
		h.logError(c, "Failed to set ip policies", err)
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, policies)
}

// ResetCounterRequest identifica o contador a ser limpo
type ResetCounterRequest struct {
	IdentityRequest
	Rule *domain.Rule `json:"rule" binding:"required"`
}

// ResetCounterHandler limpa o contador de uma identidade para uma regra
func (h *Handlers) ResetCounterHandler(c *gin.Context) {
	var req ResetCounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	identity, err := h.identityFrom(c, req.IdentityRequest)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	if err := h.service.Reset(c.Request.Context(), identity, *req.Rule); err != nil {
		h.logError(c, "Failed to reset counter", err)
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Counter reset successfully",
		"key":       h.service.ComputeCounterKey(identity, *req.Rule),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) logError(c *gin.Context, msg string, err error) {
	h.logger.WithContext(c.Request.Context()).Error(msg, err, map[string]interface{}{
		"path": c.Request.URL.Path,
	})
}
