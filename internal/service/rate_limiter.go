package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/domain"
)

// admissionLogger é implementado pelo logger estruturado
type admissionLogger interface {
	LogAdmissionEvent(identity domain.Identity, decision *domain.Decision, fields map[string]interface{})
}

var _ domain.RateLimiterService = (*RateLimiterService)(nil)

// RateLimiterService resolve as regras de uma identidade e consome os contadores
// na ordem resolvida. Separado do transporte HTTP.
type RateLimiterService struct {
	store    domain.CounterStore
	strategy identityStrategy
	config   Config
	general  atomic.Pointer[GeneralRules]
	clock    clock.Clock
	metrics  domain.MetricsRecorder
	logger   domain.Logger

	// warnings amostra os avisos de falha do backend durante uma queda
	warnings *rate.Limiter
}

// NewRateLimiterService cria uma nova instância do serviço
func NewRateLimiterService(
	store domain.CounterStore,
	clients domain.PolicyStore[domain.ClientPolicy],
	ips domain.PolicyStore[domain.IPPolicySet],
	config Config,
	general GeneralRules,
	clk clock.Clock,
	metrics domain.MetricsRecorder,
	logger domain.Logger,
) (*RateLimiterService, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	strategy, err := newIdentityStrategy(config, clients, ips)
	if err != nil {
		return nil, err
	}

	s := &RateLimiterService{
		store:    store,
		strategy: strategy,
		config:   config,
		clock:    clk,
		metrics:  metrics,
		logger:   logger,
		warnings: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	s.general.Store(&general)

	return s, nil
}

// UpdateGeneralRules troca as regras gerais e as whitelists de uma vez
func (s *RateLimiterService) UpdateGeneralRules(general GeneralRules) {
	s.general.Store(&general)

	s.logger.Info("General rules updated", map[string]interface{}{
		"rules":              len(general.Rules),
		"client_whitelist":   len(general.Whitelists.ClientIDs),
		"endpoint_whitelist": len(general.Whitelists.Endpoints),
		"ip_whitelist":       general.Whitelists.IPs.Len(),
	})
}

// Config retorna a configuração efetiva
func (s *RateLimiterService) Config() Config {
	return s.config
}

// Resolve retorna as regras aplicáveis à identidade, ordenadas por duração
func (s *RateLimiterService) Resolve(ctx context.Context, identity domain.Identity) ([]domain.Rule, error) {
	identity = s.normalize(identity)
	if err := s.strategy.validate(identity); err != nil {
		return nil, err
	}
	return s.resolve(ctx, identity)
}

func (s *RateLimiterService) resolve(ctx context.Context, identity domain.Identity) ([]domain.Rule, error) {
	policyRules, err := s.strategy.policyRules(ctx, identity)
	if err != nil {
		return nil, err
	}

	general := s.general.Load()

	// regras da política têm prioridade sobre as gerais no mesmo período
	rules := domain.ExceptPeriods(
		s.matchRules(policyRules, identity),
		s.matchRules(general.Rules, identity),
	)
	domain.SortByDuration(rules, s.config.StackBlockedRequests)

	return rules, nil
}

// matchRules une as regras de endpoint e as globais de um conjunto, com as de
// endpoint prevalecendo no mesmo período
func (s *RateLimiterService) matchRules(rules domain.RuleSet, identity domain.Identity) []domain.Rule {
	var endpointRules []domain.Rule
	if s.config.EnableEndpointRateLimiting {
		endpointRules = rules.EndpointRules(identity.HTTPVerb, identity.Path)
	}
	return domain.ExceptPeriods(endpointRules, rules.GlobalRules(identity.HTTPVerb))
}

// Admit avalia as regras em ordem e para na primeira cota excedida
func (s *RateLimiterService) Admit(ctx context.Context, identity domain.Identity) (*domain.Decision, error) {
	identity = s.normalize(identity)
	if err := s.strategy.validate(identity); err != nil {
		return nil, err
	}

	general := s.general.Load()
	if isWhitelisted(s.strategy, identity, general.Whitelists) {
		decision := &domain.Decision{Allowed: true, Exempt: true}
		s.record(ctx, identity, decision)
		return decision, nil
	}

	rules, err := s.resolve(ctx, identity)
	if err != nil {
		s.metrics.RecordBackendError("resolve")
		s.warnBackendFailure(ctx, "resolve", "", err)
		decision := s.applyFailurePolicy(nil)
		s.record(ctx, identity, decision)
		return decision, nil
	}

	decision := &domain.Decision{Allowed: true}
	for i := range rules {
		rule := rules[i]

		if rule.Limit <= 0 {
			decision = s.block(rule, domain.AdmissionResult{
				Success:   false,
				Remaining: 0,
				ResetAt:   s.clock.Now().Add(rule.Duration()),
			})
			break
		}

		key := s.ComputeCounterKey(identity, rule)
		result, err := s.consume(ctx, key, rule)
		if err != nil {
			s.warnBackendFailure(ctx, "consume", key, err)
			failed := s.applyFailurePolicy(&rule)
			if !failed.Allowed {
				decision = failed
				break
			}
			decision.Degraded = true
			decision.Rule = failed.Rule
			decision.Result = failed.Result
			continue
		}

		if !result.Success {
			degraded := decision.Degraded
			decision = s.block(rule, result)
			decision.Degraded = degraded
			break
		}

		decision.Rule = &rule
		decision.Result = result
	}

	s.record(ctx, identity, decision)
	return decision, nil
}

// consume chama o backend respeitando o timeout configurado
func (s *RateLimiterService) consume(ctx context.Context, key string, rule domain.Rule) (domain.AdmissionResult, error) {
	if s.config.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.BackendTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	result, err := s.store.Consume(ctx, key, rule)
	s.metrics.ObserveConsume(s.clock.Since(start))
	if err != nil {
		s.metrics.RecordBackendError("consume")
		return domain.AdmissionResult{}, err
	}
	return result, nil
}

// applyFailurePolicy decide a requisição quando o backend não respondeu
func (s *RateLimiterService) applyFailurePolicy(rule *domain.Rule) *domain.Decision {
	now := s.clock.Now()

	if s.config.FailureMode == FailClosed {
		decision := &domain.Decision{
			Allowed:    false,
			Rule:       rule,
			Result:     domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: now},
			RetryAfter: time.Second,
			Message:    "rate limit backend unavailable",
			Degraded:   true,
		}
		if rule != nil {
			decision.Message = s.quotaMessage(*rule, decision.RetryAfter)
		}
		return decision
	}

	decision := &domain.Decision{Allowed: true, Rule: rule, Degraded: true}
	if rule != nil {
		decision.Result = domain.AdmissionResult{
			Success:   true,
			Remaining: rule.Limit,
			ResetAt:   now.Add(rule.Duration()),
		}
	}
	return decision
}

func (s *RateLimiterService) warnBackendFailure(ctx context.Context, operation, key string, err error) {
	if !s.warnings.Allow() {
		return
	}

	s.logger.WithContext(ctx).Warn("Counter backend failure, applying failure policy", map[string]interface{}{
		"operation":    operation,
		"key":          key,
		"failure_mode": string(s.config.FailureMode),
		"error":        err.Error(),
		"timeout":      errors.Is(err, context.DeadlineExceeded),
	})
}

// block monta a decisão de bloqueio para a regra excedida
func (s *RateLimiterService) block(rule domain.Rule, result domain.AdmissionResult) *domain.Decision {
	retryAfter := RetryAfter(result.ResetAt, s.clock.Now())

	return &domain.Decision{
		Allowed:    false,
		Rule:       &rule,
		Result:     result,
		RetryAfter: retryAfter,
		Message:    s.quotaMessage(rule, retryAfter),
	}
}

func (s *RateLimiterService) quotaMessage(rule domain.Rule, retryAfter time.Duration) string {
	return FormatQuotaMessage(s.config.QuotaExceededMessage, rule, retryAfter)
}

func (s *RateLimiterService) record(ctx context.Context, identity domain.Identity, decision *domain.Decision) {
	s.metrics.RecordDecision(decision.Rule, decision.Allowed, decision.Exempt)

	logger := s.logger.WithContext(ctx)
	if event, ok := logger.(admissionLogger); ok {
		event.LogAdmissionEvent(identity, decision, nil)
		return
	}

	if !decision.Allowed {
		logger.Info("Rate limit exceeded", map[string]interface{}{
			"verb": identity.HTTPVerb,
			"path": identity.Path,
		})
	}
}

// ComputeCounterKey monta a chave do contador:
// {prefixo}_{discriminador}_{período}[*][_{endpoint}]
func (s *RateLimiterService) ComputeCounterKey(identity domain.Identity, rule domain.Rule) string {
	identity = s.normalize(identity)

	var key strings.Builder
	key.WriteString(s.config.CounterPrefix)
	key.WriteByte('_')
	key.WriteString(s.strategy.discriminator(identity))
	key.WriteByte('_')
	key.WriteString(rule.Period)
	if rule.UseSlidingWindow {
		key.WriteByte('*')
	}
	if s.config.EnableEndpointRateLimiting {
		key.WriteByte('_')
		key.WriteString(strings.ToLower(rule.Endpoint))
	}

	return key.String()
}

// Reset limpa o contador de uma identidade para uma regra
func (s *RateLimiterService) Reset(ctx context.Context, identity domain.Identity, rule domain.Rule) error {
	identity = s.normalize(identity)
	if err := s.strategy.validate(identity); err != nil {
		return err
	}

	key := s.ComputeCounterKey(identity, rule)
	if err := s.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}

	s.logger.WithContext(ctx).Info("Rate limit counter reset", map[string]interface{}{
		"key":    key,
		"period": rule.Period,
	})

	return nil
}

// Health verifica o backend de contadores
func (s *RateLimiterService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

func (s *RateLimiterService) normalize(identity domain.Identity) domain.Identity {
	identity.ClientID = strings.TrimSpace(identity.ClientID)
	if identity.ClientIP.IsValid() {
		identity.ClientIP = identity.ClientIP.WithZone("")
		if s.config.UnmapIPv4 && identity.ClientIP.Is4In6() {
			identity.ClientIP = identity.ClientIP.Unmap()
		}
	}
	return identity
}

// RetryAfter arredonda para cima o tempo até resetAt, com mínimo de um segundo
func RetryAfter(resetAt, now time.Time) time.Duration {
	seconds := math.Ceil(resetAt.Sub(now).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// FormatQuotaMessage substitui {0} pelo limite, {1} pelo período e {2} pelos
// segundos de espera
func FormatQuotaMessage(template string, rule domain.Rule, retryAfter time.Duration) string {
	return strings.NewReplacer(
		"{0}", strconv.Itoa(rule.Limit),
		"{1}", rule.Period,
		"{2}", strconv.FormatInt(int64(retryAfter/time.Second), 10),
	).Replace(template)
}
