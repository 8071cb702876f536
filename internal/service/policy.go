package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"rate-limit-engine/internal/domain"
)

var _ domain.PolicyService = (*PolicyService)(nil)

// PolicyService administra as políticas de client id e de endereço
type PolicyService struct {
	clients      domain.PolicyStore[domain.ClientPolicy]
	ips          domain.PolicyStore[domain.IPPolicySet]
	clientPrefix string
	ipKey        string
	logger       domain.Logger

	// seeded guarda os client ids vindos do arquivo, para remover os que
	// sumirem numa recarga
	seeded map[string]struct{}
	mutex  sync.Mutex
}

// NewPolicyService cria uma nova instância do serviço de políticas
func NewPolicyService(
	clients domain.PolicyStore[domain.ClientPolicy],
	ips domain.PolicyStore[domain.IPPolicySet],
	config Config,
	logger domain.Logger,
) *PolicyService {
	config = config.withDefaults()

	return &PolicyService{
		clients:      clients,
		ips:          ips,
		clientPrefix: config.ClientPolicyPrefix,
		ipKey:        config.IPPolicyPrefix,
		logger:       logger,
		seeded:       make(map[string]struct{}),
	}
}

func (s *PolicyService) GetClientPolicy(ctx context.Context, clientID string) (*domain.ClientPolicy, error) {
	policy, err := s.clients.Get(ctx, ClientPolicyKey(s.clientPrefix, clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to get client policy: %w", err)
	}
	if policy == nil {
		return nil, fmt.Errorf("%w: client %s", domain.ErrPolicyNotFound, clientID)
	}
	return policy, nil
}

func (s *PolicyService) SetClientPolicy(ctx context.Context, policy *domain.ClientPolicy) error {
	if policy == nil || strings.TrimSpace(policy.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", domain.ErrInvalidPolicy)
	}
	if err := validateRules(policy.Rules); err != nil {
		return err
	}

	if err := s.clients.Set(ctx, ClientPolicyKey(s.clientPrefix, policy.ClientID), policy); err != nil {
		return fmt.Errorf("failed to set client policy: %w", err)
	}

	s.logger.WithContext(ctx).Info("Client policy updated", map[string]interface{}{
		"client_id": policy.ClientID,
		"rules":     len(policy.Rules),
	})
	return nil
}

func (s *PolicyService) RemoveClientPolicy(ctx context.Context, clientID string) error {
	key := ClientPolicyKey(s.clientPrefix, clientID)

	exists, err := s.clients.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check client policy: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: client %s", domain.ErrPolicyNotFound, clientID)
	}

	if err := s.clients.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to remove client policy: %w", err)
	}

	s.logger.WithContext(ctx).Info("Client policy removed", map[string]interface{}{
		"client_id": clientID,
	})
	return nil
}

// GetIPPolicies retorna o conjunto de políticas por endereço, vazio quando não há
func (s *PolicyService) GetIPPolicies(ctx context.Context) (*domain.IPPolicySet, error) {
	policies, err := s.ips.Get(ctx, s.ipKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get ip policies: %w", err)
	}
	if policies == nil {
		return &domain.IPPolicySet{Policies: []domain.IPPolicy{}}, nil
	}
	return policies, nil
}

// SetIPPolicies substitui todas as políticas por endereço
func (s *PolicyService) SetIPPolicies(ctx context.Context, policies *domain.IPPolicySet) error {
	if policies == nil {
		return fmt.Errorf("%w: ip policy set is required", domain.ErrInvalidPolicy)
	}
	for _, policy := range policies.Policies {
		if !policy.Range().IsValid() {
			return fmt.Errorf("%w: invalid address range %q", domain.ErrInvalidPolicy, policy.IP)
		}
		if err := validateRules(policy.Rules); err != nil {
			return err
		}
	}

	if err := s.ips.Set(ctx, s.ipKey, policies); err != nil {
		return fmt.Errorf("failed to set ip policies: %w", err)
	}

	s.logger.WithContext(ctx).Info("IP policies updated", map[string]interface{}{
		"policies": len(policies.Policies),
	})
	return nil
}

// Seed grava as políticas do arquivo. Políticas de client id semeadas numa
// carga anterior e ausentes agora são removidas. As criadas pela API ficam.
func (s *PolicyService) Seed(ctx context.Context, clients []domain.ClientPolicy, ips *domain.IPPolicySet) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current := make(map[string]struct{}, len(clients))
	for i := range clients {
		if err := s.SetClientPolicy(ctx, &clients[i]); err != nil {
			return fmt.Errorf("failed to seed client %s: %w", clients[i].ClientID, err)
		}
		current[clients[i].ClientID] = struct{}{}
	}

	for clientID := range s.seeded {
		if _, ok := current[clientID]; ok {
			continue
		}
		if err := s.clients.Remove(ctx, ClientPolicyKey(s.clientPrefix, clientID)); err != nil {
			return fmt.Errorf("failed to remove stale client %s: %w", clientID, err)
		}
	}
	s.seeded = current

	if ips == nil {
		ips = &domain.IPPolicySet{}
	}
	if err := s.SetIPPolicies(ctx, ips); err != nil {
		return fmt.Errorf("failed to seed ip policies: %w", err)
	}

	return nil
}

func validateRules(rules domain.RuleSet) error {
	for _, rule := range rules {
		if !rule.IsValid() {
			return fmt.Errorf("%w: rule for endpoint %q has invalid period %q", domain.ErrInvalidPolicy, rule.Endpoint, rule.Period)
		}
		if strings.TrimSpace(rule.Endpoint) == "" {
			return fmt.Errorf("%w: rule endpoint is required", domain.ErrInvalidPolicy)
		}
	}
	return nil
}
