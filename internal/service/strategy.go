package service

import (
	"context"
	"fmt"
	"strings"

	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/iprange"
)

// identityStrategy concentra o que muda entre limitar por client id e por endereço
type identityStrategy interface {
	// discriminator é a parte da identidade usada na chave do contador
	discriminator(identity domain.Identity) string

	// policyRules busca as regras de política que valem para a identidade
	policyRules(ctx context.Context, identity domain.Identity) (domain.RuleSet, error)

	// isExempt verifica as whitelists específicas do modo
	isExempt(identity domain.Identity, whitelists Whitelists) bool

	validate(identity domain.Identity) error
}

func newIdentityStrategy(config Config, clients domain.PolicyStore[domain.ClientPolicy], ips domain.PolicyStore[domain.IPPolicySet]) (identityStrategy, error) {
	switch config.Mode {
	case ClientMode:
		if clients == nil {
			return nil, fmt.Errorf("client mode requires a client policy store")
		}
		return &clientStrategy{store: clients, prefix: config.ClientPolicyPrefix}, nil
	case IPMode:
		if ips == nil {
			return nil, fmt.Errorf("ip mode requires an ip policy store")
		}
		return &ipStrategy{store: ips, key: config.IPPolicyPrefix, unmapIPv4: config.UnmapIPv4}, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit mode: %s", config.Mode)
	}
}

// ClientPolicyKey monta a chave da política de um client id
func ClientPolicyKey(prefix, clientID string) string {
	return prefix + "_" + clientID
}

type clientStrategy struct {
	store  domain.PolicyStore[domain.ClientPolicy]
	prefix string
}

func (s *clientStrategy) discriminator(identity domain.Identity) string {
	return identity.ClientID
}

func (s *clientStrategy) policyRules(ctx context.Context, identity domain.Identity) (domain.RuleSet, error) {
	policy, err := s.store.Get(ctx, ClientPolicyKey(s.prefix, identity.ClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to get client policy: %w", err)
	}
	if policy == nil {
		return nil, nil
	}
	return policy.Rules, nil
}

func (s *clientStrategy) isExempt(identity domain.Identity, whitelists Whitelists) bool {
	return false
}

func (s *clientStrategy) validate(identity domain.Identity) error {
	if strings.TrimSpace(identity.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", domain.ErrInvalidIdentity)
	}
	return nil
}

type ipStrategy struct {
	store     domain.PolicyStore[domain.IPPolicySet]
	key       string
	unmapIPv4 bool
}

func (s *ipStrategy) discriminator(identity domain.Identity) string {
	return identity.ClientIP.String()
}

func (s *ipStrategy) policyRules(ctx context.Context, identity domain.Identity) (domain.RuleSet, error) {
	policies, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to get ip policies: %w", err)
	}
	return policies.Matching(identity.ClientIP, iprange.WithIPv4Unmapping(s.unmapIPv4)), nil
}

func (s *ipStrategy) isExempt(identity domain.Identity, whitelists Whitelists) bool {
	return whitelists.IPs.Contains(identity.ClientIP, iprange.WithIPv4Unmapping(s.unmapIPv4))
}

func (s *ipStrategy) validate(identity domain.Identity) error {
	if !identity.ClientIP.IsValid() {
		return fmt.Errorf("%w: client address is required", domain.ErrInvalidIdentity)
	}
	return nil
}

// isWhitelisted aplica as whitelists comuns aos dois modos e depois as do modo
func isWhitelisted(strategy identityStrategy, identity domain.Identity, whitelists Whitelists) bool {
	if identity.ClientID != "" {
		for _, clientID := range whitelists.ClientIDs {
			if clientID == identity.ClientID {
				return true
			}
		}
	}

	if len(whitelists.Endpoints) > 0 {
		request := strings.ToLower(identity.HTTPVerb + ":" + identity.Path)
		anyVerb := strings.ToLower("*:" + identity.Path)
		for _, endpoint := range whitelists.Endpoints {
			prefix := strings.ToLower(strings.TrimSpace(endpoint))
			if prefix == "" {
				continue
			}
			if strings.HasPrefix(request, prefix) || strings.HasPrefix(anyVerb, prefix) {
				return true
			}
		}
	}

	return strategy.isExempt(identity, whitelists)
}
