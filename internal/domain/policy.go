package domain

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"rate-limit-engine/internal/iprange"
)

// ClientPolicy associa regras a um client id
type ClientPolicy struct {
	ClientID string  `json:"client_id"`
	Rules    RuleSet `json:"rules"`
}

// IPPolicy associa regras a um intervalo de endereços. O intervalo é
// interpretado na construção e nunca por requisição.
type IPPolicy struct {
	IP    string  `json:"ip"`
	Rules RuleSet `json:"rules"`

	addresses iprange.Range
}

// NewIPPolicy cria uma política validando o intervalo
func NewIPPolicy(ip string, rules RuleSet) (IPPolicy, error) {
	addresses, err := iprange.Parse(ip)
	if err != nil {
		return IPPolicy{}, fmt.Errorf("invalid ip policy: %w", err)
	}

	return IPPolicy{IP: ip, Rules: rules, addresses: addresses}, nil
}

// Contains indica se o endereço pertence ao intervalo da política
func (p IPPolicy) Contains(addr netip.Addr, opts ...iprange.Option) bool {
	return p.addresses.Contains(addr, opts...)
}

// Range retorna o intervalo já interpretado
func (p IPPolicy) Range() iprange.Range {
	return p.addresses
}

func (p *IPPolicy) UnmarshalJSON(data []byte) error {
	type plain IPPolicy
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	policy, err := NewIPPolicy(raw.IP, raw.Rules)
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

// IPPolicySet guarda todas as políticas por endereço sob uma única chave
type IPPolicySet struct {
	Policies []IPPolicy `json:"ip_rules"`
}

// Matching concatena as regras de todas as políticas que contêm o endereço,
// na ordem em que foram cadastradas
func (s *IPPolicySet) Matching(addr netip.Addr, opts ...iprange.Option) RuleSet {
	if s == nil {
		return nil
	}

	var rules RuleSet
	for _, policy := range s.Policies {
		if policy.Contains(addr, opts...) {
			rules = append(rules, policy.Rules...)
		}
	}
	return rules
}
