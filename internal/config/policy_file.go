package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/iprange"
	"rate-limit-engine/internal/service"
)

// PolicyFile representa o arquivo YAML de políticas
type PolicyFile struct {
	GeneralRules      []RuleEntry         `yaml:"general_rules"`
	ClientWhitelist   []string            `yaml:"client_whitelist"`
	EndpointWhitelist []string            `yaml:"endpoint_whitelist"`
	IPWhitelist       []string            `yaml:"ip_whitelist"`
	ClientPolicies    []ClientPolicyEntry `yaml:"client_policies"`
	IPPolicies        []IPPolicyEntry     `yaml:"ip_policies"`
}

type RuleEntry struct {
	Endpoint         string `yaml:"endpoint"`
	Period           string `yaml:"period"`
	Limit            int    `yaml:"limit"`
	UseSlidingWindow bool   `yaml:"use_sliding_window"`
}

type ClientPolicyEntry struct {
	ClientID string      `yaml:"client_id"`
	Rules    []RuleEntry `yaml:"rules"`
}

type IPPolicyEntry struct {
	IP    string      `yaml:"ip"`
	Rules []RuleEntry `yaml:"rules"`
}

// Policies é o conteúdo validado do arquivo
type Policies struct {
	General service.GeneralRules
	Clients []domain.ClientPolicy
	IPs     *domain.IPPolicySet
}

// LoadPolicyFile lê e valida o arquivo de políticas. Períodos e intervalos
// inválidos falham aqui e nunca na requisição.
func LoadPolicyFile(path string) (*Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	return ParsePolicies(data)
}

// ParsePolicies valida o conteúdo YAML
func ParsePolicies(data []byte) (*Policies, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	general, err := buildRules(file.GeneralRules)
	if err != nil {
		return nil, fmt.Errorf("invalid general_rules: %w", err)
	}

	ips, err := iprange.NewSet(file.IPWhitelist)
	if err != nil {
		return nil, fmt.Errorf("invalid ip_whitelist: %w", err)
	}

	policies := &Policies{
		General: service.GeneralRules{
			Rules: general,
			Whitelists: service.Whitelists{
				ClientIDs: file.ClientWhitelist,
				Endpoints: file.EndpointWhitelist,
				IPs:       ips,
			},
		},
		Clients: make([]domain.ClientPolicy, 0, len(file.ClientPolicies)),
		IPs:     &domain.IPPolicySet{Policies: make([]domain.IPPolicy, 0, len(file.IPPolicies))},
	}

	seen := make(map[string]struct{}, len(file.ClientPolicies))
	for _, entry := range file.ClientPolicies {
		if entry.ClientID == "" {
			return nil, fmt.Errorf("client policy without client_id")
		}
		if _, dup := seen[entry.ClientID]; dup {
			return nil, fmt.Errorf("duplicate client policy: %s", entry.ClientID)
		}
		seen[entry.ClientID] = struct{}{}

		rules, err := buildRules(entry.Rules)
		if err != nil {
			return nil, fmt.Errorf("invalid rules for client %s: %w", entry.ClientID, err)
		}
		policies.Clients = append(policies.Clients, domain.ClientPolicy{ClientID: entry.ClientID, Rules: rules})
	}

	for _, entry := range file.IPPolicies {
		rules, err := buildRules(entry.Rules)
		if err != nil {
			return nil, fmt.Errorf("invalid rules for ip %s: %w", entry.IP, err)
		}
		policy, err := domain.NewIPPolicy(entry.IP, rules)
		if err != nil {
			return nil, err
		}
		policies.IPs.Policies = append(policies.IPs.Policies, policy)
	}

	return policies, nil
}

func buildRules(entries []RuleEntry) (domain.RuleSet, error) {
	rules := make(domain.RuleSet, 0, len(entries))
	for _, entry := range entries {
		if entry.Endpoint == "" {
			return nil, fmt.Errorf("rule without endpoint")
		}
		rule, err := domain.NewRule(entry.Endpoint, entry.Period, entry.Limit, entry.UseSlidingWindow)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// GeneralRulesUpdater recebe as regras gerais e whitelists
type GeneralRulesUpdater interface {
	UpdateGeneralRules(general service.GeneralRules)
}

// PolicySeeder grava as políticas de cliente e endereço
type PolicySeeder interface {
	Seed(ctx context.Context, clients []domain.ClientPolicy, ips *domain.IPPolicySet) error
}

// Apply publica as políticas carregadas
func (p *Policies) Apply(ctx context.Context, limiter GeneralRulesUpdater, seeder PolicySeeder) error {
	if err := seeder.Seed(ctx, p.Clients, p.IPs); err != nil {
		return fmt.Errorf("failed to seed policies: %w", err)
	}
	limiter.UpdateGeneralRules(p.General)
	return nil
}
