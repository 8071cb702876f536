package service

import (
	"fmt"
	"time"

	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/iprange"
)

// Mode define qual parte da identidade é usada como discriminador
type Mode string

const (
	ClientMode Mode = "client"
	IPMode     Mode = "ip"
)

// FailureMode define o que acontece quando o backend de contadores falha
type FailureMode string

const (
	FailOpen   FailureMode = "open"
	FailClosed FailureMode = "closed"
)

const (
	DefaultCounterPrefix        = "crlc"
	DefaultClientPolicyPrefix   = "crlp"
	DefaultIPPolicyPrefix       = "ippp"
	DefaultQuotaExceededMessage = "API calls quota exceeded! maximum admitted {0} per {1}."
)

// Config reúne as opções do motor de admissão
type Config struct {
	Mode                       Mode
	CounterPrefix              string
	ClientPolicyPrefix         string
	IPPolicyPrefix             string
	EnableEndpointRateLimiting bool
	StackBlockedRequests       bool
	FailureMode                FailureMode
	BackendTimeout             time.Duration
	QuotaExceededMessage       string

	// UnmapIPv4 trata ::ffff:a.b.c.d como a.b.c.d
	UnmapIPv4 bool
}

// Whitelists agrupa as identidades isentas de limite
type Whitelists struct {
	ClientIDs []string
	Endpoints []string
	IPs       *iprange.Set
}

// GeneralRules são as regras padrão da instalação, sem chave de identidade
type GeneralRules struct {
	Rules      domain.RuleSet
	Whitelists Whitelists
}

// withDefaults preenche os campos vazios
func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = IPMode
	}
	if c.CounterPrefix == "" {
		c.CounterPrefix = DefaultCounterPrefix
	}
	if c.ClientPolicyPrefix == "" {
		c.ClientPolicyPrefix = DefaultClientPolicyPrefix
	}
	if c.IPPolicyPrefix == "" {
		c.IPPolicyPrefix = DefaultIPPolicyPrefix
	}
	if c.FailureMode == "" {
		c.FailureMode = FailOpen
	}
	if c.QuotaExceededMessage == "" {
		c.QuotaExceededMessage = DefaultQuotaExceededMessage
	}
	return c
}

// Validate verifica se a configuração é consistente
func (c Config) Validate() error {
	switch c.Mode {
	case ClientMode, IPMode:
	default:
		return fmt.Errorf("unsupported rate limit mode: %s", c.Mode)
	}

	switch c.FailureMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("unsupported backend failure mode: %s", c.FailureMode)
	}

	if c.BackendTimeout < 0 {
		return fmt.Errorf("backend timeout cannot be negative")
	}

	return nil
}
