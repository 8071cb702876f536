package domain

import (
	"net/netip"
	"time"
)

// Identity identifica quem está sendo limitado e qual endpoint foi chamado
type Identity struct {
	ClientID string
	ClientIP netip.Addr
	HTTPVerb string
	Path     string
}

// AdmissionResult é o resultado de uma tentativa de consumo
type AdmissionResult struct {
	Success   bool      `json:"success"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Decision é a resposta do orquestrador para uma requisição
type Decision struct {
	Allowed bool            `json:"allowed"`
	Exempt  bool            `json:"exempt"`
	Rule    *Rule           `json:"rule,omitempty"`
	Result  AdmissionResult `json:"result"`

	// RetryAfter só é preenchido quando a requisição foi bloqueada
	RetryAfter time.Duration `json:"-"`
	Message    string        `json:"message,omitempty"`

	// Degraded indica que o backend falhou e a política de falha decidiu
	Degraded bool `json:"degraded,omitempty"`
}
