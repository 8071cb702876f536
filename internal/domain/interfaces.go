package domain

import (
	"context"
	"time"
)

// CounterStore registra consumos por chave e informa se o limite foi excedido.
// Deve ser seguro para chamadas concorrentes na mesma chave.
type CounterStore interface {
	// Consume registra um evento e retorna o resultado da admissão
	Consume(ctx context.Context, key string, rule Rule) (AdmissionResult, error)

	// Reset remove o contador de uma chave
	Reset(ctx context.Context, key string) error

	// Health verifica se o backend está saudável
	Health(ctx context.Context) error

	// Close libera os recursos do backend
	Close() error
}

// PolicyStore guarda políticas por chave. Get retorna nil quando a chave não existe.
type PolicyStore[T any] interface {
	Get(ctx context.Context, key string) (*T, error)
	Set(ctx context.Context, key string, policy *T) error
	Remove(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RateLimiterService define a interface do motor de admissão
type RateLimiterService interface {
	// Resolve retorna as regras aplicáveis, já ordenadas
	Resolve(ctx context.Context, identity Identity) ([]Rule, error)

	// Admit avalia as regras em ordem e para na primeira excedida
	Admit(ctx context.Context, identity Identity) (*Decision, error)

	// ComputeCounterKey monta a chave estável do contador
	ComputeCounterKey(identity Identity, rule Rule) string

	// Reset limpa o contador de uma identidade para uma regra
	Reset(ctx context.Context, identity Identity, rule Rule) error

	// Health verifica o backend de contadores
	Health(ctx context.Context) error
}

// PolicyService expõe a administração das políticas
type PolicyService interface {
	GetClientPolicy(ctx context.Context, clientID string) (*ClientPolicy, error)
	SetClientPolicy(ctx context.Context, policy *ClientPolicy) error
	RemoveClientPolicy(ctx context.Context, clientID string) error
	GetIPPolicies(ctx context.Context) (*IPPolicySet, error)
	SetIPPolicies(ctx context.Context, policies *IPPolicySet) error
}

// MetricsRecorder recebe os eventos de admissão
type MetricsRecorder interface {
	RecordDecision(rule *Rule, allowed, exempt bool)
	RecordBackendError(operation string)
	ObserveConsume(duration time.Duration)
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}
