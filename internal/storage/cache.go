package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/domain"
)

// cacheState é o contador serializado no cache compartilhado
type cacheState struct {
	WindowStart int64   `msgpack:"ws"`
	Count       int64   `msgpack:"c"`
	Log         []int64 `msgpack:"l,omitempty"`
}

// CacheCounterStore implementa domain.CounterStore sobre um cache externo
// (GET/SET). É uma aproximação: leitura, alteração e escrita não são atômicas
// entre processos, então incrementos concorrentes podem se perder e admitir
// mais requisições que o limite. Use RedisCounterStore quando a contagem
// precisar ser exata.
type CacheCounterStore struct {
	client redis.Cmdable
	clock  clock.Clock
	logger domain.Logger
}

// NewCacheCounterStore cria uma nova instância do CacheCounterStore
func NewCacheCounterStore(client redis.Cmdable, clk clock.Clock, logger domain.Logger) *CacheCounterStore {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &CacheCounterStore{client: client, clock: clk, logger: logger}
}

// Consume lê o estado, aplica o evento e grava de volta
func (s *CacheCounterStore) Consume(ctx context.Context, key string, rule domain.Rule) (domain.AdmissionResult, error) {
	start := time.Now()
	now := s.clock.Now()

	state, err := s.load(ctx, key)
	if err != nil {
		s.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return domain.AdmissionResult{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	var (
		result domain.AdmissionResult
		ttl    time.Duration
		write  bool
	)
	if rule.UseSlidingWindow {
		result, ttl, write = applySliding(state, now, rule)
	} else {
		result, ttl, write = applyFixed(state, now, rule)
	}

	if write {
		if err := s.store(ctx, key, state, ttl); err != nil {
			s.logStorageOperation("SET", key, false, time.Since(start).Seconds()*1000, err)
			return domain.AdmissionResult{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
		}
	}

	s.logStorageOperation("CONSUME", key, true, time.Since(start).Seconds()*1000, nil)
	return result, nil
}

// applyFixed altera state e retorna o resultado, o TTL e se é preciso gravar
func applyFixed(state *cacheState, now time.Time, rule domain.Rule) (domain.AdmissionResult, time.Duration, bool) {
	period := rule.Duration()
	windowStart := unixMilliIn(state.WindowStart, now)

	if state.Count == 0 || !now.Before(windowStart.Add(period)) {
		state.WindowStart = now.UnixMilli()
		state.Count = 1
		state.Log = nil
		return domain.AdmissionResult{
			Success:   true,
			Remaining: rule.Limit - 1,
			ResetAt:   now.Add(period),
		}, period, true
	}

	previous := state.Count
	state.Count++
	resetAt := windowStart.Add(period)

	result := domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: resetAt}
	if previous < int64(rule.Limit) {
		result = domain.AdmissionResult{
			Success:   true,
			Remaining: rule.Limit - int(previous) - 1,
			ResetAt:   resetAt,
		}
	}

	return result, resetAt.Sub(now), true
}

func applySliding(state *cacheState, now time.Time, rule domain.Rule) (domain.AdmissionResult, time.Duration, bool) {
	period := rule.Duration()
	nowMs := now.UnixMilli()
	cutoff := nowMs - period.Milliseconds()

	i := 0
	for i < len(state.Log) && state.Log[i] <= cutoff {
		i++
	}
	state.Log = state.Log[i:]

	count := len(state.Log)
	resetAt := now.Add(period)
	if count > 0 {
		resetAt = unixMilliIn(state.Log[0], now).Add(period)
	}

	if count >= rule.Limit {
		return domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: resetAt}, 0, false
	}

	state.Log = append(state.Log, nowMs)
	state.Count = int64(len(state.Log))

	return domain.AdmissionResult{
		Success:   true,
		Remaining: rule.Limit - count - 1,
		ResetAt:   resetAt,
	}, period, true
}

// load retorna o estado salvo. Estado ausente ou corrompido vira um contador novo.
func (s *CacheCounterStore) load(ctx context.Context, key string) (*cacheState, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &cacheState{}, nil
		}
		return nil, err
	}

	var state cacheState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		if s.logger != nil {
			s.logger.Warn("Discarding corrupt counter state", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return &cacheState{}, nil
	}

	return &state, nil
}

func (s *CacheCounterStore) store(ctx context.Context, key string, state *cacheState, ttl time.Duration) error {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode counter state for key %s: %w", key, err)
	}

	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	return s.client.Set(ctx, key, data, ttl).Err()
}

// Reset limpa os dados de uma chave
func (s *CacheCounterStore) Reset(ctx context.Context, key string) error {
	start := time.Now()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logStorageOperation("RESET", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to reset key %s: %w", key, err)
	}

	s.logStorageOperation("RESET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o cache responde
func (s *CacheCounterStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logStorageOperation("HEALTH", "ping", false, 0, err)
		return fmt.Errorf("cache health check failed: %w", err)
	}
	return nil
}

// Close não fecha o cliente: ele pertence a quem o criou
func (s *CacheCounterStore) Close() error {
	return nil
}

func (s *CacheCounterStore) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	logStorageOperation(s.logger, "cache", operation, key, success, latency, err)
}
