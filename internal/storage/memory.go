package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/domain"
)

// memoryCounter guarda o estado de uma chave. windowStart e period não mudam
// depois da criação: uma janela expirada é substituída por um novo contador.
type memoryCounter struct {
	sliding     bool
	windowStart time.Time
	period      time.Duration

	// janela fixa
	count atomic.Int64

	// janela deslizante
	mu      sync.Mutex
	log     []int64 // milissegundos desde a epoch, em ordem crescente
	removed bool
}

func (c *memoryCounter) expired(now time.Time) bool {
	return !now.Before(c.windowStart.Add(c.period))
}

// evict remove do log os eventos com timestamp <= cutoff. Deve ser chamado com mu travado.
func (c *memoryCounter) evict(cutoff int64) {
	i := 0
	for i < len(c.log) && c.log[i] <= cutoff {
		i++
	}
	if i > 0 {
		c.log = append(c.log[:0], c.log[i:]...)
	}
}

// unixMilliIn converte um timestamp em milissegundos mantendo a localização
// do relógio, para que todos os caminhos devolvam ResetAt no mesmo fuso
func unixMilliIn(ms int64, now time.Time) time.Time {
	return time.UnixMilli(ms).In(now.Location())
}

// MemoryCounterStore implementa domain.CounterStore em memória.
// O mutex protege apenas o mapa; incrementos em contadores existentes são
// atômicos e nenhum lock é mantido durante I/O.
type MemoryCounterStore struct {
	counters map[string]*memoryCounter
	mutex    sync.RWMutex
	clock    clock.Clock
	logger   domain.Logger
}

// NewMemoryCounterStore cria uma nova instância do MemoryCounterStore
func NewMemoryCounterStore(clk clock.Clock, logger domain.Logger) *MemoryCounterStore {
	if clk == nil {
		clk = clock.NewRealClock()
	}

	store := &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		clock:    clk,
		logger:   logger,
	}

	if logger != nil {
		logger.Info("Memory counter store initialized", nil)
	}

	return store
}

// Consume registra um evento para a chave segundo a janela da regra
func (m *MemoryCounterStore) Consume(ctx context.Context, key string, rule domain.Rule) (domain.AdmissionResult, error) {
	start := time.Now()

	var result domain.AdmissionResult
	if rule.UseSlidingWindow {
		result = m.consumeSliding(key, rule)
	} else {
		result = m.consumeFixed(key, rule)
	}

	m.logStorageOperation("CONSUME", key, true, time.Since(start).Seconds()*1000, nil)
	return result, nil
}

func (m *MemoryCounterStore) consumeFixed(key string, rule domain.Rule) domain.AdmissionResult {
	now := m.clock.Now()
	limit := int64(rule.Limit)

	counter := m.lookup(key)
	if counter == nil || counter.sliding || counter.expired(now) {
		// Caminho de criação: checagem dupla sob o lock do mapa
		m.mutex.Lock()
		counter = m.counters[key]
		if counter == nil || counter.sliding || counter.expired(now) {
			counter = &memoryCounter{windowStart: now, period: rule.Duration()}
			counter.count.Store(1)
			m.counters[key] = counter
			m.mutex.Unlock()

			return domain.AdmissionResult{
				Success:   true,
				Remaining: rule.Limit - 1,
				ResetAt:   now.Add(rule.Duration()),
			}
		}
		m.mutex.Unlock()
	}

	previous := counter.count.Add(1) - 1
	resetAt := counter.windowStart.Add(counter.period)

	if previous >= limit {
		return domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: resetAt}
	}

	return domain.AdmissionResult{
		Success:   true,
		Remaining: int(limit - previous - 1),
		ResetAt:   resetAt,
	}
}

func (m *MemoryCounterStore) consumeSliding(key string, rule domain.Rule) domain.AdmissionResult {
	for {
		counter := m.lookup(key)
		if counter == nil || !counter.sliding {
			m.mutex.Lock()
			counter = m.counters[key]
			if counter == nil || !counter.sliding {
				counter = &memoryCounter{sliding: true, windowStart: m.clock.Now(), period: rule.Duration()}
				m.counters[key] = counter
			}
			m.mutex.Unlock()
		}

		counter.mu.Lock()
		if counter.removed {
			// Compact ou Reset removeu o contador entre a busca e o lock
			counter.mu.Unlock()
			continue
		}

		now := m.clock.Now()
		nowMs := now.UnixMilli()
		counter.evict(nowMs - rule.Duration().Milliseconds())

		count := len(counter.log)
		resetAt := now.Add(rule.Duration())
		if count > 0 {
			resetAt = unixMilliIn(counter.log[0], now).Add(rule.Duration())
		}

		if count >= rule.Limit {
			counter.mu.Unlock()
			return domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: resetAt}
		}

		counter.log = append(counter.log, nowMs)
		counter.mu.Unlock()

		return domain.AdmissionResult{
			Success:   true,
			Remaining: rule.Limit - count - 1,
			ResetAt:   resetAt,
		}
	}
}

func (m *MemoryCounterStore) lookup(key string) *memoryCounter {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.counters[key]
}

// Reset limpa os dados de uma chave
func (m *MemoryCounterStore) Reset(ctx context.Context, key string) error {
	start := time.Now()

	m.mutex.Lock()
	if counter, exists := m.counters[key]; exists {
		m.markRemoved(counter)
		delete(m.counters, key)
	}
	m.mutex.Unlock()

	m.logStorageOperation("RESET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Compact remove contadores fixos expirados e logs deslizantes vazios.
// O processo hospedeiro decide quando chamar; o store não inicia goroutines.
func (m *MemoryCounterStore) Compact() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.clock.Now()
	removed := 0

	for key, counter := range m.counters {
		if counter.sliding {
			counter.mu.Lock()
			counter.evict(now.UnixMilli() - counter.period.Milliseconds())
			empty := len(counter.log) == 0
			if empty {
				counter.removed = true
			}
			counter.mu.Unlock()

			if empty {
				delete(m.counters, key)
				removed++
			}
			continue
		}

		if counter.expired(now) {
			delete(m.counters, key)
			removed++
		}
	}

	if removed > 0 && m.logger != nil {
		m.logger.Debug("Memory counter store compacted", map[string]interface{}{
			"removed":   removed,
			"remaining": len(m.counters),
		})
	}

	return removed
}

// Len retorna a quantidade de contadores em memória
func (m *MemoryCounterStore) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.counters)
}

// Health verifica se o storage está saudável
func (m *MemoryCounterStore) Health(ctx context.Context) error {
	start := time.Now()

	if m.logger != nil {
		m.logger.Debug("Memory counter store health check", map[string]interface{}{
			"counters": m.Len(),
		})
	}

	m.logStorageOperation("HEALTH", "check", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close descarta todos os contadores
func (m *MemoryCounterStore) Close() error {
	m.mutex.Lock()
	for _, counter := range m.counters {
		m.markRemoved(counter)
	}
	m.counters = make(map[string]*memoryCounter)
	m.mutex.Unlock()

	if m.logger != nil {
		m.logger.Info("Memory counter store closed", nil)
	}
	return nil
}

func (m *MemoryCounterStore) markRemoved(counter *memoryCounter) {
	if !counter.sliding {
		return
	}
	counter.mu.Lock()
	counter.removed = true
	counter.mu.Unlock()
}

// logStorageOperation registra operações de storage
func (m *MemoryCounterStore) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	logStorageOperation(m.logger, "memory", operation, key, success, latency, err)
}
