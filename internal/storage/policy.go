package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"rate-limit-engine/internal/domain"
)

// MemoryPolicyStore implementa domain.PolicyStore em memória
type MemoryPolicyStore[T any] struct {
	data  map[string]T
	mutex sync.RWMutex
}

// NewMemoryPolicyStore cria uma nova instância do MemoryPolicyStore
func NewMemoryPolicyStore[T any]() *MemoryPolicyStore[T] {
	return &MemoryPolicyStore[T]{data: make(map[string]T)}
}

func (m *MemoryPolicyStore[T]) Get(ctx context.Context, key string) (*T, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	policy, exists := m.data[key]
	if !exists {
		return nil, nil
	}
	return &policy, nil
}

func (m *MemoryPolicyStore[T]) Set(ctx context.Context, key string, policy *T) error {
	if policy == nil {
		return fmt.Errorf("policy for key %s cannot be nil", key)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.data[key] = *policy
	return nil
}

func (m *MemoryPolicyStore[T]) Remove(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryPolicyStore[T]) Exists(ctx context.Context, key string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, exists := m.data[key]
	return exists, nil
}

// RedisPolicyStore guarda políticas em JSON no Redis, sem expiração
type RedisPolicyStore[T any] struct {
	client redis.Cmdable
	logger domain.Logger
}

// NewRedisPolicyStore cria uma nova instância do RedisPolicyStore
func NewRedisPolicyStore[T any](client redis.Cmdable, logger domain.Logger) *RedisPolicyStore[T] {
	return &RedisPolicyStore[T]{client: client, logger: logger}
}

func (r *RedisPolicyStore[T]) Get(ctx context.Context, key string) (*T, error) {
	start := time.Now()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
			return nil, nil
		}
		r.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to get policy %s: %w", key, err)
	}

	var policy T
	if err := json.Unmarshal(data, &policy); err != nil {
		r.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to unmarshal policy %s: %w", key, err)
	}

	r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return &policy, nil
}

func (r *RedisPolicyStore[T]) Set(ctx context.Context, key string, policy *T) error {
	start := time.Now()

	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		r.logStorageOperation("SET", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to set policy %s: %w", key, err)
	}

	r.logStorageOperation("SET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

func (r *RedisPolicyStore[T]) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to remove policy %s: %w", key, err)
	}
	return nil
}

func (r *RedisPolicyStore[T]) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check policy %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisPolicyStore[T]) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	logStorageOperation(r.logger, "redis_policy", operation, key, success, latency, err)
}

type cachedPolicy[T any] struct {
	policy    *T
	expiresAt time.Time
}

// CachedPolicyStore mantém uma cópia local das políticas por ttl e agrupa
// buscas simultâneas da mesma chave em uma única chamada ao store de origem
type CachedPolicyStore[T any] struct {
	origin domain.PolicyStore[T]
	ttl    time.Duration
	now    func() time.Time

	mutex   sync.RWMutex
	entries map[string]cachedPolicy[T]
	// generations muda a cada invalidação; uma busca iniciada antes dela
	// não grava o resultado
	generations map[string]uint64
	group       singleflight.Group
}

// fillTimeout limita a busca compartilhada, que não herda o cancelamento de
// quem a iniciou
const fillTimeout = 5 * time.Second

// NewCachedPolicyStore cria uma nova instância do CachedPolicyStore
func NewCachedPolicyStore[T any](origin domain.PolicyStore[T], ttl time.Duration) *CachedPolicyStore[T] {
	return &CachedPolicyStore[T]{
		origin:      origin,
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]cachedPolicy[T]),
		generations: make(map[string]uint64),
	}
}

func (c *CachedPolicyStore[T]) Get(ctx context.Context, key string) (*T, error) {
	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.policy, nil
	}

	results := c.group.DoChan(key, func() (interface{}, error) {
		return c.fill(ctx, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		policy, _ := result.Val.(*T)
		return policy, nil
	}
}

// fill busca na origem para todos os chamadores agrupados
func (c *CachedPolicyStore[T]) fill(ctx context.Context, key string) (*T, error) {
	c.mutex.RLock()
	generation := c.generations[key]
	c.mutex.RUnlock()

	fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
	defer cancel()

	policy, err := c.origin.Get(fillCtx, key)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	if c.generations[key] == generation {
		c.entries[key] = cachedPolicy[T]{policy: policy, expiresAt: c.now().Add(c.ttl)}
	}
	c.mutex.Unlock()
	return policy, nil
}

func (c *CachedPolicyStore[T]) Set(ctx context.Context, key string, policy *T) error {
	if err := c.origin.Set(ctx, key, policy); err != nil {
		return err
	}
	c.Invalidate(key)
	return nil
}

func (c *CachedPolicyStore[T]) Remove(ctx context.Context, key string) error {
	if err := c.origin.Remove(ctx, key); err != nil {
		return err
	}
	c.Invalidate(key)
	return nil
}

func (c *CachedPolicyStore[T]) Exists(ctx context.Context, key string) (bool, error) {
	policy, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return policy != nil, nil
}

// Invalidate descarta a cópia local de uma chave
func (c *CachedPolicyStore[T]) Invalidate(key string) {
	c.mutex.Lock()
	delete(c.entries, key)
	c.generations[key]++
	c.mutex.Unlock()
	c.group.Forget(key)
}
