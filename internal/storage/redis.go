package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/domain"
)

// Janela fixa: INCR e, na criação, PEXPIRE. Retorna "count:pttl".
// Uma chave sem expiração (pttl < 0) recebe o período de novo.
const fixedWindowScript = `
local count = redis.call('INCR', KEYS[1])
local ttl = tonumber(ARGV[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	return '1:' .. ttl
end
local remaining = redis.call('PTTL', KEYS[1])
if remaining < 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	remaining = ttl
end
return count .. ':' .. remaining
`

// Janela deslizante: sorted set com score = timestamp em ms. Retorna
// "count:menorScore", onde count inclui a tentativa atual.
const slidingWindowScript = `
local key = KEYS[1]
local now = ARGV[1]
local member = ARGV[2]
local ttl = tonumber(ARGV[3])
local cutoff = ARGV[4]
local limit = tonumber(ARGV[5])
if redis.call('EXISTS', key) == 0 then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, ttl)
	return '1:' .. now
end
redis.call('PEXPIRE', key, ttl)
redis.call('ZREMRANGEBYSCORE', key, 0, cutoff)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, member)
end
count = count + 1
local earliest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')[2]
if not earliest then
	earliest = now
end
return count .. ':' .. earliest
`

// RedisCounterStore implementa domain.CounterStore com scripts Lua executados
// atomicamente no Redis, uma única ida e volta por consumo
type RedisCounterStore struct {
	client  redis.Cmdable
	clock   clock.Clock
	logger  domain.Logger
	fixed   *luaScript
	sliding *luaScript
}

// NewRedisCounterStore cria uma nova instância do RedisCounterStore
func NewRedisCounterStore(client redis.Cmdable, clk clock.Clock, logger domain.Logger) *RedisCounterStore {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &RedisCounterStore{
		client:  client,
		clock:   clk,
		logger:  logger,
		fixed:   newLuaScript(fixedWindowScript),
		sliding: newLuaScript(slidingWindowScript),
	}
}

// Consume executa o script da janela da regra
func (r *RedisCounterStore) Consume(ctx context.Context, key string, rule domain.Rule) (domain.AdmissionResult, error) {
	start := time.Now()
	now := r.clock.Now()
	period := rule.Duration()

	var (
		raw interface{}
		err error
	)
	if rule.UseSlidingWindow {
		nowMs := now.UnixMilli()
		raw, err = r.sliding.Run(ctx, r.client, []string{key},
			nowMs,
			uuid.NewString(),
			period.Milliseconds(),
			nowMs-period.Milliseconds(),
			rule.Limit,
		)
	} else {
		raw, err = r.fixed.Run(ctx, r.client, []string{key}, period.Milliseconds())
	}
	if err != nil {
		r.logStorageOperation("CONSUME", key, false, time.Since(start).Seconds()*1000, err)
		if errors.Is(err, domain.ErrScriptNotFound) {
			return domain.AdmissionResult{}, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
		}
		return domain.AdmissionResult{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	count, value, err := parseScriptReply(raw)
	if err != nil {
		r.logStorageOperation("CONSUME", key, false, time.Since(start).Seconds()*1000, err)
		return domain.AdmissionResult{}, fmt.Errorf("invalid script reply for key %s: %w", key, err)
	}

	var resetAt time.Time
	if rule.UseSlidingWindow {
		resetAt = unixMilliIn(value, now).Add(period)
	} else {
		resetAt = now.Add(time.Duration(value) * time.Millisecond)
	}

	result := domain.AdmissionResult{Success: count <= int64(rule.Limit), ResetAt: resetAt}
	if result.Success {
		result.Remaining = rule.Limit - int(count)
	}

	r.logStorageOperation("CONSUME", key, true, time.Since(start).Seconds()*1000, nil)
	return result, nil
}

// parseScriptReply interpreta "count:value". O score pode vir em notação decimal.
func parseScriptReply(raw interface{}) (int64, int64, error) {
	reply, ok := raw.(string)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected reply type %T", raw)
	}

	parts := strings.SplitN(reply, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed reply %q", reply)
	}

	count, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid count in reply %q: %w", reply, err)
	}

	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value in reply %q: %w", reply, err)
	}

	return count, int64(value), nil
}

// Reset limpa os dados de uma chave
func (r *RedisCounterStore) Reset(ctx context.Context, key string) error {
	start := time.Now()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logStorageOperation("RESET", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to reset key %s: %w", key, err)
	}

	r.logStorageOperation("RESET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (r *RedisCounterStore) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("Redis health check failed: %w", err)
	}

	r.logStorageOperation("HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close não fecha o cliente: ele é compartilhado e fechado pelo processo
func (r *RedisCounterStore) Close() error {
	if r.logger != nil {
		r.logger.Info("Redis counter store closed", nil)
	}
	return nil
}

func (r *RedisCounterStore) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	logStorageOperation(r.logger, "redis", operation, key, success, latency, err)
}

// NewRedisClient cria o cliente compartilhado e testa a conexão
func NewRedisClient(config *RedisConfig, logger domain.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.Database,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"host": config.Host,
			"port": config.Port,
			"db":   config.Database,
		})
	}

	return rdb, nil
}
