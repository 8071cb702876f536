package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/logger"
)

func TestCacheCounterStore_ConsumeFixed(t *testing.T) {
	// Arrange
	mr, client := newTestRedis(t)
	clk := clock.NewVirtualClock(testEpoch)
	store := NewCacheCounterStore(client, clk, logger.NewLogger("error", "text"))
	rule := domain.MustRule("*", "1m", 2, false)
	ctx := context.Background()

	// Act
	first, err := store.Consume(ctx, "key", rule)
	require.NoError(t, err)
	clk.Advance(15 * time.Second)
	second, err := store.Consume(ctx, "key", rule)
	require.NoError(t, err)
	third, err := store.Consume(ctx, "key", rule)
	require.NoError(t, err)

	// Assert
	resetAt := testEpoch.Add(time.Minute)
	assert.Equal(t, domain.AdmissionResult{Success: true, Remaining: 1, ResetAt: resetAt}, first)
	assert.Equal(t, domain.AdmissionResult{Success: true, Remaining: 0, ResetAt: resetAt}, second)
	assert.Equal(t, domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: resetAt}, third)
	assert.Equal(t, 45*time.Second, mr.TTL("key"))
}

func TestCacheCounterStore_FixedWindowResets(t *testing.T) {
	_, client := newTestRedis(t)
	clk := clock.NewVirtualClock(testEpoch)
	store := NewCacheCounterStore(client, clk, nil)
	rule := domain.MustRule("*", "10s", 1, false)
	ctx := context.Background()

	_, _ = store.Consume(ctx, "key", rule)
	blocked, _ := store.Consume(ctx, "key", rule)
	clk.Advance(10 * time.Second)
	afterReset, err := store.Consume(ctx, "key", rule)

	require.NoError(t, err)
	assert.False(t, blocked.Success)
	assert.True(t, afterReset.Success)
	assert.Equal(t, testEpoch.Add(20*time.Second), afterReset.ResetAt)
}

func TestCacheCounterStore_ConsumeSliding(t *testing.T) {
	_, client := newTestRedis(t)
	clk := clock.NewVirtualClock(testEpoch)
	store := NewCacheCounterStore(client, clk, nil)
	rule := domain.MustRule("*", "10s", 2, true)
	ctx := context.Background()

	first, _ := store.Consume(ctx, "key*", rule)
	clk.Advance(4 * time.Second)
	second, _ := store.Consume(ctx, "key*", rule)
	third, _ := store.Consume(ctx, "key*", rule)
	clk.Advance(6 * time.Second)
	fourth, err := store.Consume(ctx, "key*", rule)

	require.NoError(t, err)
	assert.Equal(t, 1, first.Remaining)
	assert.True(t, second.Success)
	assert.False(t, third.Success)
	assert.Equal(t, testEpoch.Add(10*time.Second), third.ResetAt)
	assert.True(t, fourth.Success)
	assert.Equal(t, testEpoch.Add(14*time.Second), fourth.ResetAt)
}

func TestCacheCounterStore_CorruptStateIsTreatedAsAbsent(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewCacheCounterStore(client, clock.NewVirtualClock(testEpoch), logger.NewLogger("error", "text"))
	require.NoError(t, mr.Set("key", "\xc1"))

	result, err := store.Consume(context.Background(), "key", domain.MustRule("*", "1m", 5, false))

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Remaining)
}

func TestCacheCounterStore_BackendDown(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewCacheCounterStore(client, nil, nil)
	mr.Close()

	_, err := store.Consume(context.Background(), "key", domain.MustRule("*", "1m", 5, false))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))
	assert.Error(t, store.Health(context.Background()))
}

func TestCacheCounterStore_Reset(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewCacheCounterStore(client, nil, nil)
	ctx := context.Background()

	_, err := store.Consume(ctx, "key", domain.MustRule("*", "1m", 5, false))
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "key"))

	assert.False(t, mr.Exists("key"))
	assert.NoError(t, store.Close())
}

func TestCounterStores_ResetAtKeepsClockLocation(t *testing.T) {
	zone := time.FixedZone("BRT", -3*60*60)
	start := testEpoch.In(zone)

	stores := map[string]func(t *testing.T, clk clock.Clock) domain.CounterStore{
		"memory": func(t *testing.T, clk clock.Clock) domain.CounterStore {
			return NewMemoryCounterStore(clk, logger.NewLogger("error", "text"))
		},
		"redis": func(t *testing.T, clk clock.Clock) domain.CounterStore {
			_, client := newTestRedis(t)
			return NewRedisCounterStore(client, clk, logger.NewLogger("error", "text"))
		},
		"cache": func(t *testing.T, clk clock.Clock) domain.CounterStore {
			_, client := newTestRedis(t)
			return NewCacheCounterStore(client, clk, logger.NewLogger("error", "text"))
		},
	}

	for name, build := range stores {
		for _, sliding := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s sliding=%t", name, sliding), func(t *testing.T) {
				// Arrange
				clk := clock.NewVirtualClock(start)
				store := build(t, clk)
				rule := domain.MustRule("*", "1m", 5, sliding)
				ctx := context.Background()

				// Act
				first, err := store.Consume(ctx, "key", rule)
				require.NoError(t, err)
				second, err := store.Consume(ctx, "key", rule)
				require.NoError(t, err)

				// Assert
				assert.Equal(t, start.Add(time.Minute), first.ResetAt)
				assert.Equal(t, first.ResetAt, second.ResetAt)
				assert.Equal(t, zone, second.ResetAt.Location())
			})
		}
	}
}
