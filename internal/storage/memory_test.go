package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMemoryStore() (*MemoryCounterStore, *clock.VirtualClock) {
	clk := clock.NewVirtualClock(testEpoch)
	return NewMemoryCounterStore(clk, logger.NewLogger("error", "text")), clk
}

func TestMemoryCounterStore_ConsumeFixed(t *testing.T) {
	// Arrange
	store, clk := newTestMemoryStore()
	rule := domain.MustRule("*", "1m", 3, false)
	ctx := context.Background()

	// Act
	var results []domain.AdmissionResult
	for i := 0; i < 4; i++ {
		result, err := store.Consume(ctx, "crlc:10.0.0.1:1m", rule)
		require.NoError(t, err)
		results = append(results, result)
		clk.Advance(time.Second)
	}

	// Assert
	resetAt := testEpoch.Add(time.Minute)
	assert.Equal(t, domain.AdmissionResult{Success: true, Remaining: 2, ResetAt: resetAt}, results[0])
	assert.Equal(t, domain.AdmissionResult{Success: true, Remaining: 1, ResetAt: resetAt}, results[1])
	assert.Equal(t, domain.AdmissionResult{Success: true, Remaining: 0, ResetAt: resetAt}, results[2])
	assert.Equal(t, domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: resetAt}, results[3])
}

func TestMemoryCounterStore_FixedWindowResets(t *testing.T) {
	store, clk := newTestMemoryStore()
	rule := domain.MustRule("*", "10s", 1, false)
	ctx := context.Background()

	first, _ := store.Consume(ctx, "key", rule)
	blocked, _ := store.Consume(ctx, "key", rule)

	clk.Set(first.ResetAt)
	afterReset, err := store.Consume(ctx, "key", rule)

	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.False(t, blocked.Success)
	assert.True(t, afterReset.Success)
	assert.Equal(t, first.ResetAt.Add(10*time.Second), afterReset.ResetAt)
}

func TestMemoryCounterStore_ConsumeSliding(t *testing.T) {
	store, clk := newTestMemoryStore()
	rule := domain.MustRule("*", "10s", 2, true)
	ctx := context.Background()

	first, _ := store.Consume(ctx, "key*", rule)
	clk.Advance(4 * time.Second)
	second, _ := store.Consume(ctx, "key*", rule)
	clk.Advance(4 * time.Second)
	third, _ := store.Consume(ctx, "key*", rule)

	assert.Equal(t, domain.AdmissionResult{Success: true, Remaining: 1, ResetAt: testEpoch.Add(10 * time.Second)}, first)
	assert.Equal(t, domain.AdmissionResult{Success: true, Remaining: 0, ResetAt: testEpoch.Add(10 * time.Second)}, second)
	assert.Equal(t, domain.AdmissionResult{Success: false, Remaining: 0, ResetAt: testEpoch.Add(10 * time.Second)}, third)

	// o primeiro evento sai da janela exatamente em ResetAt
	clk.Set(third.ResetAt)
	fourth, _ := store.Consume(ctx, "key*", rule)
	assert.True(t, fourth.Success)
	assert.Equal(t, 0, fourth.Remaining)
	assert.Equal(t, testEpoch.Add(14*time.Second), fourth.ResetAt)
}

func TestMemoryCounterStore_SlidingWindowNeverExceedsLimit(t *testing.T) {
	store, clk := newTestMemoryStore()
	rule := domain.MustRule("*", "1s", 5, true)
	ctx := context.Background()

	var admitted []time.Time
	steps := []time.Duration{0, 10, 50, 100, 100, 300, 5, 5, 400, 30, 70, 250, 1, 1, 1, 600, 20, 20, 900}
	for _, step := range steps {
		clk.Advance(step * time.Millisecond)
		result, err := store.Consume(ctx, "key*", rule)
		require.NoError(t, err)
		if result.Success {
			admitted = append(admitted, clk.Now())
		}
	}

	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < time.Second; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, 5)
	}
}

func TestMemoryCounterStore_ConcurrentFixed(t *testing.T) {
	store, _ := newTestMemoryStore()
	rule := domain.MustRule("*", "1h", 50, false)

	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Consume(context.Background(), "shared", rule)
			if err == nil && result.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), successes.Load())
}

func TestMemoryCounterStore_ConcurrentSliding(t *testing.T) {
	store, _ := newTestMemoryStore()
	rule := domain.MustRule("*", "1h", 50, true)

	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Consume(context.Background(), "shared*", rule)
			if err == nil && result.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), successes.Load())
}

func TestMemoryCounterStore_Reset(t *testing.T) {
	store, _ := newTestMemoryStore()
	rule := domain.MustRule("*", "1h", 1, false)
	ctx := context.Background()

	_, _ = store.Consume(ctx, "key", rule)
	require.NoError(t, store.Reset(ctx, "key"))
	result, _ := store.Consume(ctx, "key", rule)

	assert.True(t, result.Success)
}

func TestMemoryCounterStore_Compact(t *testing.T) {
	store, clk := newTestMemoryStore()
	ctx := context.Background()

	_, _ = store.Consume(ctx, "fixed-short", domain.MustRule("*", "1s", 10, false))
	_, _ = store.Consume(ctx, "fixed-long", domain.MustRule("*", "1h", 10, false))
	_, _ = store.Consume(ctx, "sliding-short*", domain.MustRule("*", "1s", 10, true))
	_, _ = store.Consume(ctx, "sliding-long*", domain.MustRule("*", "1h", 10, true))
	require.Equal(t, 4, store.Len())

	clk.Advance(2 * time.Second)
	removed := store.Compact()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, store.Len())

	// contador removido é recriado normalmente
	result, err := store.Consume(ctx, "sliding-short*", domain.MustRule("*", "1s", 10, true))
	require.NoError(t, err)
	assert.Equal(t, 9, result.Remaining)
}

func TestMemoryCounterStore_HealthAndClose(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()

	_, _ = store.Consume(ctx, "key", domain.MustRule("*", "1h", 1, false))

	assert.NoError(t, store.Health(ctx))
	assert.NoError(t, store.Close())
	assert.Equal(t, 0, store.Len())
}
