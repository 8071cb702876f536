package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rate-limit-engine/internal/domain"
)

func testClientPolicy(id string, limit int) *domain.ClientPolicy {
	return &domain.ClientPolicy{
		ClientID: id,
		Rules:    domain.RuleSet{domain.MustRule("*", "1m", limit, false)},
	}
}

func TestPolicyStores(t *testing.T) {
	_, client := newTestRedis(t)

	stores := map[string]domain.PolicyStore[domain.ClientPolicy]{
		"memory": NewMemoryPolicyStore[domain.ClientPolicy](),
		"redis":  NewRedisPolicyStore[domain.ClientPolicy](client, nil),
		"cached": NewCachedPolicyStore[domain.ClientPolicy](NewMemoryPolicyStore[domain.ClientPolicy](), time.Minute),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			missing, err := store.Get(ctx, "crlp_anon")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, store.Set(ctx, "crlp_cl-key-1", testClientPolicy("cl-key-1", 10)))
			exists, err := store.Exists(ctx, "crlp_cl-key-1")
			require.NoError(t, err)
			assert.True(t, exists)

			policy, err := store.Get(ctx, "crlp_cl-key-1")
			require.NoError(t, err)
			require.NotNil(t, policy)
			assert.Equal(t, "cl-key-1", policy.ClientID)
			require.Len(t, policy.Rules, 1)
			assert.Equal(t, time.Minute, policy.Rules[0].Duration())

			require.NoError(t, store.Set(ctx, "crlp_cl-key-1", testClientPolicy("cl-key-1", 20)))
			policy, err = store.Get(ctx, "crlp_cl-key-1")
			require.NoError(t, err)
			assert.Equal(t, 20, policy.Rules[0].Limit)

			require.NoError(t, store.Remove(ctx, "crlp_cl-key-1"))
			exists, err = store.Exists(ctx, "crlp_cl-key-1")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestRedisPolicyStore_IPPolicies(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisPolicyStore[domain.IPPolicySet](client, nil)
	ctx := context.Background()

	policy, err := domain.NewIPPolicy("10.0.0.0/24", domain.RuleSet{domain.MustRule("*", "1s", 1, false)})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "ippp", &domain.IPPolicySet{Policies: []domain.IPPolicy{policy}}))

	loaded, err := store.Get(ctx, "ippp")

	require.NoError(t, err)
	require.Len(t, loaded.Policies, 1)
	assert.Equal(t, "10.0.0.0/24", loaded.Policies[0].Range().String())
}

func TestRedisPolicyStore_CorruptPolicy(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisPolicyStore[domain.ClientPolicy](client, nil)
	require.NoError(t, mr.Set("crlp_bad", `{"client_id":"bad","rules":[{"endpoint":"*","period":"zz","limit":1}]}`))

	_, err := store.Get(context.Background(), "crlp_bad")

	assert.Error(t, err)
}

// slowStore conta acessos ao store de origem
type slowStore struct {
	*MemoryPolicyStore[domain.ClientPolicy]
	gets atomic.Int64
}

func (s *slowStore) Get(ctx context.Context, key string) (*domain.ClientPolicy, error) {
	s.gets.Add(1)
	time.Sleep(20 * time.Millisecond)
	return s.MemoryPolicyStore.Get(ctx, key)
}

func TestCachedPolicyStore_CoalescesAndCaches(t *testing.T) {
	// Arrange
	origin := &slowStore{MemoryPolicyStore: NewMemoryPolicyStore[domain.ClientPolicy]()}
	require.NoError(t, origin.Set(context.Background(), "crlp_a", testClientPolicy("a", 5)))
	cached := NewCachedPolicyStore[domain.ClientPolicy](origin, time.Minute)

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			policy, err := cached.Get(context.Background(), "crlp_a")
			assert.NoError(t, err)
			assert.NotNil(t, policy)
		}()
	}
	wg.Wait()
	_, _ = cached.Get(context.Background(), "crlp_a")

	// Assert
	assert.Equal(t, int64(1), origin.gets.Load())
}

func TestCachedPolicyStore_ExpiresAndInvalidates(t *testing.T) {
	origin := NewMemoryPolicyStore[domain.ClientPolicy]()
	cached := NewCachedPolicyStore[domain.ClientPolicy](origin, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cached.now = func() time.Time { return now }
	ctx := context.Background()

	missing, err := cached.Get(ctx, "crlp_a")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// escrita direta na origem fica invisível até o ttl expirar
	require.NoError(t, origin.Set(ctx, "crlp_a", testClientPolicy("a", 5)))
	stale, _ := cached.Get(ctx, "crlp_a")
	assert.Nil(t, stale)

	now = now.Add(2 * time.Minute)
	fresh, _ := cached.Get(ctx, "crlp_a")
	require.NotNil(t, fresh)
	assert.Equal(t, 5, fresh.Rules[0].Limit)

	// escrita pelo cache invalida a cópia local
	require.NoError(t, cached.Set(ctx, "crlp_a", testClientPolicy("a", 9)))
	updated, _ := cached.Get(ctx, "crlp_a")
	assert.Equal(t, 9, updated.Rules[0].Limit)
}

// gatedStore lê a política ao entrar e só devolve quando liberado
type gatedStore struct {
	*MemoryPolicyStore[domain.ClientPolicy]
	gets    atomic.Int64
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryPolicyStore: NewMemoryPolicyStore[domain.ClientPolicy](),
		entered:           make(chan struct{}, 1),
		release:           make(chan struct{}),
	}
}

func (s *gatedStore) Get(ctx context.Context, key string) (*domain.ClientPolicy, error) {
	s.gets.Add(1)
	policy, err := s.MemoryPolicyStore.Get(ctx, key)
	s.entered <- struct{}{}
	<-s.release
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return policy, err
}

func TestCachedPolicyStore_FillSurvivesCallerCancellation(t *testing.T) {
	// Arrange
	origin := newGatedStore()
	require.NoError(t, origin.Set(context.Background(), "crlp_a", testClientPolicy("a", 5)))
	cached := NewCachedPolicyStore[domain.ClientPolicy](origin, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.Get(ctx, "crlp_a")
		firstErr <- err
	}()
	<-origin.entered

	// Act
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan *domain.ClientPolicy, 1)
	go func() {
		policy, err := cached.Get(context.Background(), "crlp_a")
		assert.NoError(t, err)
		second <- policy
	}()
	close(origin.release)

	// Assert
	policy := <-second
	require.NotNil(t, policy)
	assert.Equal(t, 5, policy.Rules[0].Limit)
	assert.Equal(t, int64(1), origin.gets.Load())
}

func TestCachedPolicyStore_InvalidateDuringFillDropsStaleResult(t *testing.T) {
	// Arrange
	origin := newGatedStore()
	ctx := context.Background()
	require.NoError(t, origin.Set(ctx, "crlp_a", testClientPolicy("a", 5)))
	cached := NewCachedPolicyStore[domain.ClientPolicy](origin, time.Minute)

	stale := make(chan *domain.ClientPolicy, 1)
	go func() {
		policy, err := cached.Get(ctx, "crlp_a")
		assert.NoError(t, err)
		stale <- policy
	}()
	<-origin.entered

	// Act
	require.NoError(t, cached.Set(ctx, "crlp_a", testClientPolicy("a", 9)))
	close(origin.release)
	require.Equal(t, 5, (<-stale).Rules[0].Limit)

	updated, err := cached.Get(ctx, "crlp_a")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Rules[0].Limit)
	assert.Equal(t, int64(2), origin.gets.Load())
}
