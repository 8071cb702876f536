package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/domain"
)

// StorageType define os tipos de storage disponíveis
type StorageType string

const (
	RedisStorageType  StorageType = "redis"
	CacheStorageType  StorageType = "cache"
	MemoryStorageType StorageType = "memory"
)

// StorageConfig contém configurações para criação de storage
type StorageConfig struct {
	Type        StorageType
	RedisConfig *RedisConfig
}

// RedisConfig contém configurações específicas do Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Database int
}

// PolicyStores agrupa os stores de políticas de cliente e de endereço
type PolicyStores struct {
	Clients domain.PolicyStore[domain.ClientPolicy]
	IPs     domain.PolicyStore[domain.IPPolicySet]
}

// StorageFactory cria instâncias de storage seguindo Strategy Pattern
type StorageFactory struct {
	clock clock.Clock
}

// NewStorageFactory cria uma nova instância da factory
func NewStorageFactory(clk clock.Clock) *StorageFactory {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &StorageFactory{clock: clk}
}

// RequiresRedis indica se o tipo precisa de um cliente Redis
func (t StorageType) RequiresRedis() bool {
	switch StorageType(strings.ToLower(string(t))) {
	case RedisStorageType, CacheStorageType:
		return true
	}
	return false
}

// CreateCounterStore cria o store de contadores. O cliente é obrigatório para
// os tipos redis e cache e continua pertencendo ao chamador.
func (f *StorageFactory) CreateCounterStore(storageType StorageType, client redis.Cmdable, logger domain.Logger) (domain.CounterStore, error) {
	switch StorageType(strings.ToLower(string(storageType))) {
	case RedisStorageType:
		if client == nil {
			return nil, fmt.Errorf("Redis client cannot be nil for %s storage", storageType)
		}
		if logger != nil {
			logger.Info("Redis counter store created successfully", nil)
		}
		return NewRedisCounterStore(client, f.clock, logger), nil

	case CacheStorageType:
		if client == nil {
			return nil, fmt.Errorf("Redis client cannot be nil for %s storage", storageType)
		}
		if logger != nil {
			logger.Warn("Cache counter store is approximate under concurrent writers", nil)
		}
		return NewCacheCounterStore(client, f.clock, logger), nil

	case MemoryStorageType:
		return NewMemoryCounterStore(f.clock, logger), nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// CreatePolicyStores cria os stores de políticas. Com cacheTTL > 0 o store
// Redis ganha uma cópia local.
func (f *StorageFactory) CreatePolicyStores(storageType StorageType, client redis.Cmdable, cacheTTL time.Duration, logger domain.Logger) (*PolicyStores, error) {
	switch StorageType(strings.ToLower(string(storageType))) {
	case MemoryStorageType:
		return &PolicyStores{
			Clients: NewMemoryPolicyStore[domain.ClientPolicy](),
			IPs:     NewMemoryPolicyStore[domain.IPPolicySet](),
		}, nil

	case RedisStorageType:
		if client == nil {
			return nil, fmt.Errorf("Redis client cannot be nil for %s policy store", storageType)
		}
		var clients domain.PolicyStore[domain.ClientPolicy] = NewRedisPolicyStore[domain.ClientPolicy](client, logger)
		var ips domain.PolicyStore[domain.IPPolicySet] = NewRedisPolicyStore[domain.IPPolicySet](client, logger)
		if cacheTTL > 0 {
			clients = NewCachedPolicyStore[domain.ClientPolicy](clients, cacheTTL)
			ips = NewCachedPolicyStore[domain.IPPolicySet](ips, cacheTTL)
		}
		return &PolicyStores{Clients: clients, IPs: ips}, nil

	default:
		return nil, fmt.Errorf("unsupported policy store type: %s", storageType)
	}
}

// GetSupportedTypes retorna os tipos de storage suportados
func (f *StorageFactory) GetSupportedTypes() []StorageType {
	return []StorageType{RedisStorageType, CacheStorageType, MemoryStorageType}
}

// ValidateConfig valida uma configuração de storage
func (f *StorageFactory) ValidateConfig(config *StorageConfig) error {
	if config == nil {
		return fmt.Errorf("storage config cannot be nil")
	}

	switch StorageType(strings.ToLower(string(config.Type))) {
	case RedisStorageType, CacheStorageType:
		return f.validateRedisConfig(config.RedisConfig)
	case MemoryStorageType:
		// Memory storage não precisa de configurações específicas
		return nil
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// validateRedisConfig valida configuração do Redis
func (f *StorageFactory) validateRedisConfig(config *RedisConfig) error {
	if config == nil {
		return fmt.Errorf("Redis config cannot be nil")
	}

	if config.Host == "" {
		return fmt.Errorf("Redis host cannot be empty")
	}

	if config.Port == "" {
		return fmt.Errorf("Redis port cannot be empty")
	}

	if config.Database < 0 || config.Database > 15 {
		return fmt.Errorf("Redis database must be between 0 and 15, got: %d", config.Database)
	}

	return nil
}
