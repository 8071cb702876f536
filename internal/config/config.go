package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"rate-limit-engine/internal/service"
	"rate-limit-engine/internal/storage"

	"github.com/joho/godotenv"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Server Configuration
	ServerPort string
	GinMode    string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Identity Configuration
	Mode              string
	ClientIDHeader    string
	AnonymousClientID string
	RealIPHeader      string
	UnmapIPv4         bool

	// Counter Configuration
	CounterBackend         string
	CounterPrefix          string
	CounterCompactInterval time.Duration
	BackendFailureMode     string
	BackendTimeout         time.Duration

	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Rule Configuration
	EnableEndpointRateLimiting bool
	StackBlockedRequests       bool
	QuotaExceededMessage       string
	HTTPStatusCode             int

	// Policy Configuration
	PolicyStore        string
	PolicyCacheTTL     time.Duration
	ClientPolicyPrefix string
	IPPolicyPrefix     string
	PolicyFile         string
	WatchPolicyFile    bool
}

// ConfigLoader carrega a configuração do ambiente
type ConfigLoader struct {
	config *Config
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// LoadConfig carrega as configurações do .env e do ambiente
func (c *ConfigLoader) LoadConfig() (*Config, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	c.config = config
	return config, nil
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		// Server defaults
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		// Identity defaults
		Mode:              strings.ToLower(getEnvWithDefault("RATE_LIMIT_MODE", string(service.IPMode))),
		ClientIDHeader:    getEnvWithDefault("CLIENT_ID_HEADER", "X-ClientId"),
		AnonymousClientID: strings.TrimSpace(getEnvWithDefault("ANONYMOUS_CLIENT_ID", "anon")),
		RealIPHeader:      os.Getenv("REAL_IP_HEADER"),

		// Counter defaults
		CounterBackend:     strings.ToLower(getEnvWithDefault("COUNTER_BACKEND", string(storage.MemoryStorageType))),
		CounterPrefix:      getEnvWithDefault("COUNTER_PREFIX", service.DefaultCounterPrefix),
		BackendFailureMode: strings.ToLower(getEnvWithDefault("BACKEND_FAILURE_MODE", string(service.FailOpen))),

		// Redis defaults
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		// Rule defaults
		QuotaExceededMessage: getEnvWithDefault("QUOTA_EXCEEDED_MESSAGE", service.DefaultQuotaExceededMessage),

		// Policy defaults
		PolicyStore:        strings.ToLower(getEnvWithDefault("POLICY_STORE", string(storage.MemoryStorageType))),
		ClientPolicyPrefix: getEnvWithDefault("CLIENT_POLICY_PREFIX", service.DefaultClientPolicyPrefix),
		IPPolicyPrefix:     getEnvWithDefault("IP_POLICY_PREFIX", service.DefaultIPPolicyPrefix),
		PolicyFile:         os.Getenv("POLICY_FILE"),
	}

	var err error

	// Parse Redis DB
	if config.RedisDB, err = strconv.Atoi(getEnvWithDefault("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB value: %w", err)
	}

	if config.HTTPStatusCode, err = strconv.Atoi(getEnvWithDefault("HTTP_STATUS_CODE", strconv.Itoa(http.StatusTooManyRequests))); err != nil {
		return nil, fmt.Errorf("invalid HTTP_STATUS_CODE value: %w", err)
	}

	timeoutMs, err := strconv.Atoi(getEnvWithDefault("BACKEND_TIMEOUT_MS", "250"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKEND_TIMEOUT_MS value: %w", err)
	}
	config.BackendTimeout = time.Duration(timeoutMs) * time.Millisecond

	// Parse durations
	if config.PolicyCacheTTL, err = time.ParseDuration(getEnvWithDefault("POLICY_CACHE_TTL", "5s")); err != nil {
		return nil, fmt.Errorf("invalid POLICY_CACHE_TTL value: %w", err)
	}

	if config.CounterCompactInterval, err = time.ParseDuration(getEnvWithDefault("COUNTER_COMPACT_INTERVAL", "1m")); err != nil {
		return nil, fmt.Errorf("invalid COUNTER_COMPACT_INTERVAL value: %w", err)
	}

	// Parse flags
	flags := []struct {
		key    string
		def    string
		target *bool
	}{
		{"ENABLE_ENDPOINT_RATE_LIMITING", "false", &config.EnableEndpointRateLimiting},
		{"STACK_BLOCKED_REQUESTS", "false", &config.StackBlockedRequests},
		{"WATCH_POLICY_FILE", "false", &config.WatchPolicyFile},
		{"IPV4_MAPPED_AS_IPV4", "true", &config.UnmapIPv4},
	}
	for _, flag := range flags {
		value, err := strconv.ParseBool(getEnvWithDefault(flag.key, flag.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", flag.key, err)
		}
		*flag.target = value
	}

	// Valida configurações obrigatórias
	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas
func (c *ConfigLoader) validateConfig(config *Config) error {
	switch service.Mode(config.Mode) {
	case service.ClientMode, service.IPMode:
	default:
		return fmt.Errorf("RATE_LIMIT_MODE must be client or ip, got: %s", config.Mode)
	}

	if service.Mode(config.Mode) == service.ClientMode && strings.TrimSpace(config.ClientIDHeader) == "" {
		return fmt.Errorf("CLIENT_ID_HEADER is required in client mode")
	}

	switch service.FailureMode(config.BackendFailureMode) {
	case service.FailOpen, service.FailClosed:
	default:
		return fmt.Errorf("BACKEND_FAILURE_MODE must be open or closed, got: %s", config.BackendFailureMode)
	}

	factory := storage.NewStorageFactory(nil)
	if err := factory.ValidateConfig(config.StorageConfig()); err != nil {
		return fmt.Errorf("invalid COUNTER_BACKEND: %w", err)
	}

	switch storage.StorageType(config.PolicyStore) {
	case storage.MemoryStorageType, storage.RedisStorageType:
	default:
		return fmt.Errorf("POLICY_STORE must be memory or redis, got: %s", config.PolicyStore)
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	if config.BackendTimeout < 0 {
		return fmt.Errorf("BACKEND_TIMEOUT_MS cannot be negative")
	}

	if config.PolicyCacheTTL < 0 {
		return fmt.Errorf("POLICY_CACHE_TTL cannot be negative")
	}

	if config.CounterCompactInterval < 0 {
		return fmt.Errorf("COUNTER_COMPACT_INTERVAL cannot be negative")
	}

	if config.HTTPStatusCode < 400 || config.HTTPStatusCode > 599 {
		return fmt.Errorf("HTTP_STATUS_CODE must be an error status, got: %d", config.HTTPStatusCode)
	}

	if config.WatchPolicyFile && config.PolicyFile == "" {
		return fmt.Errorf("WATCH_POLICY_FILE requires POLICY_FILE")
	}

	return nil
}

// RequiresRedis indica se algum backend configurado usa Redis
func (c *Config) RequiresRedis() bool {
	return storage.StorageType(c.CounterBackend).RequiresRedis() ||
		storage.StorageType(c.PolicyStore) == storage.RedisStorageType
}

// StorageConfig monta a configuração do backend de contadores
func (c *Config) StorageConfig() *storage.StorageConfig {
	return &storage.StorageConfig{
		Type:        storage.StorageType(c.CounterBackend),
		RedisConfig: c.RedisConfig(),
	}
}

// RedisConfig monta a configuração de conexão com o Redis
func (c *Config) RedisConfig() *storage.RedisConfig {
	return &storage.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		Database: c.RedisDB,
	}
}

// ServiceConfig monta a configuração do motor de admissão
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		Mode:                       service.Mode(c.Mode),
		CounterPrefix:              c.CounterPrefix,
		ClientPolicyPrefix:         c.ClientPolicyPrefix,
		IPPolicyPrefix:             c.IPPolicyPrefix,
		EnableEndpointRateLimiting: c.EnableEndpointRateLimiting,
		StackBlockedRequests:       c.StackBlockedRequests,
		FailureMode:                service.FailureMode(c.BackendFailureMode),
		BackendTimeout:             c.BackendTimeout,
		QuotaExceededMessage:       c.QuotaExceededMessage,
		UnmapIPv4:                  c.UnmapIPv4,
	}
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
