package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"rate-limit-engine/internal/clock"
	"rate-limit-engine/internal/config"
	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/handler"
	"rate-limit-engine/internal/logger"
	"rate-limit-engine/internal/metrics"
	"rate-limit-engine/internal/middleware"
	"rate-limit-engine/internal/service"
	"rate-limit-engine/internal/storage"
)

const version = "1.0.0"

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	cfg, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Inicializar logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info("Starting Admission Engine API", map[string]interface{}{
		"version":         version,
		"log_level":       cfg.LogLevel,
		"port":            cfg.ServerPort,
		"mode":            cfg.Mode,
		"counter_backend": cfg.CounterBackend,
		"policy_store":    cfg.PolicyStore,
	})

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Admission Engine API stopped with error", err, nil)
		os.Exit(1)
	}

	appLogger.Info("Server stopped gracefully", nil)
}

func run(cfg *config.Config, appLogger domain.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis só é aberto quando algum backend precisa dele
	var redisClient *redis.Client
	if cfg.RequiresRedis() {
		client, err := storage.NewRedisClient(cfg.RedisConfig(), appLogger)
		if err != nil {
			return err
		}
		redisClient = client
		defer redisClient.Close()
	}

	factory := storage.NewStorageFactory(clock.NewRealClock())

	var cmdable redis.Cmdable
	if redisClient != nil {
		cmdable = redisClient
	}

	counters, err := factory.CreateCounterStore(storage.StorageType(cfg.CounterBackend), cmdable, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create counter store: %w", err)
	}
	defer counters.Close()

	policyStores, err := factory.CreatePolicyStores(storage.StorageType(cfg.PolicyStore), cmdable, cfg.PolicyCacheTTL, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create policy stores: %w", err)
	}

	recorder, err := metrics.NewPrometheusRecorder()
	if err != nil {
		return fmt.Errorf("failed to create metrics recorder: %w", err)
	}

	serviceConfig := cfg.ServiceConfig()
	limiter, err := service.NewRateLimiterService(
		counters,
		policyStores.Clients,
		policyStores.IPs,
		serviceConfig,
		service.GeneralRules{},
		clock.NewRealClock(),
		recorder,
		appLogger,
	)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter service: %w", err)
	}

	policyService := service.NewPolicyService(policyStores.Clients, policyStores.IPs, serviceConfig, appLogger)

	if cfg.PolicyFile != "" {
		policies, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return err
		}
		if err := policies.Apply(ctx, limiter, policyService); err != nil {
			return err
		}
		appLogger.Info("Policy file loaded", map[string]interface{}{
			"path":          cfg.PolicyFile,
			"general_rules": len(policies.General.Rules),
			"clients":       len(policies.Clients),
			"ips":           len(policies.IPs.Policies),
		})

		if cfg.WatchPolicyFile {
			watcher, err := config.NewPolicyWatcher(cfg.PolicyFile, appLogger)
			if err != nil {
				return err
			}
			defer watcher.Close()

			if err := config.WatchPolicies(ctx, watcher, limiter, policyService, appLogger); err != nil {
				return err
			}
		}
	} else {
		appLogger.Warn("No POLICY_FILE configured, every request is admitted until policies are set", nil)
	}

	// Configurar Gin
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	handlers := handler.NewHandlers(limiter, policyService, appLogger, handler.Options{
		Extractor: middleware.IdentityExtractor{
			ClientIDHeader:    cfg.ClientIDHeader,
			AnonymousClientID: cfg.AnonymousClientID,
			RealIPHeader:      cfg.RealIPHeader,
		},
		StatusCode:     cfg.HTTPStatusCode,
		MetricsHandler: recorder.Handler(),
		Version:        version,
	})
	handlers.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": cfg.ServerPort,
			"addr": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	// O store em memória não limpa sozinho: o processo decide a cadência
	if memory, ok := counters.(*storage.MemoryCounterStore); ok && cfg.CounterCompactInterval > 0 {
		group.Go(func() error {
			compactCounters(groupCtx, memory, cfg.CounterCompactInterval, appLogger)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Shutting down server...", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	appLogger.Info("Admission Engine API is running", map[string]interface{}{
		"port": cfg.ServerPort,
		"endpoints": []string{
			"GET    /health",
			"GET    /metrics",
			"GET    /                           (rate limited)",
			"POST   /v1/admit",
			"GET    /v1/rules",
			"GET    /admin/policies/clients/:id",
			"PUT    /admin/policies/clients/:id",
			"DELETE /admin/policies/clients/:id",
			"GET    /admin/policies/ip",
			"PUT    /admin/policies/ip",
			"DELETE /admin/counters",
		},
	})

	return group.Wait()
}

func compactCounters(ctx context.Context, store *storage.MemoryCounterStore, interval time.Duration, appLogger domain.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.Compact(); removed > 0 {
				appLogger.Debug("Expired counters compacted", map[string]interface{}{
					"removed":   removed,
					"remaining": store.Len(),
				})
			}
		}
	}
}
