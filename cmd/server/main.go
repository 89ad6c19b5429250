package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"klinikpos/backend/internal/cache"
	"klinikpos/backend/internal/config"
	"klinikpos/backend/internal/httpapi"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/lock"
	"klinikpos/backend/internal/logger"
	"klinikpos/backend/internal/service"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/store/memory"
	pgstore "klinikpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.ForEnvironment(cfg.AppEnv)
	logCfg.Format = cfg.LogFormat
	if cfg.LogLevel != "" {
		logCfg.Level = cfg.LogLevel
	}
	if cfg.LogOutput != "" {
		logCfg.Output = cfg.LogOutput
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	costing, reversal, err := parsePolicies(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("close failed", zap.Error(err))
			}
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var productCache cache.ProductCache = cache.NoopProductCache{}
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisProductCache(client, "klinikpos:")
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache and in-process locks", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = client.Close()
		} else {
			productCache = redisCache
			locker = lock.NewRedisLocker(client, "klinikpos:lock:")
			closers = append(closers, client.Close)
			log.Info("cache and finalize locks: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: noop, finalize locks: in-process")
	}

	svc := service.New(repo, service.Options{
		Cache:           productCache,
		CatalogCacheTTL: cfg.CatalogCacheTTL,
		Locker:          locker,
		FinalizeLockTTL: cfg.FinalizeLockTTL,
		Logger:          log,
		PointValue:      cfg.LoyaltyPointValue,
		CostingPolicy:   costing,
		ReversalPolicy:  reversal,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, httpapi.WithAuthLogger(log))
	api := httpapi.New(svc, auth, httpapi.Options{AllowedOrigin: cfg.AllowedOrigin, Logger: log})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("klinikpos backend listening",
			zap.String("addr", cfg.Address()),
			zap.String("env", cfg.AppEnv),
			zap.String("costing_policy", string(costing)),
			zap.String("reversal_policy", string(reversal)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openRepository refuses to fall back to memory when DATABASE_URL is set.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		if memory.DefaultSeedCredentials() {
			log.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
		}
		log.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	if cfg.RunMigrations {
		if err := pgstore.Migrate(pg.DB(), log); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	log.Info("repository: postgres")
	return pg, pg.Close, nil
}

func parsePolicies(cfg config.Config) (inventory.CostingPolicy, inventory.ReversalPolicy, error) {
	costing, err := inventory.ParseCostingPolicy(cfg.CostingPolicy)
	if err != nil {
		return "", "", err
	}
	reversal, err := inventory.ParseReversalPolicy(cfg.ReversalPolicy)
	if err != nil {
		return "", "", err
	}
	return costing, reversal, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
