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

	"smartswipe/syncclient/config"
	"smartswipe/syncclient/internal"
	"smartswipe/syncclient/internal/linkwidget"
	"smartswipe/syncclient/internal/session"
	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/logger"
	clienterrors "smartswipe/syncclient/pkg/errors"
	"smartswipe/syncclient/services/api"
	"smartswipe/syncclient/services/bus"
	"smartswipe/syncclient/services/cache"
	"smartswipe/syncclient/services/metrics"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	command := commandSync
	args := []string{}
	if len(os.Args) > 1 {
		command = os.Args[1]
		args = os.Args[2:]
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("command", command).
		Str("cache_backend", cfg.CacheBackend).
		Str("bus_backend", cfg.BusBackend).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, services.Metrics)
		defer stop()
	}

	user, err := authenticate(ctx, cfg, services)
	if err != nil {
		log.Fatal().Err(err).Msg("Not signed in; set SMARTSWIPE_EMAIL and SMARTSWIPE_PASSWORD")
	}

	deps := services.Dependencies(cfg)

	commandDone := make(chan error, 1)
	go func() {
		commandDone <- runCommand(ctx, command, args, deps, services, user.ID)
	}()

	// Wait for shutdown signal or the command to finish
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-commandDone
	case err := <-commandDone:
		if err != nil {
			log.Error().Err(err).Str("command", command).Msg("Command failed")
			services.Cleanup()
			os.Exit(1)
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
}

// Services holds all the initialized services
type Services struct {
	Cache   cache.CacheService
	Bus     bus.Bus
	Metrics *metrics.Metrics
	Store   *store.Store
	API     *api.Client
	Session *session.Session
	Widget  linkwidget.Widget

	cleaned bool
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.cleaned {
		return
	}
	s.cleaned = true

	if s.Bus != nil {
		if err := s.Bus.Close(); err != nil {
			logger.Warn("Failed to close bus: %v", err)
		}
	}
	if closer, ok := s.Cache.(cache.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close cache: %v", err)
		}
	}
	if s.Widget != nil {
		s.Widget.RemoveAll()
	}
}

// Dependencies builds the application context the screens run on
func (s *Services) Dependencies(cfg *config.Config) *internal.Dependencies {
	return &internal.Dependencies{
		Config:  cfg,
		Store:   s.Store,
		Bus:     s.Bus,
		API:     s.API,
		Widget:  s.Widget,
		Metrics: s.Metrics,
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{Metrics: metrics.NewMetrics()}

	// Initialize cache service
	cacheService, err := newCacheService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	services.Cache = cacheService

	// Initialize invalidation bus
	switch cfg.BusBackend {
	case config.BusBackendRedis:
		redisBus := bus.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisChannel, services.Metrics)
		if err := redisBus.Ping(); err != nil {
			redisBus.Close()
			return nil, fmt.Errorf("failed to connect invalidation bus: %w", err)
		}
		services.Bus = redisBus
		logger.Info("Connected to Redis bus at %s (DB: %d, Channel: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisChannel)
	default:
		services.Bus = bus.NewLocalBus(services.Metrics)
	}

	services.Store = store.New(cacheService,
		store.WithMetrics(services.Metrics),
		store.WithWindow(store.KindAccounts, cfg.AccountsTTL),
		store.WithWindow(store.KindCashback, cfg.SummaryTTL),
		store.WithWindow(store.KindOptimalCashback, cfg.SummaryTTL),
		store.WithWindow(store.KindTransactionSummary, cfg.SummaryTTL),
		store.WithWindow(store.KindTransactions, cfg.SummaryTTL),
	)

	services.API = api.NewClient(cfg.APIURL, cfg.APITimeout, api.WithMetrics(services.Metrics))
	services.Session = session.New(cacheService, services.API, services.Store)
	services.API.SetTokenSource(services.Session)

	services.Widget = linkwidget.NewLoopbackWidget(cfg.LinkCallbackAddr)

	return services, nil
}

// newCacheService opens the durable backend selected by the configuration
func newCacheService(ctx context.Context, cfg *config.Config) (cache.CacheService, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		return cache.NewMemoryService(), nil

	case config.CacheBackendMemcache:
		mc := cache.NewMemcacheService(cfg.MemcacheAddr, cfg.CachePrefix)
		if err := mc.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to memcache at %s: %w", cfg.MemcacheAddr, err)
		}
		logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		return mc, nil

	case config.CacheBackendRedis:
		rs := cache.NewRedisService(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.CachePrefix)
		if err := rs.Ping(); err != nil {
			rs.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("Connected to Redis at %s (DB: %d)", cfg.RedisAddr, cfg.RedisDB)
		return rs, nil

	default:
		fs, err := cache.NewFileService(cfg.CacheFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache file: %w", err)
		}
		logger.Info("Using cache file %s", fs.Path())
		return fs, nil
	}
}

// authenticate restores the saved session, or signs in with the configured
// credentials when there is none or the backend rejects it
func authenticate(ctx context.Context, cfg *config.Config, services *Services) (api.User, error) {
	if user, ok := services.Session.Restore(); ok {
		_, err := services.API.Me(ctx)
		switch {
		case err == nil:
			return user, nil
		case clienterrors.StatusOf(err) == http.StatusUnauthorized:
			logger.Warn("Saved session for %s was rejected, signing in again", user.ID)
			if err := services.Session.Logout(); err != nil {
				logger.Warn("Failed to clear rejected session: %v", err)
			}
		default:
			logger.Warn("Could not verify saved session, using it anyway: %v", err)
			return user, nil
		}
	}
	if cfg.Email == "" || cfg.Password == "" {
		return api.User{}, errors.New("no saved session")
	}
	return services.Session.Login(ctx, cfg.Email, cfg.Password)
}

// serveMetrics exposes the collectors on addr until the returned stop is called
func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped: %v", err)
		}
	}()
	logger.Info("Serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
