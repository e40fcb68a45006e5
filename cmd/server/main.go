package main

import (
	"context"                               // Context for background workers and shutdown
	"gold_tally/internal/api"               // Custom package for API handlers
	"gold_tally/internal/config"            // Custom package for configuration
	"gold_tally/internal/conversion"        // Conversion workflow
	"gold_tally/internal/db"                // Database connection
	"gold_tally/internal/exposure"          // Coverage monitor
	"gold_tally/internal/lock"              // Distributed locks
	"gold_tally/internal/pricefeed"         // Spot price feed
	"gold_tally/internal/pricing"           // Fee and variance policy
	"gold_tally/internal/repository"        // Persistence
	"gold_tally/internal/repository/memory" // In-memory store
	"gold_tally/internal/tally"             // Tally state machine
	"gold_tally/internal/utils"             // Cache implementations
	"net/http"                              // HTTP server
	"os"                                    // Process signals
	"os/signal"                             // Signal handling
	"syscall"                               // Signal numbers
	"time"                                  // Shutdown timeout

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	setupLogger(cfg)
	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}

	// Setup persistence
	store := openStore(cfg)

	// Setup Redis backed locks and cache, or in-process ones when no Redis is configured
	var (
		locks lock.Locker = lock.NewLocal()
		cache utils.Cache = utils.NewMemoryCache()
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		// Test Redis connection
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			logrus.Fatalf("failed to connect to Redis: %v", err)
		}
		locks = lock.NewRedis(redisClient, cfg.LockTTL)
		cache = utils.NewRedisCache(redisClient)
	} else {
		logrus.Warn("REDIS_ADDR not set, using in-process locks; run a single instance only")
	}

	// Setup price feed
	var source pricefeed.Source = pricefeed.Static{Price: cfg.StaticPrice}
	if cfg.PriceFeedURL != "" {
		source = pricefeed.NewHTTPSource(cfg.PriceFeedURL)
	}
	prices := pricefeed.NewService(source, cache, 2*cfg.PriceRefreshInterval, logrus.WithField("component", "pricefeed"))

	// Setup services
	tallies := tally.NewService(store, locks, prices, tally.Options{
		Calculator: pricing.NewCalculator(cfg.FeeRate, cfg.VarianceTolerance), // Fee and tolerance policy
		LockWait:   cfg.LockWait,                                              // Wallet lock wait
		Logger:     logrus.WithField("component", "tally"),                    // Service logger
	})
	conversions := conversion.NewService(store, locks, prices, cfg.LockWait, logrus.WithField("component", "conversion"))
	monitor := exposure.NewMonitor(exposure.NewAggregator(store), cache, cfg.CacheTTL, logrus.WithField("component", "exposure"))

	// Background workers stop with the server
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go prices.Run(ctx, cfg.PriceRefreshInterval)
	go monitor.Run(ctx, cfg.CoverageRefreshInterval)

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.Default() // Gin router instance

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }) // Liveness probe

	api.RegisterRoutes(r, api.Deps{
		Tally:       tallies,       // Tally endpoints
		Conversions: conversions,   // Conversion endpoints
		Store:       store,         // Treasury reads
		Prices:      prices,        // Spot rate endpoint
		Exposure:    monitor,       // Dashboard endpoint
		JWTSecret:   cfg.JWTSecret, // JWT secret key
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort, // Listen address
		Handler:           r,                 // Gin router
		ReadHeaderTimeout: 10 * time.Second,  // Slow client guard
	}
	go func() {
		logrus.Infof("Server running on %s", cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down...")
	stop() // Stop background workers

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("server shutdown: %v", err)
	}
	logrus.Info("server stopped")
}

// setupLogger applies LOG_FORMAT and LOG_LEVEL
func setupLogger(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// openStore picks the persistence backend from STORE_DRIVER
func openStore(cfg *config.Config) repository.Store {
	switch cfg.StoreDriver {
	case "memory":
		logrus.Warn("STORE_DRIVER=memory, state is lost on restart")
		return memory.New()
	case "mysql":
		gdb, err := db.Open(cfg)
		if err != nil {
			logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
		}
		return repository.NewGormStore(gdb)
	}
	logrus.Fatalf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	return nil
}
