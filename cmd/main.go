package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corestream/datacore/internal/app"
	"github.com/corestream/datacore/internal/cache"
	"github.com/corestream/datacore/internal/config"
	"github.com/corestream/datacore/internal/db"
	"github.com/corestream/datacore/internal/httpapi"
	"github.com/corestream/datacore/internal/logger"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.GetLogger()

	cfg, err := config.Load(getEnv("CONFIG_FILE", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Msg("connecting to database...")
	database, err := db.NewDatabase(db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	log.Info().Msg("running database migrations...")
	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	log.Info().Bool("enabled", cfg.Cache.Enabled).Msg("initializing cache...")
	cacheClient, err := cache.NewCache(cache.Config{
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		DB:       0,
		Enabled:  cfg.Cache.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize cache, continuing with caching disabled")
		cacheClient, _ = cache.NewCache(cache.Config{Enabled: false})
	}

	application, err := app.New(cfg, database, cacheClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire application")
	}
	defer application.Close()

	housekeeping := application.StartHousekeeping()
	if housekeeping != nil {
		defer housekeeping.Stop()
	}

	if application.Synchro != nil && application.Synchro.IsEnabled() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := application.Synchro.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("synchro listener stopped")
			}
		}()
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := httpapi.New(application.Pipeline, application.Deps(), []string{"/health"}, httpapi.HTTPConfig{
		RateLimitPerSecond: cfg.HTTP.RateLimitPerSecond,
		RateLimitBurst:     cfg.HTTP.RateLimitBurst,
		GzipLevel:          cfg.HTTP.GzipLevel,
	}, application.Streams)
	engine := router.Engine()
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("starting graceful shutdown")

	shutdownTimeout := 30 * time.Second
	if timeoutEnv := os.Getenv("SHUTDOWN_TIMEOUT"); timeoutEnv != "" {
		if duration, err := time.ParseDuration(timeoutEnv); err == nil {
			shutdownTimeout = duration
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server forced to shutdown")
	} else {
		log.Info().Msg("HTTP server stopped gracefully")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
