package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"election-service/internal/api"
	"election-service/internal/database"
	"election-service/internal/domain"
	"election-service/internal/receipt"
	"election-service/internal/results"
	"election-service/pkg/config"
	"election-service/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to the config file")
	flag.Parse()

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLogger := logger.New(cfg.Logging)
	appLogger.WithFields(map[string]interface{}{
		"database": cfg.Database.Type,
		"cache":    cfg.Results.CacheBackend,
		"worker":   cfg.Worker.Enabled,
	}).Info("Starting election service")

	if err := run(cfg, appLogger); err != nil {
		appLogger.WithError(err).Fatal("Election service stopped with an error")
	}
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	signer, err := newSigner(cfg.Receipts, appLogger)
	if err != nil {
		return err
	}

	cache, closeCache, err := newResultCache(ctx, cfg, db, appLogger)
	if err != nil {
		return err
	}
	defer closeCache()

	services := api.NewServices(db, cache, signer, domain.SystemClock{}, cfg, appLogger)
	if err := services.Start(ctx); err != nil {
		return err
	}
	defer services.Stop()

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	api.SetupRoutes(router, services)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server listening", "address", server.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		appLogger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	appLogger.Info("HTTP server stopped")
	return nil
}

// newSigner loads the receipt key. Without one, receipts are signed with a key
// that lives only as long as the process.
func newSigner(cfg config.ReceiptsConfig, appLogger *logger.Logger) (*receipt.Signer, error) {
	if cfg.SigningKey != "" {
		signer, err := receipt.NewSigner(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("load receipt signing key: %w", err)
		}
		return signer, nil
	}
	signer, err := receipt.GenerateSigner()
	if err != nil {
		return nil, fmt.Errorf("generate receipt signing key: %w", err)
	}
	appLogger.Warning("No receipt signing key configured, using an ephemeral key", "address", signer.Address())
	return signer, nil
}

func newResultCache(ctx context.Context, cfg *config.Config, db *database.DB, appLogger *logger.Logger) (results.Cache, func(), error) {
	switch cfg.Results.CacheBackend {
	case "redis":
		client := results.NewRedisClient(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		appLogger.Info("Using redis result cache", "addr", cfg.Redis.Addr)
		return results.NewRedisCache(client, cfg.Redis.KeyPrefix), func() { client.Close() }, nil
	default:
		return results.NewSQLCache(db, domain.SystemClock{}), func() {}, nil
	}
}
