package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"mediawish/internal/clock"
	"mediawish/internal/util"
	"mediawish/pkg/catalog"
	"mediawish/pkg/session"
	"mediawish/pkg/store"
	"mediawish/services/wishlist/internal/app"
	"mediawish/services/wishlist/internal/config"
	"mediawish/services/wishlist/internal/security"
	"mediawish/services/wishlist/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.yaml (or MEDIAWISH_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "wishlist")

	if err := run(cfg, logger); err != nil {
		logger.Error("wishlist server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.FileConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		return err
	}
	tmdbTimeout, err := config.ParseTMDbTimeout(cfg.TMDbTimeout)
	if err != nil {
		return err
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trustedProxies: %w", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init postgres store: %w", err)
	}
	defer dataStore.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	sessions, err := session.NewManager(session.Options{
		Secret:   []byte(cfg.JWTSecret),
		TTL:      tokenTTL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Clock:    clock.Real{},
	})
	if err != nil {
		return fmt.Errorf("init session manager: %w", err)
	}

	appCore, err := app.New(app.Config{
		Store:    dataStore,
		Sessions: sessions,
		Catalog: catalog.NewClient(catalog.Options{
			BaseURL:    cfg.TMDbBaseURL,
			Token:      cfg.TMDbReadToken,
			Language:   cfg.TMDbLanguage,
			MaxResults: cfg.TMDbMaxResults,
			Timeout:    tmdbTimeout,
		}),
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	if _, err := appCore.SeedDefaultAdmin(ctx, cfg.DefaultAdminUsername, cfg.DefaultAdminPassword); err != nil {
		return fmt.Errorf("seed default admin: %w", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Sessions:                 sessions,
		Redis:                    redisClient,
		Alerter:                  security.NewAlerter(redisClient, "mediawish:alerts"),
		TrustedProxies:           proxies,
		AllowedOrigins:           cfg.AllowedOrigins,
		SearchRateLimitPerMinute: cfg.SearchRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		Production:               cfg.IsProduction(),
		StaticDir:                cfg.StaticDir,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("wishlist server listening", "addr", addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", shutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
