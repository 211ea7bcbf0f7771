package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"doctrack/internal/app"
	"doctrack/internal/channel"
	"doctrack/internal/config"
	"doctrack/internal/ratelimit"
	"doctrack/internal/server"
	"doctrack/internal/util"
	"doctrack/pkg/storage"
	"doctrack/pkg/store"
)

const rateWindow = time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	var images storage.ImageStore
	if cfg.MinioEndpoint != "" {
		images, err = storage.NewMinioImageStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			log.Fatalf("failed to init image storage: %v", err)
		}
	} else {
		slog.Warn("minio not configured, image uploads disabled")
	}

	hub := channel.NewHub()
	relay, err := channel.NewRedisRelay(cfg.RedisAddr, cfg.RedisPassword, "", hub)
	if err != nil {
		log.Fatalf("failed to init redis relay: %v", err)
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	if cfg.LoginRateLimitPerMinute > 0 {
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "doctrack:ratelimit:login",
			cfg.LoginRateLimitPerMinute, rateWindow)
		if err != nil {
			log.Fatalf("failed to init login rate limiter: %v", err)
		}
	}

	appCore, err := app.New(app.Config{
		Store:     st,
		Sessions:  sessions,
		Images:    images,
		Publisher: relay,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		Hub:            hub,
		LoginLimiter:   loginLimiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Relays fan-out events between instances; exits with the context.
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
