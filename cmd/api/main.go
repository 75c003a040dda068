package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dmarchuk/contentledger/internal/api"
	"github.com/dmarchuk/contentledger/internal/config"
	"github.com/dmarchuk/contentledger/internal/journal"
	"github.com/dmarchuk/contentledger/internal/ledger"
	"github.com/dmarchuk/contentledger/internal/logger"
	"github.com/dmarchuk/contentledger/internal/rate"
	"github.com/dmarchuk/contentledger/internal/treasury"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = zlog.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := ledger.Options{Logger: zlog}

	var pgJournal *journal.Postgres
	if cfg.DBSource != "" {
		pgJournal, err = journal.NewPostgres(cfg.DBSource)
		if err != nil {
			zlog.Fatal("connect journal database", zap.Error(err))
		}
		defer pgJournal.Close()
		if err := pgJournal.EnsureSchema(ctx); err != nil {
			zlog.Fatal("ensure journal schema", zap.Error(err))
		}
		opts.Journal = pgJournal
	} else {
		zlog.Warn("DB_SOURCE not set, running without a durable journal")
	}

	custody := treasury.NewMemoryTreasury()
	ledg, err := ledger.New(cfg.OwnerID, cfg.FeePercent, custody, opts)
	if err != nil {
		zlog.Fatal("create ledger", zap.Error(err))
	}

	if pgJournal != nil {
		snap, err := pgJournal.Load(ctx)
		if err != nil {
			zlog.Fatal("load journal snapshot", zap.Error(err))
		}
		if err := ledg.Restore(snap); err != nil {
			zlog.Fatal("restore ledger state", zap.Error(err))
		}
		zlog.Info("ledger state restored",
			zap.Int("contents", len(snap.Contents)),
			zap.Int("purchases", len(snap.Purchases)),
			zap.Int("balances", len(snap.Balances)))
	}

	var limiter *rate.Limiter
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			zlog.Fatal("connect redis", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		limiter = rate.NewLimiter(rate.NewRedisWindowStore(client),
			cfg.PaymentsPerMinute, cfg.PaymentsPer10Sec)
	} else {
		zlog.Warn("REDIS_ADDR not set, payment rate limiting disabled")
	}

	handler := api.NewHandler(ledg, limiter, zlog)
	if cfg.Env == "development" {
		handler.EnableDevFunding(custody)
		zlog.Warn("development treasury funding endpoint enabled")
	}
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.Int("fee_percent", cfg.FeePercent))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Error("shutdown server", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}
}
