package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/microloan/pkg/cache"
	"github.com/mcclellann/microloan/pkg/config"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// openStorage picks Postgres when a database URI is configured, SQLite otherwise.
func openStorage(ctx context.Context, cfg *config.Config) (store.Storage, error) {
	if cfg.DatabaseURI != "" {
		return store.NewPostgresStore(ctx, cfg.DatabaseURI)
	}
	return store.NewSQLiteStore(cfg.SQLitePath)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	defer storage.Close()

	var opts []ledger.Option
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()
		opts = append(opts, ledger.WithSummaryCache(cache.NewSummaryCache(rdb, cfg.CacheTTL)))
		sugar.Infow("summary cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	l := ledger.NewLedger(storage, ledger.SystemClock{}, logger, opts...)
	server := NewServer(l, logger)

	httpServer := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			sugar.Infow("starting overdue sweep", "interval", cfg.SweepInterval)
			return l.StartOverdueSweep(ctx, cfg.SweepInterval)
		})
	}

	g.Go(func() error {
		sugar.Infow("starting microloan server", "addr", cfg.RunAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
