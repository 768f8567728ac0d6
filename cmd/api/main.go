package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/balance-ledger/internal/api"
	"github.com/baharkarakas/balance-ledger/internal/auth"
	"github.com/baharkarakas/balance-ledger/internal/cache"
	"github.com/baharkarakas/balance-ledger/internal/config"
	"github.com/baharkarakas/balance-ledger/internal/db"
	"github.com/baharkarakas/balance-ledger/internal/lock"
	"github.com/baharkarakas/balance-ledger/internal/logger"
	"github.com/baharkarakas/balance-ledger/internal/metrics"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
	"github.com/baharkarakas/balance-ledger/internal/repository/memory"
	"github.com/baharkarakas/balance-ledger/internal/repository/postgres"
	"github.com/baharkarakas/balance-ledger/internal/services"
	"github.com/baharkarakas/balance-ledger/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		ledger repo.Ledger
		users  repo.Users
	)
	switch cfg.StoreDriver {
	case "memory":
		store := memory.New()
		ledger, users = store, store
		log.Warn("using in-process store, balances are lost on exit")
	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			log.Error("db connect", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		if cfg.Migrate {
			if err := db.RunMigrations(ctx, pool); err != nil {
				log.Error("migrations", "err", err)
				os.Exit(1)
			}
		}
		repos := postgres.NewRepositories(pool)
		ledger, users = repos.Ledger, repos.Users
	}

	rdb, err := cache.NewClient(ctx, cfg)
	if err != nil {
		log.Error("redis connect", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	wp := worker.NewPool(cfg.Workers)
	defer wp.Stop()

	tm := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	balances := cache.NewBalanceCache(rdb)

	userSvc := services.NewUserService(users, tm, cfg)
	balanceSvc := services.NewBalanceService(ledger, balances, log)
	txnSvc := services.NewTransactionService(ledger, lock.NewManager(rdb, cfg.LockTTL), balances, wp, cfg, log)

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:        cfg,
		Tokens:     tm,
		UserSvc:    userSvc,
		BalanceSvc: balanceSvc,
		TxnSvc:     txnSvc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "store", cfg.StoreDriver, "redis", cfg.RedisAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
