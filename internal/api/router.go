package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/balance-ledger/internal/api/handlers"
	"github.com/baharkarakas/balance-ledger/internal/auth"
	"github.com/baharkarakas/balance-ledger/internal/config"
	"github.com/baharkarakas/balance-ledger/internal/metrics"
	"github.com/baharkarakas/balance-ledger/internal/middleware"
	"github.com/baharkarakas/balance-ledger/internal/services"
)

type RouterDeps struct {
	Cfg        config.Config
	Tokens     *auth.TokenManager
	UserSvc    *services.UserService
	BalanceSvc *services.BalanceService
	TxnSvc     *services.TransactionService
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	am := middleware.NewAuthMiddleware(d.Tokens, d.Cfg.DefaultActor)
	bh := handlers.NewBalanceHandler(d.TxnSvc, d.BalanceSvc)
	ah := handlers.NewAuthHandler(d.UserSvc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(am.Auth)

		// ---------- auth ----------
		r.Post("/auth/register", ah.Register)
		r.Post("/auth/login", ah.Login)
		r.Post("/auth/refresh", ah.Refresh)

		// ---------- balances ----------
		r.Post("/balance/transactions", bh.IssueTransactions)
		r.Get("/balance/{userID}", bh.GetBalance)
		r.Get("/balance/{userID}/transactions", bh.ListTransactions)

		// ---------- admin ----------
		r.With(middleware.RequireRole("admin")).Get("/admin/ledger/{userID}/verify", bh.VerifyLedger)
	})

	return r
}
