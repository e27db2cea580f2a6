package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/config"
	"github.com/fxwallet/wallet-engine/internal/fx"
	"github.com/fxwallet/wallet-engine/internal/limits"
	"github.com/fxwallet/wallet-engine/internal/metrics"
	"github.com/fxwallet/wallet-engine/internal/store"
	"github.com/fxwallet/wallet-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Rate cache tier ---
	var cache fx.Cache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		cache = fx.NewRedisCache(rdb, cfg.RateCacheTTL)
		slog.Info("Redis rate cache enabled", "ttl", cfg.RateCacheTTL)
	} else {
		cache = fx.NewMemoryCache(cfg.RateCacheTTL)
		slog.Warn("REDIS_URL not set, using in-process rate cache")
	}

	// --- Rate stream hub ---
	rateHub := wallet.NewRateHub()
	go rateHub.Run()

	// --- Rate resolver ---
	provider := fx.NewHTTPProvider(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	resolver := fx.NewResolver(cache, provider, st, rateHub, cfg.RateStaleCeiling)

	// --- Operation limits ---
	var limiter *limits.OperationLimiter
	if cfg.MaxOperationAmount != "" {
		ceiling, err := decimal.NewFromString(cfg.MaxOperationAmount)
		if err != nil {
			slog.Error("invalid MAX_OPERATION_AMOUNT", "err", err)
			os.Exit(1)
		}
		limiter = limits.NewOperationLimiter(ceiling, nil)
		slog.Info("operation amount ceiling enabled", "ceiling", ceiling.String())
	}

	// --- Wallet service ---
	walletSvc := wallet.NewService(st, resolver, limiter)
	walletHandler := wallet.NewHandler(walletSvc)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wallet-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time rate updates.
		r.Get("/ws", rateHub.HandleWS)

		// Funding and conversion.
		r.Post("/wallet/fund", walletHandler.Fund)
		r.Post("/wallet/convert", walletHandler.Convert)
		r.Post("/wallet/trade", walletHandler.Trade)

		// Read-only queries.
		r.Get("/rates/preview", walletHandler.Preview)
		r.Get("/accounts/{ownerID}", walletHandler.ListAccounts)
		r.Get("/operations/{ownerID}/{operationID}", walletHandler.GetOperation)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wallet-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wallet-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wallet-engine stopped")
}
