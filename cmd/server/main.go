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

	"github.com/arenax/settlement-engine/internal/compliance"
	"github.com/arenax/settlement-engine/internal/config"
	"github.com/arenax/settlement-engine/internal/escrow"
	"github.com/arenax/settlement-engine/internal/metrics"
	"github.com/arenax/settlement-engine/internal/settle"
	"github.com/arenax/settlement-engine/internal/store"
	"github.com/arenax/settlement-engine/internal/sweep"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dsn := cfg.DatabaseDSN(); dsn != "" {
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			slog.Error("invalid database config", "err", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = cfg.DBMaxConns
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL", "host", cfg.DBHost)

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DB_HOST not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Compliance oracle ---
	oracle := compliance.NewStaticOracle()

	// --- Escrow vault manager ---
	vaults := escrow.NewManager(st)

	// --- WebSocket hub ---
	hub := settle.NewHub()
	go hub.Run()

	// --- Settlement service ---
	svc := settle.NewService(st, vaults, oracle, hub, cfg.DefaultFeeBasisPoints)

	// --- Expiry sweeper ---
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sweeper := sweep.NewSweeper(st)
	if err := sweeper.Start(sweepCtx, cfg.SweepSpec); err != nil {
		slog.Error("sweeper start failed", "err", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

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
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time settlement events.
		r.Get("/ws", hub.HandleWS)

		// Platform lifecycle.
		r.Post("/platform", svc.HandleInitPlatform)
		r.Get("/platform", svc.HandleGetPlatform)
		r.Put("/platform", svc.HandleUpdatePlatform)

		// User accounts.
		r.Post("/users", svc.HandleCreateUser)
		r.Get("/users/{authority}", svc.HandleGetUser)
		r.Delete("/users/{authority}", svc.HandleDeactivateUser)

		// Match lifecycle.
		r.Post("/matches", svc.HandleCreateMatch)
		r.Get("/matches", svc.HandleListMatches)
		r.Get("/matches/{matchID}", svc.HandleGetMatch)
		r.Post("/matches/{matchID}/finalize", svc.HandleFinalizeMatch)
		r.Get("/matches/{matchID}/bets", svc.HandleListMatchBets)

		// Bets and settlement.
		r.Post("/bets", svc.HandlePlaceBet)
		r.Get("/bets/{betID}", svc.HandleGetBet)
		r.Post("/bets/{betID}/claim", svc.HandleClaimWinnings)
		r.Post("/bets/{betID}/refund", svc.HandleClaimRefund)

		// Escrow vaults.
		r.Post("/escrows", svc.HandleCreateEscrow)
		r.Get("/escrows/{escrowID}", svc.HandleGetEscrow)
		r.Post("/escrows/{escrowID}/deposit", svc.HandleDepositEscrow)
		r.Post("/escrows/{escrowID}/withdraw", svc.HandleWithdrawEscrow)

		// Wallet book (deposit boundary from the external ledger).
		r.Get("/wallets/{authority}", svc.HandleGetWallet)
		r.Post("/wallets/{authority}/credit", svc.HandleCreditWallet)
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
		slog.Info("settlement-engine listening", "port", cfg.Port)
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

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}
