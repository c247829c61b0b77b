// @title        Travelmate API
// @version      1.0
// @description  Guide matching with prepaid requests, trip expense ledgers and settlement.
// @BasePath     /api/v1
// @securityDefinitions.apikey BearerAuth
// @in           header
// @name         Authorization
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/fkhayef/travelmate/docs"
	"github.com/fkhayef/travelmate/internal/config"
	"github.com/fkhayef/travelmate/internal/database"
	"github.com/fkhayef/travelmate/internal/expense"
	"github.com/fkhayef/travelmate/internal/match"
	"github.com/fkhayef/travelmate/internal/payment"
	"github.com/fkhayef/travelmate/internal/plan"
	"github.com/fkhayef/travelmate/internal/settlement"
	"github.com/fkhayef/travelmate/internal/user"
	"github.com/fkhayef/travelmate/pkg/logging"
	mw "github.com/fkhayef/travelmate/pkg/middleware"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load configuration
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)
	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Connected to database", "dialect", db.Dialect())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// User feature
	userRepo := user.NewRepository(db)
	userService := user.NewService(userRepo)
	userHandler := user.NewHandler(userService)

	// Plan feature
	planService := plan.NewService(plan.NewRepository(db))
	planHandler := plan.NewHandler(planService)

	// Payment feature
	paymentMetrics := payment.NewMetrics(reg)
	approvalCache, err := payment.NewApprovalCache(cfg.ApprovalCacheSize)
	if err != nil {
		slog.Error("Failed to create approval cache", "error", err)
		os.Exit(1)
	}
	gateway := payment.NewHTTPGateway(cfg.Gateway, paymentMetrics)
	paymentService := payment.NewService(payment.NewRepository(db), gateway, approvalCache, cfg.Gateway, cfg.Refund, paymentMetrics)
	paymentHandler := payment.NewHandler(paymentService)

	// Match feature
	matchService := match.NewService(match.NewRepository(db), paymentService, userService, match.NewMetrics(reg))
	matchHandler := match.NewHandler(matchService)

	// Expense feature
	expenseRepo := expense.NewRepository(db)
	expenseService := expense.NewService(expenseRepo, paymentService, planService)
	expenseHandler := expense.NewHandler(expenseService)

	// Settlement feature
	settlementService := settlement.NewService(settlement.NewRepository(db), planService, expenseRepo, settlement.NewMetrics(reg))
	settlementHandler := settlement.NewHandler(settlementService)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mw.RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.IsDevelopment() {
			slog.Warn("Development mode: authenticating callers by X-Test-User-ID")
			r.Use(mw.TestUserMiddleware)
		} else {
			r.Use(mw.AuthMiddleware(mw.NewTokenValidator(cfg.JWTSecret)))
		}

		r.Mount("/users", userHandler.Routes())
		r.Mount("/payments", paymentHandler.Routes())
		r.Mount("/match", matchHandler.Routes())
		r.Mount("/expenses", expenseHandler.Routes())
		r.Route("/plans/{planId}", func(r chi.Router) {
			r.Get("/", planHandler.Get)
			r.Mount("/settlement", settlementHandler.PlanRoutes())
		})
		r.Route("/settlements/{settlementId}", func(r chi.Router) {
			r.Mount("/expenses", expenseHandler.SettlementRoutes())
			r.Mount("/", settlementHandler.Routes())
		})
	})

	go payment.NewRefundRetrier(paymentService, cfg.Refund.RetryInterval).Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
