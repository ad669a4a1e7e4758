package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/parkpay/parkpay-api/internal/config"
	"github.com/parkpay/parkpay-api/internal/domain/dashboard"
	"github.com/parkpay/parkpay-api/internal/domain/ledger"
	"github.com/parkpay/parkpay-api/internal/domain/notification"
	"github.com/parkpay/parkpay-api/internal/domain/parking"
	"github.com/parkpay/parkpay-api/internal/domain/payment"
	"github.com/parkpay/parkpay-api/internal/domain/reconcile"
	"github.com/parkpay/parkpay-api/internal/domain/user"
	"github.com/parkpay/parkpay-api/internal/middleware"
	"github.com/parkpay/parkpay-api/internal/pkg/database"
	"github.com/parkpay/parkpay-api/internal/pkg/jwt"
	"github.com/parkpay/parkpay-api/internal/pkg/logger"
	"github.com/parkpay/parkpay-api/internal/pkg/push"
	"github.com/parkpay/parkpay-api/internal/pkg/response"
	"github.com/parkpay/parkpay-api/internal/pkg/stripegw"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ParkPay API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	var fcmClient *push.FCMClient
	if cfg.FCMProjectID != "" {
		fcmClient = push.NewFCMClient(push.FCMConfig{
			ServerKey: cfg.FCMServerKey,
			ProjectID: cfg.FCMProjectID,
		})
	}

	stripeClient := stripegw.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	ledgerStore := ledger.NewStore(db)
	parkingRepo := parking.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	reconcileRepo := reconcile.NewRepository(db)
	notificationRepo := notification.NewRepository(db)

	// ---------- Services ----------
	dashboardService := dashboard.NewService(userRepo, ledgerStore, parkingRepo, redisClient, cfg.Policy)
	dispatcher := notification.NewDispatcher(notificationRepo, fcmClient, dashboardService, cfg.Policy)

	parkingService := parking.NewService(parkingRepo, ledgerStore, cfg.Policy, dispatcher)
	paymentService := payment.NewService(paymentRepo, ledgerStore, stripeClient, dispatcher)
	reconcileService := reconcile.NewService(reconcileRepo, ledgerStore, paymentService, parkingService)

	// ---------- Handlers ----------
	ledgerHandler := ledger.NewHandler(ledgerStore)
	parkingHandler := parking.NewHandler(parkingService)
	paymentHandler := payment.NewHandler(paymentService)
	reconcileHandler := reconcile.NewHandler(reconcileService, stripeClient)
	notificationHandler := notification.NewHandler(notificationRepo)
	dashboardHandler := dashboard.NewHandler(dashboardService)

	authMiddleware := middleware.Auth(jwtService)
	guardMiddleware := middleware.RequireGuard()
	adminMiddleware := middleware.RequireAdmin()

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			response.ServiceUnavailable(w)
			return
		}
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/sessions", parkingHandler.Routes(authMiddleware))
		r.Mount("/payments", paymentHandler.Routes(authMiddleware, adminMiddleware))
		r.Mount("/ledger", ledgerHandler.Routes(authMiddleware))
		r.Mount("/notifications", notificationHandler.Routes(authMiddleware))
		r.Mount("/me", dashboardHandler.Routes(authMiddleware))
		r.Mount("/guard", reconcileHandler.GuardRoutes(authMiddleware, guardMiddleware))
	})

	r.Mount("/webhooks", reconcileHandler.WebhookRoutes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
