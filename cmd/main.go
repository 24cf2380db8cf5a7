package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hellofresh/health-go/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/yakoovad/taskcrew/internal/api"
	"github.com/yakoovad/taskcrew/internal/config"
	"github.com/yakoovad/taskcrew/internal/db"
	"github.com/yakoovad/taskcrew/internal/payment"
	"github.com/yakoovad/taskcrew/internal/repository"
	"github.com/yakoovad/taskcrew/internal/service"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	logger, err := logger.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting application")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.GetDSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err = pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	logger.Info("database connection established")

	transactor := db.NewPgxTransactor(pool)

	teamRepo := repository.NewPgxTeamRepository(pool)
	membershipRepo := repository.NewPgxMembershipRepository(pool)
	subscriptionRepo := repository.NewPgxSubscriptionRepository(pool)
	intentRepo := repository.NewPgxIntentRepository(pool)
	taskRepo := repository.NewPgxTaskRepository(pool)

	provider := payment.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	team := service.NewTeamService(transactor).
		WithTeamRepo(teamRepo).
		WithMembershipRepo(membershipRepo)

	checkout := service.NewCheckoutService(transactor, provider, service.CheckoutConfig{
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Currency:   cfg.Currency,
		IntentTTL:  cfg.IntentTTL,
	}).
		WithSubscriptionRepo(subscriptionRepo).
		WithIntentRepo(intentRepo)

	membership := service.NewMembershipService(transactor, provider, cfg.JoinPollAttempts, cfg.JoinPollInterval).
		WithTeamRepo(teamRepo).
		WithMembershipRepo(membershipRepo).
		WithSubscriptionRepo(subscriptionRepo).
		WithCheckoutService(checkout)

	reconciler := service.NewReconcilerService(transactor, provider).
		WithTeamRepo(teamRepo).
		WithMembershipRepo(membershipRepo).
		WithSubscriptionRepo(subscriptionRepo).
		WithIntentRepo(intentRepo)

	task := service.NewTaskService().
		WithTaskRepo(taskRepo).
		WithMembershipRepo(membershipRepo)

	healthChecker := api.MustNewHealthChecker(health.Config{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})

	go sweepExpiredIntents(ctx, logger, intentRepo, cfg.IntentSweepInterval)

	e := echo.New()

	handler := api.NewHandler(logger).
		WithHealthChecker(healthChecker).
		WithTeamService(team).
		WithMembershipService(membership).
		WithCheckoutService(checkout).
		WithReconcilerService(reconciler).
		WithTaskService(task)

	handler.RegisterRoutes(e)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down server", zap.Error(err))
		}
	}()

	logger.Info("server starting", zap.String("port", cfg.HTTPPort))
	if err = e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

// sweepExpiredIntents drops team-creation intents whose checkout never
// completed, so abandoned sessions cannot materialize a team later.
func sweepExpiredIntents(ctx context.Context, l *zap.Logger, intents repository.IntentRepository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := intents.DeleteExpired(ctx)
			if err != nil {
				l.Error("failed to sweep expired intents", zap.Error(err))
				continue
			}
			if deleted > 0 {
				l.Info("swept expired intents", zap.Int64("deleted", deleted))
			}
		}
	}
}
