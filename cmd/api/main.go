package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/idempotency"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	txManager := repository.NewTxManager(pg.PoolHandle(), logger)

	dispatcher := events.NewInMemoryDispatcher()
	subscribeAuditLog(dispatcher, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(txManager.Repos().Users, tokenManager, cfg.Auth.BcryptCost)
	authMiddleware := auth.NewMiddleware(tokenManager)

	ticketService := service.NewTicketService(service.TicketDependencies{
		Tx:         txManager,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	idemCache := idempotency.NewCache(redis.Client, txManager.Repos().Idempotency, logger)

	monitor := worker.NewSLAMonitor(worker.SLAMonitorOptions{
		Tx:         txManager,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
		Interval:   cfg.SLA.SweepInterval(),
		BatchSize:  cfg.SLA.BatchSize,
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout(), cfg.RateLimit.RequestsPerMinute)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:           handlers.NewHealthHandler(pg, redis),
		Users:            handlers.NewUsersHandler(authService),
		Tickets:          handlers.NewTicketsHandler(ticketService, idemCache, logger),
		Comments:         handlers.NewCommentsHandler(ticketService),
		AuthMiddleware:   authMiddleware,
		IdempotencyCache: idemCache,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

// subscribeAuditLog mirrors domain events into the structured log.
func subscribeAuditLog(dispatcher events.Dispatcher, logger *zap.Logger) {
	logEvent := func(_ context.Context, event events.Event) error {
		logger.Info("domain event",
			zap.String("type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
		)
		return nil
	}
	dispatcher.Subscribe(events.EventTicketCreated, logEvent)
	dispatcher.Subscribe(events.EventTicketUpdated, logEvent)
	dispatcher.Subscribe(events.EventCommentAdded, logEvent)
	dispatcher.Subscribe(events.EventSLABreached, logEvent)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
