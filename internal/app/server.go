// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"billing-service/internal/config"
	"billing-service/internal/db"
	"billing-service/internal/domain/billingevent"
	deadLetterHandler "billing-service/internal/handlers/deadletter"
	healthHandler "billing-service/internal/handlers/health"
	webhookHandler "billing-service/internal/handlers/webhook"
	"billing-service/internal/integration/stripe"
	"billing-service/internal/middleware"
	"billing-service/internal/pkg/jwt"
	"billing-service/internal/pkg/logger"
	"billing-service/internal/repository/postgres"
	"billing-service/internal/repository/redisrepo"
	"billing-service/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	http   *http.Server
	pool   *pgxpool.Pool
	redis  *redis.Client
}

func NewServer(cfg config.AppConfig) (*Server, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	gin.SetMode(cfg.GinMode)
	return &Server{cfg: cfg, engine: gin.New(), logger: log}, nil
}

// Start wires dependencies and serves HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	logger := s.logger

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.Postgres)
	if err != nil {
		return err
	}
	s.pool = pool
	logger.Info("connected to PostgreSQL")

	// ----- Redis -----
	var deadLetters billingevent.DeadLetterRepository
	if s.cfg.DeadLetterEnabled {
		redisClient, err := db.NewRedisClient(s.cfg.Redis)
		if err != nil {
			return err
		}
		s.redis = redisClient
		deadLetters = redisrepo.NewDeadLetterRepository(redisClient, s.cfg.DeadLetterPrefix)
		logger.Info("connected to Redis", zap.Strings("addresses", s.cfg.Redis.Addresses))
	} else {
		logger.Warn("dead-letter store disabled; failed events are only logged")
	}

	if s.cfg.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhook deliveries will be rejected")
	}

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	accountRepo := postgres.NewAccountRepository(pool)
	processedEventRepo := postgres.NewProcessedEventRepository(pool)

	// ----- Billing provider -----
	stripeClient := stripe.NewClient(s.cfg.Stripe, logger)

	// ----- Services -----
	guard := reconcile.NewEventGuard(processedEventRepo, logger)
	resolver := reconcile.NewAccountResolver(accountRepo, stripeClient, reconcile.ProvisionConfig{
		TrialPeriod:      s.cfg.TrialPeriod,
		PlaceholderEmail: s.cfg.PlaceholderEmail,
	}, logger)
	dispatcher := reconcile.NewDispatcher(guard, resolver, accountRepo, stripeClient, deadLetters, logger)

	// ----- Handlers -----
	checks := map[string]healthHandler.CheckFunc{"postgres": dbWrapper.Ping}
	if s.redis != nil {
		redisClient := s.redis
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	handlers := &Handlers{
		HealthHandler:  healthHandler.NewHealthHandler(s.cfg.Version, checks, logger),
		WebhookHandler: webhookHandler.NewWebhookHandler(s.cfg.WebhookSecret, dispatcher, logger),
	}

	// ----- Admin API -----
	if s.cfg.JWT.Enabled() {
		verifier, err := jwt.LoadVerifier(s.cfg.JWT)
		if err != nil {
			return fmt.Errorf("failed to load JWT verifier: %w", err)
		}
		handlers.AuthMiddleware = middleware.NewAuthMiddleware(verifier)
		handlers.DeadLetterHandler = deadLetterHandler.NewDeadLetterHandler(dispatcher, logger)
	} else {
		logger.Info("JWT_PUBLIC_KEY_PATH not set, admin routes disabled")
	}

	// ----- Middlewares -----
	s.engine.Use(
		middleware.LoggingMiddleware(logger),
		middleware.RecoveryMiddleware(logger),
	)

	// ----- Router -----
	SetupRouter(s.engine, handlers)

	// ----- Start HTTP -----
	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains HTTP and closes the storage clients.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

func (s *Server) Logger() *zap.Logger {
	return s.logger
}
