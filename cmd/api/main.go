package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ticketry/dispute-api/internal/config"
	"github.com/ticketry/dispute-api/internal/email"
	"github.com/ticketry/dispute-api/internal/handler"
	disputeHandler "github.com/ticketry/dispute-api/internal/handler/dispute"
	notificationHandler "github.com/ticketry/dispute-api/internal/handler/notification"
	"github.com/ticketry/dispute-api/internal/middleware"
	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/internal/repository/postgres"
	"github.com/ticketry/dispute-api/internal/router"
	disputeService "github.com/ticketry/dispute-api/internal/service/dispute"
	notificationService "github.com/ticketry/dispute-api/internal/service/notification"
	"github.com/ticketry/dispute-api/internal/ticket"
	"github.com/ticketry/dispute-api/internal/user"
	"github.com/ticketry/dispute-api/pkg/logger"
	messagingRedis "github.com/ticketry/dispute-api/pkg/messaging/redis"
	"github.com/ticketry/dispute-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("dispute_api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	disputeRepo := postgres.NewDisputeRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)

	broker, err := messagingRedis.NewRedisBroker(messagingRedis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	emailSvc := email.NewSMTPService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	resolver := user.NewClient(user.Config{
		BaseURL:  cfg.UserService.BaseURL,
		Timeout:  time.Duration(cfg.UserService.TimeoutSeconds) * time.Second,
		CacheTTL: time.Duration(cfg.UserService.CacheTTLSeconds) * time.Second,
	})

	senders := []notificationService.ChannelSender{
		notificationService.NewEmailSender(emailSvc, resolver),
		notificationService.NewInAppSender(broker),
		notificationService.NewTransportSender(model.ChannelSMS, notificationService.UnconfiguredTransport{Name: "sms"}),
		notificationService.NewTransportSender(model.ChannelPush, notificationService.UnconfiguredTransport{Name: "push"}),
	}
	if cfg.Webhook.URL != "" {
		senders = append(senders, notificationService.NewWebhookSender(
			cfg.Webhook.URL,
			time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second,
		))
	}

	notificationSvc := notificationService.NewService(notificationRepo, senders, appLogger, appMetrics)

	ticketSvc := ticket.NewClient(ticket.Config{
		BaseURL:  cfg.TicketService.BaseURL,
		Timeout:  time.Duration(cfg.TicketService.TimeoutSeconds) * time.Second,
		CacheTTL: time.Duration(cfg.TicketService.CacheTTLSeconds) * time.Second,
	})

	disputeSvc := disputeService.NewService(disputeRepo, notificationSvc, ticketSvc, appLogger, appMetrics)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.Secret)

	h := handler.NewHandler(db)
	disputeH := disputeHandler.NewHandler(disputeSvc)
	notificationH := notificationHandler.NewHandler(notificationSvc)

	r := router.NewRouter(authMiddleware, disputeH, notificationH, h, router.Config{
		RateLimit:     rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:     cfg.RateLimit.Burst,
		CORSConfig:    middleware.DefaultCORSConfig(),
		MetricsPrefix: "dispute_api_http",
	})
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.TimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}
