package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ticketry/dispute-api/internal/email"
	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/internal/repository/postgres"
	disputeService "github.com/ticketry/dispute-api/internal/service/dispute"
	notificationService "github.com/ticketry/dispute-api/internal/service/notification"
	"github.com/ticketry/dispute-api/internal/ticket"
	"github.com/ticketry/dispute-api/internal/user"
	"github.com/ticketry/dispute-api/internal/worker"
	"github.com/ticketry/dispute-api/pkg/logger"
	messagingRedis "github.com/ticketry/dispute-api/pkg/messaging/redis"
	"github.com/ticketry/dispute-api/pkg/metrics"
)

type workerConfig struct {
	DatabaseURL      string        `envconfig:"DATABASE_URL" required:"true"`
	RedisURL         string        `envconfig:"REDIS_URL" required:"true"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"15m"`
	MetricsPort      int           `envconfig:"METRICS_PORT" default:"9091"`
	SMTPHost         string        `envconfig:"SMTP_HOST"`
	SMTPPort         int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername     string        `envconfig:"SMTP_USERNAME"`
	SMTPPassword     string        `envconfig:"SMTP_PASSWORD"`
	SMTPFrom         string        `envconfig:"SMTP_FROM"`
	TicketServiceURL string        `envconfig:"TICKET_SERVICE_URL" required:"true"`
	UserServiceURL   string        `envconfig:"USER_SERVICE_URL" required:"true"`
}

func main() {
	var cfg workerConfig
	if err := envconfig.Process("dispute_worker", &cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("dispute_worker")

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := messagingRedis.NewRedisBroker(messagingRedis.Config{URL: cfg.RedisURL}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	base := postgres.NewBaseRepository(db)
	disputeRepo := postgres.NewDisputeRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)

	emailSvc := email.NewSMTPService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	resolver := user.NewClient(user.Config{BaseURL: cfg.UserServiceURL})

	senders := []notificationService.ChannelSender{
		notificationService.NewEmailSender(emailSvc, resolver),
		notificationService.NewInAppSender(broker),
		notificationService.NewTransportSender(model.ChannelSMS, notificationService.UnconfiguredTransport{Name: "sms"}),
		notificationService.NewTransportSender(model.ChannelPush, notificationService.UnconfiguredTransport{Name: "push"}),
	}
	notificationSvc := notificationService.NewService(notificationRepo, senders, appLogger, appMetrics)

	ticketSvc := ticket.NewClient(ticket.Config{BaseURL: cfg.TicketServiceURL})
	disputeSvc := disputeService.NewService(disputeRepo, notificationSvc, ticketSvc, appLogger, appMetrics)

	sweeper := worker.NewReminderSweeper(disputeSvc, worker.ReminderSweeperConfig{
		Interval: cfg.SweepInterval,
	}, appLogger, appMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start metrics server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("metrics server forced to shutdown")
	}

	log.Info().Msg("worker exited")
}
