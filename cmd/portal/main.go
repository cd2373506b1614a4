package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cabinetmed/cabinet-portal/internal/api/router"
	"github.com/cabinetmed/cabinet-portal/internal/appointments"
	"github.com/cabinetmed/cabinet-portal/internal/audit"
	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/availability"
	"github.com/cabinetmed/cabinet-portal/internal/booking"
	"github.com/cabinetmed/cabinet-portal/internal/calendar"
	"github.com/cabinetmed/cabinet-portal/internal/chat"
	"github.com/cabinetmed/cabinet-portal/internal/config"
	"github.com/cabinetmed/cabinet-portal/internal/http/handlers"
	"github.com/cabinetmed/cabinet-portal/internal/notifications"
	"github.com/cabinetmed/cabinet-portal/internal/observability/metrics"
	"github.com/cabinetmed/cabinet-portal/internal/patients"
	"github.com/cabinetmed/cabinet-portal/internal/prescriptions"
	"github.com/cabinetmed/cabinet-portal/internal/records"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Error("failed to connect redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	pingCancel()

	portalMetrics := metrics.NewPortalMetrics(nil)

	api := upstream.New(cfg.BackendBaseURL, logger,
		upstream.WithTimeout(cfg.RequestTimeout),
		upstream.WithDownloadTimeout(cfg.DownloadTimeout),
		upstream.WithObserver(portalMetrics),
	)

	sessions := auth.NewSessionStore(rdb, cfg.SessionTTL)
	authSvc := auth.NewService(api, sessions, logger)

	apptsSvc := appointments.NewService(api, logger)
	patientsSvc := patients.NewService(api, logger)
	bookingSvc := booking.NewService(api, patientsSvc, logger)
	resolver := availability.NewResolver(api, logger)
	selections := availability.NewSelectionStore()
	view := calendar.NewView(apptsSvc, logger)
	notifySvc := notifications.NewService(api, logger)
	hub := notifications.NewHub(logger)

	var trail *audit.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		trail = audit.NewStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, audit trail disabled")
	}

	var source notifications.SourceFactory
	if cfg.NotifySource == "stream" {
		source = notifications.StreamSource(cfg.BackendWSURL, logger)
	} else {
		source = notifications.PollSource(notifySvc, cfg.NotifyPollInterval,
			cfg.NotifyBackoffAfter, cfg.NotifyBackoffInterval, logger)
	}
	source = countDeliveries(source, portalMetrics, cfg.NotifySource)

	secureCookies := cfg.Env == "production"

	handler := router.New(&router.Config{
		Logger:   logger,
		Sessions: authSvc,

		Auth: handlers.NewAuthHandler(authSvc, trail, secureCookies, logger),
		Appointments: handlers.NewAppointmentsHandler(authSvc, apptsSvc, bookingSvc,
			view, resolver, selections, trail, portalMetrics, logger),
		Patients:      handlers.NewPatientsHandler(authSvc, patientsSvc, logger),
		Prescriptions: handlers.NewPrescriptionsHandler(authSvc, prescriptions.NewService(api, logger), logger),
		Records:       handlers.NewRecordsHandler(authSvc, records.NewService(api, logger), trail, logger),
		Chat:          handlers.NewChatHandler(authSvc, chat.NewService(api, logger), logger),
		Notifications: handlers.NewNotificationsHandler(authSvc, notifySvc, hub, source, logger),
		Audit:         handlers.NewAuditHandler(trail, logger),

		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		LoginRate:          cfg.LoginRate,
		LoginBurst:         cfg.LoginBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("portal listening",
			"port", cfg.Port,
			"env", cfg.Env,
			"backend", cfg.BackendBaseURL,
			"notify_source", cfg.NotifySource,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func countDeliveries(next notifications.SourceFactory, m *metrics.PortalMetrics, label string) notifications.SourceFactory {
	return func(cred upstream.Credential, deliver func(notifications.Notification)) func(context.Context) {
		return next(cred, func(n notifications.Notification) {
			m.ObserveNotifyDelivery(label)
			deliver(n)
		})
	}
}
