package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/app"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/config"
	idb "github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/database"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/httpapi"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/logger"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/scheduler"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/sms"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/whatsapp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("FATAL: Could not load application configuration: %v", err)
	}

	logger.Init(cfg)
	log := logger.Get()
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"http_addr":   cfg.HTTPAddr,
	}).Info("Notification service starting")

	// Database connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Repositories
	settingsRepo := idb.NewPostgresSettingsRepository(db)
	recordRepo := idb.NewPostgresNotificationRepository(db)
	appointmentRepo := idb.NewPostgresAppointmentRepository(db)

	// Channel client adapter
	adapter, err := whatsapp.NewAdapter(cfg.DatabaseURL, log.WithField("component", "whatsapp"))
	if err != nil {
		log.Fatalf("FATAL: Could not initialize WhatsApp adapter: %v", err)
	}

	// Carrier provider (optional)
	var carrier notification.CarrierProvider
	if cfg.TwilioAccountSID != "" {
		carrier = sms.NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber,
			log.WithField("component", "twilio"))
		log.Info("Carrier provider configured")
	} else {
		log.Warn("Carrier provider not configured; SMS dispatch is disabled")
	}

	// Core services
	broadcaster := app.NewStatusBroadcaster(log.WithField("component", "broadcaster"))
	sessions := app.NewChannelManager(adapter, settingsRepo, broadcaster,
		log.WithField("component", "channel_manager"), cfg.SessionSettingsKey, cfg.PairingTimeout)
	dispatcher := app.NewDispatcher(sessions, adapter, carrier, recordRepo,
		log.WithField("component", "dispatcher"))
	reminders := app.NewReminderService(appointmentRepo, dispatcher,
		log.WithField("component", "reminders"))

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go sessions.Run(runCtx)
	sessions.AutoInitialize(runCtx)

	// Scheduled reminder run
	reminderScheduler := scheduler.NewReminderScheduler(reminders,
		log.WithField("component", "scheduler"), cfg.CronSpecDailyReminders)
	if err := reminderScheduler.Start(); err != nil {
		log.Fatalf("FATAL: Could not start reminder scheduler: %v", err)
	}

	// HTTP surface
	handlers := httpapi.NewHandlers(sessions, broadcaster, dispatcher, reminders, db,
		log.WithField("component", "httpapi"))
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(handlers),
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down application...")
	reminderScheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown was not clean")
	}
	cancelRun()
	log.Info("Application shut down gracefully")
}
