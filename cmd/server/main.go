package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"volunteerreminder/internal/app"
	"volunteerreminder/internal/config"
	"volunteerreminder/internal/gate"
	"volunteerreminder/internal/httpserver"
	"volunteerreminder/internal/mqhandler"
	"volunteerreminder/internal/scheduler"
	"volunteerreminder/pkg/logger"
	"volunteerreminder/pkg/mq"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting reminder service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.String("sender", cfg.Sender.Provider),
		zap.Int("concurrency", cfg.Reminder.Concurrency),
		zap.String("timezone", cfg.Reminder.Timezone),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, true, log)
	if err != nil {
		log.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer a.Close()

	// Trigger gate
	g := gate.New(cfg.Trigger.Secret)
	if !g.Configured() {
		log.Warn("CRON_SECRET_KEY is not set; every trigger request will be rejected")
	}
	if len(cfg.Overdue.Admins) == 0 {
		log.Warn("No admin recipients configured; overdue alert runs will fail")
	}

	// In-process scheduler
	sched, err := scheduler.New(cfg.Scheduler.Schedule, mustLocation(cfg, log), func(ctx context.Context) {
		if _, err := a.Runner.RunDaily(ctx); err != nil {
			log.Error("Scheduled daily run failed", zap.Error(err))
		}
	}, log)
	if err != nil {
		log.Fatal("Invalid scheduler configuration", zap.Error(err))
	}
	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	// MQ trigger consumer
	var consumer *mq.Consumer
	if cfg.MQ.URL != "" && cfg.MQ.TriggerQueue != "" {
		log.Info("Initializing MQ consumer for reminder.trigger...",
			zap.String("queue", cfg.MQ.TriggerQueue),
			zap.String("routing_key", mq.RoutingKeyTrigger),
		)
		consumer, err = mq.NewConsumer(cfg.MQ.URL, cfg.MQ.TriggerQueue, mq.RoutingKeyTrigger, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.Error(err))
		}
		consumer.SetHandler(mqhandler.NewTriggerHandler(a.Runner, log).Handle)

		go func() {
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Error("Trigger consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP Server
	handler := httpserver.NewHandler(a.Runner, sched, log)
	router := httpserver.NewRouter(handler, g, a, log)
	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("reminder service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down reminder service gracefully...")

	sched.Stop()
	stop()
	if consumer != nil {
		consumer.Close()
	}

	// Runs triggered over HTTP finish within the run timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Reminder.RunTimeout+10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// A scheduled run still holds the pools closed by a.Close.
	sched.Wait()

	log.Info("reminder service shutdown complete")
}

func mustLocation(cfg *config.Config, log *zap.Logger) *time.Location {
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("Invalid timezone", zap.Error(err))
	}
	return loc
}
