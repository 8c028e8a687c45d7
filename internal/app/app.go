// Package app wires the components shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"volunteerreminder/internal/config"
	"volunteerreminder/internal/ledger"
	"volunteerreminder/internal/notify"
	"volunteerreminder/internal/repository"
	"volunteerreminder/internal/resolver"
	"volunteerreminder/internal/service"
	"volunteerreminder/pkg/circuitbreaker"
	"volunteerreminder/pkg/db"
	"volunteerreminder/pkg/mq"
	"volunteerreminder/pkg/redis"
)

// ErrPublisherDisconnected is reported by Ping when run events are enabled
// but the MQ connection has dropped.
var ErrPublisherDisconnected = errors.New("mq publisher disconnected")

// App owns every long-lived client. Close releases them.
type App struct {
	DB        *pgxpool.Pool
	Redis     *goredis.Client
	Publisher *mq.Publisher
	Repo      *repository.VolunteerRepository
	Ledger    ledger.Ledger
	Runner    *service.Runner

	logger *zap.Logger
}

// New connects to the record store and the ledger backend, runs the ledger
// capability check and builds both jobs. withEvents enables the MQ
// publisher when an MQ URL is configured.
func New(ctx context.Context, cfg *config.Config, withEvents bool, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrConfiguration, err)
	}
	loc, _ := cfg.Location()
	window, _ := cfg.OverdueWindow()

	a := &App{logger: logger}

	pool, err := db.NewConnection(ctx, cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	a.DB = pool
	a.Repo = repository.NewVolunteerRepository(pool, logger)

	l, err := a.newLedger(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := l.Check(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %w", service.ErrConfiguration, err)
	}
	a.Ledger = l
	logger.Info("Ledger ready", zap.String("backend", cfg.Ledger.Backend))

	sender, err := newSender(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %w", service.ErrConfiguration, err)
	}

	var events service.EventPublisher
	if withEvents && cfg.MQ.URL != "" {
		pub, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			// Events are an audit side channel; runs proceed without them.
			logger.Warn("MQ publisher unavailable, run events disabled", zap.Error(err))
		} else {
			a.Publisher = pub
			events = pub
		}
	}

	opts := service.Options{
		Concurrency: cfg.Reminder.Concurrency,
		Location:    loc,
		RunTimeout:  cfg.Reminder.RunTimeout,
	}
	res := resolver.New(a.Repo, loc, nil, logger)

	reminders := service.NewReminderJob(res, l, sender, a.Repo, events, opts, logger)
	overdue := service.NewOverdueAlertJob(res, l, sender, events, cfg.Overdue.Admins, window, opts, logger)
	a.Runner = service.NewRunner(reminders, overdue)
	return a, nil
}

func (a *App) newLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case config.BackendRedis:
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ledger.ErrNotConfigured, err)
		}
		a.Redis = rdb
		return ledger.NewRedis(rdb, cfg.Ledger.RedisPrefix, cfg.Ledger.OnceRetention, a.logger), nil
	case config.BackendMemory:
		a.logger.Warn("Using in-memory ledger; dedup does not survive restarts")
		return ledger.NewMemory(), nil
	default:
		return ledger.NewPostgres(a.DB, a.logger), nil
	}
}

func newSender(cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	var base notify.Sender
	switch cfg.Sender.Provider {
	case config.ProviderLog:
		base = notify.NewLogSender(logger)
	default:
		sg, err := notify.NewSendGridSender(cfg.Sender.SendGrid, logger)
		if err != nil {
			return nil, err
		}
		base = sg
	}
	return notify.NewBreakerSender(base, circuitbreaker.NewCircuitBreaker(cfg.Sender.Breaker), logger), nil
}

// Ping backs the readiness probe. The record store must answer and, when run
// events are enabled, the MQ connection must still be open.
func (a *App) Ping(ctx context.Context) error {
	if a.Publisher != nil && !a.Publisher.IsConnected() {
		return ErrPublisherDisconnected
	}
	return a.Repo.Ping(ctx)
}

func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
