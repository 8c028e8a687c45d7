// Package config loads the service configuration.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	_ "time/tzdata" // zone database for slim images

	"volunteerreminder/internal/ledger"
	"volunteerreminder/internal/notify"
	"volunteerreminder/pkg/circuitbreaker"
	"volunteerreminder/pkg/config"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"

	ProviderSendGrid = "sendgrid"
	ProviderLog      = "log"
)

type Config struct {
	LogLevel string              `yaml:"log_level"`
	DB       config.DBConfig     `yaml:"db"`
	MQ       config.MQConfig     `yaml:"mq"`
	Redis    config.RedisConfig  `yaml:"redis"`
	Server   config.ServerConfig `yaml:"server"`

	Trigger struct {
		Secret string `yaml:"secret"`
	} `yaml:"trigger"`

	Reminder struct {
		Concurrency int           `yaml:"concurrency"`
		RunTimeout  time.Duration `yaml:"run_timeout"`
		Timezone    string        `yaml:"timezone"`
	} `yaml:"reminder"`

	Overdue struct {
		Window string   `yaml:"window"`
		Admins []string `yaml:"admins"`
	} `yaml:"overdue"`

	Ledger struct {
		Backend       string        `yaml:"backend"`
		RedisPrefix   string        `yaml:"redis_prefix"`
		OnceRetention time.Duration `yaml:"once_retention"`
	} `yaml:"ledger"`

	Sender struct {
		Provider string                `yaml:"provider"`
		SendGrid notify.SendGridConfig `yaml:"sendgrid"`
		Breaker  circuitbreaker.Config `yaml:"breaker"`
	} `yaml:"sender"`

	Scheduler struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
	} `yaml:"scheduler"`
}

// Load reads the layered config for CONFIG_ENV from CONFIG_DIR and exits on
// failure.
func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom loads base.yaml plus <env>.yaml from dir, then applies
// environment overrides (highest priority) and defaults.
func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideServerFromEnv(&cfg.Server)
	cfg.overrideFromEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) overrideFromEnv() {
	if s := config.FirstEnv("CRON_SECRET_KEY", "CRON_SECRET"); s != "" {
		c.Trigger.Secret = s
	}
	c.Reminder.Concurrency = config.EnvInt("REMINDER_SEND_CONCURRENCY", c.Reminder.Concurrency)
	c.Reminder.RunTimeout = config.EnvDuration("RUN_TIMEOUT", c.Reminder.RunTimeout)
	if tz := config.FirstEnv("TIMEZONE"); tz != "" {
		c.Reminder.Timezone = tz
	}
	if admins := config.FirstEnv("ADMIN_EMAILS"); admins != "" {
		c.Overdue.Admins = config.SplitList(admins)
	}
	if w := config.FirstEnv("OVERDUE_WINDOW"); w != "" {
		c.Overdue.Window = w
	}
	if b := config.FirstEnv("LEDGER_BACKEND"); b != "" {
		c.Ledger.Backend = b
	}
	if p := config.FirstEnv("SENDER_PROVIDER"); p != "" {
		c.Sender.Provider = p
	}
	if k := config.FirstEnv("SENDGRID_API_KEY"); k != "" {
		c.Sender.SendGrid.APIKey = k
	}
	if f := config.FirstEnv("SENDGRID_FROM_EMAIL"); f != "" {
		c.Sender.SendGrid.FromEmail = f
	}
	if n := config.FirstEnv("SENDGRID_FROM_NAME"); n != "" {
		c.Sender.SendGrid.FromName = n
	}
	c.Scheduler.Enabled = config.EnvBool("SCHEDULER_ENABLED", c.Scheduler.Enabled)
	if s := config.FirstEnv("SCHEDULER_SCHEDULE"); s != "" {
		c.Scheduler.Schedule = s
	}
	if l := config.FirstEnv("LOG_LEVEL"); l != "" {
		c.LogLevel = l
	}
}

func (c *Config) applyDefaults() {
	if c.Reminder.Concurrency < 1 {
		c.Reminder.Concurrency = 5
	}
	if c.Reminder.RunTimeout <= 0 {
		c.Reminder.RunTimeout = 5 * time.Minute
	}
	if c.Reminder.Timezone == "" {
		c.Reminder.Timezone = "UTC"
	}
	if c.Overdue.Window == "" {
		c.Overdue.Window = string(ledger.WindowOnce)
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = BackendPostgres
	}
	if c.Ledger.RedisPrefix == "" {
		c.Ledger.RedisPrefix = "reminder-ledger"
	}
	if c.Ledger.OnceRetention <= 0 {
		c.Ledger.OnceRetention = 90 * 24 * time.Hour
	}
	if c.Sender.Provider == "" {
		c.Sender.Provider = ProviderSendGrid
	}
	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = "0 8 * * *"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	admins := make([]string, 0, len(c.Overdue.Admins))
	for _, a := range c.Overdue.Admins {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			admins = append(admins, a)
		}
	}
	c.Overdue.Admins = admins
}

// Validate reports settings the service cannot start with. A missing
// trigger secret or admin list is not fatal here: the gate and the overdue
// job reject work on their own.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.OverdueWindow(); err != nil {
		errs = append(errs, err)
	}
	switch c.Ledger.Backend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	switch c.Sender.Provider {
	case ProviderSendGrid:
		if c.Sender.SendGrid.APIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for the sendgrid provider"))
		}
		if c.Sender.SendGrid.FromEmail == "" {
			errs = append(errs, errors.New("SENDGRID_FROM_EMAIL is required for the sendgrid provider"))
		}
	case ProviderLog:
	default:
		errs = append(errs, fmt.Errorf("unknown sender provider %q", c.Sender.Provider))
	}
	return errors.Join(errs...)
}

// Location is the time zone that defines calendar days.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Reminder.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Reminder.Timezone, err)
	}
	return loc, nil
}

func (c *Config) OverdueWindow() (ledger.WindowPolicy, error) {
	return ledger.ParseWindowPolicy(c.Overdue.Window)
}

// ServerAddr returns the listen address, accepting "8080" or ":8080".
func (c *Config) ServerAddr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}
