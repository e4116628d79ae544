package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	SMS       SMSConfig
	AI        AIConfig
	AMQP      AMQPConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Address    string
	CronSecret string
	LogLevel   string
}

type DatabaseConfig struct {
	PostgresURL  string
	MaxOpenConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	LockTTL  time.Duration
}

type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	MorningCron string
}

type DispatchConfig struct {
	Location   *time.Location
	StuckAfter time.Duration
	ContentMax int
}

type SMSConfig struct {
	Provider string
	SenderID string

	WigalAPIKey   string
	WigalUsername string
	WigalURL      string

	ArkeselAPIKey string
	ArkeselURL    string

	WebhookURL string
}

type AIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Prompt    string
	CharLimit int
}

type AMQPConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}

type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

const (
	ProviderWigal   = "wigal"
	ProviderArkesel = "arkesel"
	ProviderWebhook = "webhook"
)

func LoadAll() (*Config, error) {
	var errs []error

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	postgresURL, err := requireEnv("POSTGRES_URL")
	collect(err)
	cronSecret, err := requireEnv("CRON_SECRET")
	collect(err)

	maxOpen, err := getEnvInt("DB_MAX_OPEN_CONNS", 10)
	collect(err)
	autoMigrate, err := getEnvBool("DB_AUTO_MIGRATE", false)
	collect(err)

	schedEnabled, err := getEnvBool("SCHED_ENABLED", false)
	collect(err)
	intervalSec, err := getEnvInt("SCHED_INTERVAL_SECONDS", 120)
	collect(err)
	batchSize, err := getEnvInt("SCHED_BATCH_SIZE", 50)
	collect(err)

	stuckAfter, err := getEnvDuration("DISPATCH_STUCK_AFTER", 10*time.Minute)
	collect(err)
	contentMax, err := getEnvInt("CONTENT_MAX", 480)
	collect(err)

	loc, err := time.LoadLocation(getEnv("APP_TIMEZONE", "Africa/Accra"))
	if err != nil {
		collect(fmt.Errorf("invalid APP_TIMEZONE: %w", err))
	}

	charLimit, err := getEnvInt("AI_CHAR_LIMIT", 160)
	collect(err)

	redisCfg, err := loadRedisConfig()
	collect(err)

	smsCfg, err := loadSMSConfig()
	collect(err)

	tracingCfg, err := loadTracingConfig()
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address:    getEnv("SERVER_ADDRESS", ":8080"),
			CronSecret: cronSecret,
			LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
		Database: DatabaseConfig{
			PostgresURL:  postgresURL,
			MaxOpenConns: maxOpen,
			AutoMigrate:  autoMigrate,
		},
		Redis: redisCfg,
		Scheduler: SchedulerConfig{
			Enabled:     schedEnabled,
			Interval:    time.Duration(intervalSec) * time.Second,
			BatchSize:   batchSize,
			MorningCron: getEnv("CRON_MORNING", ""),
		},
		Dispatch: DispatchConfig{
			Location:   loc,
			StuckAfter: stuckAfter,
			ContentMax: contentMax,
		},
		SMS: smsCfg,
		AI: AIConfig{
			APIKey:    os.Getenv("OPENAI_API_KEY"),
			BaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Prompt:    os.Getenv("AI_REPHRASE_PROMPT"),
			CharLimit: charLimit,
		},
		AMQP:    loadAMQPConfig(),
		Tracing: tracingCfg,
	}

	if len(errs) == 0 {
		collect(validate(cfg))
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}
	lockTTL, err := getEnvDuration("REDIS_LOCK_TTL", 15*time.Minute)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
		LockTTL:  lockTTL,
	}, joinErrors(errs)
}

func loadSMSConfig() (SMSConfig, error) {
	cfg := SMSConfig{
		Provider:      strings.ToLower(getEnv("SMS_PROVIDER", ProviderWigal)),
		SenderID:      getEnv("SMS_SENDER_ID", "CHURCH"),
		WigalAPIKey:   os.Getenv("WIGAL_API_KEY"),
		WigalUsername: os.Getenv("WIGAL_USERNAME"),
		WigalURL:      getEnv("WIGAL_URL", "https://frogapi.wigal.com.gh/api/v3/sms/send"),
		ArkeselAPIKey: os.Getenv("ARKESEL_API_KEY"),
		ArkeselURL:    getEnv("ARKESEL_URL", "https://sms.arkesel.com/api/v2"),
		WebhookURL:    os.Getenv("WEBHOOK_URL"),
	}

	var errs []error
	switch cfg.Provider {
	case ProviderWigal:
		if cfg.WigalAPIKey == "" {
			errs = append(errs, errors.New("missing required env var: WIGAL_API_KEY"))
		}
		if cfg.WigalUsername == "" {
			errs = append(errs, errors.New("missing required env var: WIGAL_USERNAME"))
		}
	case ProviderArkesel:
		if cfg.ArkeselAPIKey == "" {
			errs = append(errs, errors.New("missing required env var: ARKESEL_API_KEY"))
		}
	case ProviderWebhook:
		if cfg.WebhookURL == "" {
			errs = append(errs, errors.New("missing required env var: WEBHOOK_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("SMS_PROVIDER must be one of wigal, arkesel, webhook: %q", cfg.Provider))
	}
	return cfg, joinErrors(errs)
}

func loadAMQPConfig() AMQPConfig {
	url := os.Getenv("AMQP_URL")
	return AMQPConfig{
		Enabled:  url != "",
		URL:      url,
		Exchange: getEnv("AMQP_EXCHANGE", "congregation.dispatch"),
	}
}

func loadTracingConfig() (TracingConfig, error) {
	enabled, err := getEnvBool("OTEL_ENABLED", false)
	if err != nil {
		return TracingConfig{}, err
	}
	rate, err := getEnvFloat("OTEL_SAMPLE_RATE", 1.0)
	if err != nil {
		return TracingConfig{}, err
	}
	return TracingConfig{
		Enabled:      enabled,
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "congregation-messaging"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:   rate,
	}, nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Dispatch.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Dispatch.StuckAfter <= 0 {
		errs = append(errs, errors.New("DISPATCH_STUCK_AFTER must be > 0"))
	}
	if cfg.AI.CharLimit <= 0 {
		errs = append(errs, errors.New("AI_CHAR_LIMIT must be > 0"))
	}
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", cfg.Server.LogLevel))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATE must be within [0,1]"))
	}
	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float for env %s: %q", key, v)
	}
	return f, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for env %s: %q", key, v)
	}
	return d, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
