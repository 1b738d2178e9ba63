package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config — вся конфигурация сервиса. Порядок: значения по умолчанию,
// затем YAML-файл (если есть), затем переменные окружения.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	LogLevel string `yaml:"log_level"`
	LogDev   bool   `yaml:"log_dev"`

	JWTSecret   string        `yaml:"jwt_secret"`
	JWTTTL      time.Duration `yaml:"jwt_ttl"`
	CORSOrigins []string      `yaml:"cors_origins"`
	// Попыток входа в минуту с одного IP.
	LoginPerMinute int `yaml:"login_per_minute"`

	DB      DBConfig      `yaml:"db"`
	Booking BookingConfig `yaml:"booking"`
	Bot     BotConfig     `yaml:"bot"`
	Events  EventsConfig  `yaml:"events"`
}

type BookingConfig struct {
	// Записи с началом раньше now+LeadTime отклоняются.
	LeadTime             time.Duration `yaml:"lead_time"`
	HorizonDays          int           `yaml:"horizon_days"`
	RenewalThresholdDays int           `yaml:"renewal_threshold_days"`
	SelectableDays       int           `yaml:"selectable_days"`
	DefaultStepMinutes   int           `yaml:"default_step_minutes"`
}

type BotConfig struct {
	StartTimeout    time.Duration `yaml:"start_timeout"`
	ClaimBackoff    time.Duration `yaml:"claim_backoff"`
	InitConcurrency int           `yaml:"init_concurrency"`
	DialogTTL       time.Duration `yaml:"dialog_ttl"`
	// Лимит входящих действий на чат: в секунду и всплеск.
	ActionRate  float64 `yaml:"action_rate"`
	ActionBurst int     `yaml:"action_burst"`
	PollTimeout int     `yaml:"poll_timeout_sec"`
	// Пустой — официальный Bot API.
	APIEndpoint string `yaml:"api_endpoint"`
	// Секрет приёма webhook; пустой — маршрут выключен.
	WebhookSecret string `yaml:"webhook_secret"`
	// Публичный адрес сервера. Задан — боты принимают обновления через
	// webhook, а не long polling.
	WebhookURL string `yaml:"webhook_url"`
}

type EventsConfig struct {
	SendBuffer    int    `yaml:"send_buffer"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel"`
}

func Default() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":50051",
		LogLevel:       "info",
		JWTTTL:         24 * time.Hour,
		CORSOrigins:    []string{"*"},
		LoginPerMinute: 10,
		DB:             defaultDBConfig(),
		Booking: BookingConfig{
			LeadTime:             30 * time.Minute,
			HorizonDays:          365,
			RenewalThresholdDays: 30,
			SelectableDays:       14,
			DefaultStepMinutes:   30,
		},
		Bot: BotConfig{
			StartTimeout:    10 * time.Second,
			ClaimBackoff:    2 * time.Second,
			InitConcurrency: 4,
			DialogTTL:       30 * time.Minute,
			ActionRate:      2,
			ActionBurst:     5,
			PollTimeout:     30,
		},
		Events: EventsConfig{
			SendBuffer:   64,
			RedisChannel: "bookingbot:events",
		},
	}
}

// Load собирает конфигурацию. Отсутствие .env не ошибка; отсутствие YAML —
// ошибка, только если путь задан явно.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getEnv("GRPC_ADDR", cfg.GRPCAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogDev = getEnvBool("LOG_DEV", cfg.LogDev)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTL = getEnvDuration("JWT_TTL", cfg.JWTTTL)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.LoginPerMinute = getEnvInt("LOGIN_PER_MINUTE", cfg.LoginPerMinute)

	applyDBEnv(&cfg.DB)

	cfg.Booking.LeadTime = getEnvDuration("BOOKING_LEAD_TIME", cfg.Booking.LeadTime)
	cfg.Booking.HorizonDays = getEnvInt("SLOT_HORIZON_DAYS", cfg.Booking.HorizonDays)
	cfg.Booking.RenewalThresholdDays = getEnvInt("SLOT_RENEWAL_THRESHOLD_DAYS", cfg.Booking.RenewalThresholdDays)
	cfg.Booking.SelectableDays = getEnvInt("BOOKING_SELECTABLE_DAYS", cfg.Booking.SelectableDays)
	cfg.Booking.DefaultStepMinutes = getEnvInt("SLOT_STEP_MINUTES", cfg.Booking.DefaultStepMinutes)

	cfg.Bot.StartTimeout = getEnvDuration("BOT_START_TIMEOUT", cfg.Bot.StartTimeout)
	cfg.Bot.ClaimBackoff = getEnvDuration("BOT_CLAIM_BACKOFF", cfg.Bot.ClaimBackoff)
	cfg.Bot.InitConcurrency = getEnvInt("BOT_INIT_CONCURRENCY", cfg.Bot.InitConcurrency)
	cfg.Bot.DialogTTL = getEnvDuration("BOT_DIALOG_TTL", cfg.Bot.DialogTTL)
	cfg.Bot.ActionRate = getEnvFloat("BOT_ACTION_RATE", cfg.Bot.ActionRate)
	cfg.Bot.ActionBurst = getEnvInt("BOT_ACTION_BURST", cfg.Bot.ActionBurst)
	cfg.Bot.PollTimeout = getEnvInt("BOT_POLL_TIMEOUT_SEC", cfg.Bot.PollTimeout)
	cfg.Bot.APIEndpoint = getEnv("BOT_API_ENDPOINT", cfg.Bot.APIEndpoint)
	cfg.Bot.WebhookSecret = getEnv("BOT_WEBHOOK_SECRET", cfg.Bot.WebhookSecret)
	cfg.Bot.WebhookURL = getEnv("BOT_WEBHOOK_URL", cfg.Bot.WebhookURL)

	cfg.Events.SendBuffer = getEnvInt("EVENTS_SEND_BUFFER", cfg.Events.SendBuffer)
	cfg.Events.RedisAddr = getEnv("REDIS_ADDR", cfg.Events.RedisAddr)
	cfg.Events.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Events.RedisPassword)
	cfg.Events.RedisDB = getEnvInt("REDIS_DB", cfg.Events.RedisDB)
	cfg.Events.RedisChannel = getEnv("REDIS_CHANNEL", cfg.Events.RedisChannel)
}

func (c *Config) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return errors.New("invalid config: JWT_SECRET must be set")
	}
	if c.Booking.LeadTime < 0 {
		return errors.New("invalid config: booking lead time must not be negative")
	}
	if c.Booking.HorizonDays <= 0 {
		return errors.New("invalid config: slot horizon must be positive")
	}
	if c.Bot.StartTimeout <= 0 {
		return errors.New("invalid config: bot start timeout must be positive")
	}
	if c.Bot.WebhookURL != "" && c.Bot.WebhookSecret == "" {
		return errors.New("invalid config: BOT_WEBHOOK_URL requires BOT_WEBHOOK_SECRET")
	}
	if c.Events.SendBuffer <= 0 {
		c.Events.SendBuffer = 64
	}
	return nil
}
