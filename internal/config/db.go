package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DBConfig struct {
	Driver          string `yaml:"driver"` // postgres | sqlite
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Name            string `yaml:"name"`
	SSLMode         string `yaml:"ssl_mode"`
	TimeZone        string `yaml:"time_zone"`
	SQLitePath      string `yaml:"sqlite_path"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeTime int    `yaml:"conn_max_lifetime_min"` // минут
}

func defaultDBConfig() DBConfig {
	return DBConfig{
		Driver:          "postgres",
		Host:            "postgres",
		User:            "booking",
		Password:        "booking",
		Name:            "booking_db",
		SSLMode:         "disable",
		TimeZone:        "UTC",
		Port:            5432,
		SQLitePath:      "bookingbot.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifeTime: 30,
	}
}

// LoadDBConfig читает настройки БД только из окружения.
func LoadDBConfig() (*DBConfig, error) {
	cfg := defaultDBConfig()
	applyDBEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDBEnv(cfg *DBConfig) {
	cfg.Driver = getEnv("DB_DRIVER", cfg.Driver)
	cfg.Host = getEnv("DB_HOST", cfg.Host)
	cfg.User = getEnv("DB_USER", cfg.User)
	cfg.Password = getEnv("DB_PASSWORD", cfg.Password)
	cfg.Name = getEnv("DB_NAME", cfg.Name)
	cfg.SSLMode = getEnv("DB_SSLMODE", cfg.SSLMode)
	cfg.TimeZone = getEnv("DB_TIMEZONE", cfg.TimeZone)
	cfg.SQLitePath = getEnv("DB_SQLITE_PATH", cfg.SQLitePath)
	cfg.Port = getEnvInt("DB_PORT", cfg.Port)
	cfg.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.ConnMaxLifeTime = getEnvInt("DB_CONN_MAX_LIFETIME_MIN", cfg.ConnMaxLifeTime)
}

// Validate — минимальные проверки для каждого драйвера.
func (c *DBConfig) Validate() error {
	switch c.Driver {
	case "postgres":
		if c.Host == "" || c.User == "" || c.Name == "" {
			return fmt.Errorf("invalid DB config: host/user/name must not be empty")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("invalid DB config: sqlite path must not be empty")
		}
	default:
		return fmt.Errorf("invalid DB config: unknown driver %q", c.Driver)
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration понимает строки длительности Go ("30m", "2s").
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
