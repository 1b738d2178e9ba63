package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Leganyst/bookingbot/internal/config"
)

// NewGormDB открывает postgres или sqlite по cfg.Driver.
func NewGormDB(cfg *config.DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(cfg), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// в базе всё в UTC, в пояс организации переводим при выводе
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}

	switch {
	case cfg.Driver == "sqlite":
		// один писатель: допуск записей сериализуется на соединении
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifeTime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeTime) * time.Minute)
	}
	return db, nil
}

func dialector(cfg *config.DBConfig) gorm.Dialector {
	if cfg.Driver == "sqlite" {
		// в sqlite внешние ключи по умолчанию выключены
		return sqlite.Open(cfg.SQLitePath + "?_foreign_keys=on&_busy_timeout=5000")
	}
	return postgres.Open(fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode, cfg.TimeZone,
	))
}
