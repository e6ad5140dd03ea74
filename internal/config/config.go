// Package config содержит логику чтения конфигурации сервиса кассовых смен.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress      = "localhost:8080"
	defaultRefreshInterval = 30 * time.Second
	defaultSalesLimit      = 200
	defaultTimezone        = "Local"
)

// Config содержит параметры конфигурации сервиса кассовых смен.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	BackofficeAddress string        `env:"BACKOFFICE_ADDRESS"`
	LocalStore        string        `env:"LOCAL_STORE"`
	RefreshInterval   time.Duration `env:"REFRESH_INTERVAL"`
	SalesLimit        int           `env:"SALES_LIMIT"`
	Timezone          string        `env:"TIMEZONE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами; файл .env, если есть, дополняет окружение.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BackofficeAddress, "b", "", "back office REST API address")
	flag.StringVar(&cfg.LocalStore, "l", "", "local flag store: file path or redis:// URL")
	flag.DurationVar(&cfg.RefreshInterval, "i", defaultRefreshInterval, "drawer state refresh interval")
	flag.IntVar(&cfg.SalesLimit, "s", defaultSalesLimit, "number of recent sales to load")
	flag.StringVar(&cfg.Timezone, "z", defaultTimezone, "IANA time zone of the shift clock")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.BackofficeAddress != "" {
		cfg.BackofficeAddress = envCfg.BackofficeAddress
	}
	if envCfg.LocalStore != "" {
		cfg.LocalStore = envCfg.LocalStore
	}
	if envCfg.RefreshInterval != 0 {
		cfg.RefreshInterval = envCfg.RefreshInterval
	}
	if envCfg.SalesLimit != 0 {
		cfg.SalesLimit = envCfg.SalesLimit
	}
	if envCfg.Timezone != "" {
		cfg.Timezone = envCfg.Timezone
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.RefreshInterval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", cfg.RefreshInterval)
	}
	if cfg.SalesLimit <= 0 {
		return nil, fmt.Errorf("sales limit must be positive, got %d", cfg.SalesLimit)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location возвращает часовой пояс, в котором считаются окна смен.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == defaultTimezone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
