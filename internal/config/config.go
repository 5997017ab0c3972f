package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	NotifyBaseURL string

	DefaultTimeControl string
	TimeControlFile    string

	ClockTickInterval time.Duration
	ReconnectCeiling  time.Duration
	FinalLinger       time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8090",
		DefaultTimeControl: "blitz5",
		ClockTickInterval:  100 * time.Millisecond,
		ReconnectCeiling:   60 * time.Second,
		FinalLinger:        2 * time.Minute,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.NotifyBaseURL = strings.TrimSpace(os.Getenv("NOTIFY_BASE_URL"))

	if v := strings.TrimSpace(os.Getenv("DEFAULT_TIME_CONTROL")); v != "" {
		cfg.DefaultTimeControl = v
	}
	cfg.TimeControlFile = strings.TrimSpace(os.Getenv("TIME_CONTROL_FILE"))

	if v := strings.TrimSpace(os.Getenv("CLOCK_TICK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClockTickInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("RECONNECT_CEILING_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconnectCeiling = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("FINAL_LINGER_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FinalLinger = time.Duration(n) * time.Second
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
