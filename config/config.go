// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// MinAuthDelay はAUTH_DELAYに設定できる最小値。
const MinAuthDelay = time.Second

// Version はサービスとCLIのバージョン。
const Version = "1.0.0"

// Config はアプリケーション設定を表す。起動時に一度だけ生成し、以降は変更しない。
type Config struct {
	Port               string
	PasswordHash       string
	DoveadmBin         string
	DoasBin            string
	CommandTimeout     time.Duration
	AuthDelay          time.Duration
	EnableHashEndpoint bool
	LogLevel           string
	AuditDatabaseURL   string
	GoogleCloudProject string
	OtelEnabled        bool
	OtelEndpoint       string
	OtelInsecure       bool
	OtelServiceName    string
	OtelSamplingRate   float64
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		PasswordHash:       os.Getenv("PASSWORD_HASH"),
		DoveadmBin:         getEnv("DOVEADM_BIN", "/usr/bin/doveadm"),
		DoasBin:            getEnv("DOAS_BIN", "/usr/bin/doas"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		AuditDatabaseURL:   os.Getenv("AUDIT_DATABASE_URL"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		OtelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:    getEnv("OTEL_SERVICE_NAME", "dovecot-keyhandler"),
	}

	var err error
	if cfg.CommandTimeout, err = time.ParseDuration(getEnv("COMMAND_TIMEOUT", "30s")); err != nil {
		errs = append(errs, fmt.Errorf("COMMAND_TIMEOUT: %w", err))
	}
	if cfg.AuthDelay, err = time.ParseDuration(getEnv("AUTH_DELAY", "1s")); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_DELAY: %w", err))
	}
	if cfg.EnableHashEndpoint, err = strconv.ParseBool(getEnv("ENABLE_HASH_ENDPOINT", "false")); err != nil {
		errs = append(errs, fmt.Errorf("ENABLE_HASH_ENDPOINT: %w", err))
	}
	if cfg.OtelEnabled, err = strconv.ParseBool(getEnv("OTEL_ENABLED", "false")); err != nil {
		errs = append(errs, fmt.Errorf("OTEL_ENABLED: %w", err))
	}
	if cfg.OtelInsecure, err = strconv.ParseBool(getEnv("OTEL_INSECURE", "false")); err != nil {
		errs = append(errs, fmt.Errorf("OTEL_INSECURE: %w", err))
	}
	if cfg.OtelSamplingRate, err = strconv.ParseFloat(getEnv("OTEL_SAMPLING_RATE", "1.0"), 64); err != nil {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLING_RATE: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate はサーバー起動に必要な設定が揃っているか確認する。
func (c *Config) Validate() error {
	var errs []error
	if c.PasswordHash == "" {
		errs = append(errs, errors.New("PASSWORD_HASH is not set"))
	}
	if c.DoveadmBin == "" {
		errs = append(errs, errors.New("DOVEADM_BIN is not set"))
	}
	if c.DoasBin == "" {
		errs = append(errs, errors.New("DOAS_BIN is not set"))
	}
	if c.AuthDelay < MinAuthDelay {
		errs = append(errs, fmt.Errorf("AUTH_DELAY must be at least %s, got %s", MinAuthDelay, c.AuthDelay))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("COMMAND_TIMEOUT must be positive, got %s", c.CommandTimeout))
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLING_RATE must be within [0, 1], got %v", c.OtelSamplingRate))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
