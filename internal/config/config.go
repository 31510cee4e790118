package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	TariffFile string

	ReviewWebhookURL string
	ReviewAuthToken  string

	RelayWSURL string

	AdminToken string

	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3AccessKeySecret string
	PresignTTLSec     int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:    ":8080",
		S3Region:      "auto",
		PresignTTLSec: 900,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.TariffFile = strings.TrimSpace(os.Getenv("TARIFF_FILE"))

	cfg.ReviewWebhookURL = strings.TrimSpace(os.Getenv("REVIEW_WEBHOOK_URL"))
	cfg.ReviewAuthToken = strings.TrimSpace(os.Getenv("REVIEW_AUTH_TOKEN"))
	cfg.RelayWSURL = strings.TrimSpace(os.Getenv("RELAY_WS_URL"))
	cfg.AdminToken = strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))

	cfg.S3Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	if v := strings.TrimSpace(os.Getenv("S3_REGION")); v != "" {
		cfg.S3Region = v
	}
	cfg.S3Bucket = strings.TrimSpace(os.Getenv("S3_BUCKET"))
	cfg.S3AccessKeyID = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID"))
	cfg.S3AccessKeySecret = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_SECRET"))
	if v := strings.TrimSpace(os.Getenv("PRESIGN_TTL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PresignTTLSec = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.ReviewWebhookURL == "" {
		return nil, errors.New("REVIEW_WEBHOOK_URL is required")
	}
	if cfg.AdminToken == "" {
		return nil, errors.New("ADMIN_TOKEN is required")
	}

	return cfg, nil
}
