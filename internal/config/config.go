package config

import (
	"os"
	"strings"
)

// Config carries the service-level settings read from the environment.
// Database settings live in pkg/db.
type Config struct {
	ListenAddr    string
	PublicBaseURL string

	// External payment provider.
	ProviderBaseURL string
	ProviderAPIKey  string
	WebhookSecret   string

	// Storefront session tokens (optional email claim on coupon checks).
	SessionJWTSecret string

	// Notification dispatch. Empty brokers disables Kafka publishing.
	KafkaBrokers []string
	KafkaTopic   string

	// Coupon metadata cache. Empty addr disables Redis.
	RedisAddr     string
	RedisPassword string
}

func Load() Config {
	cfg := Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		PublicBaseURL:    getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		ProviderBaseURL:  getEnv("PROVIDER_BASE_URL", ""),
		ProviderAPIKey:   getEnv("PROVIDER_API_KEY", ""),
		WebhookSecret:    getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		SessionJWTSecret: getEnv("SESSION_JWT_SECRET", ""),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "order-notifications"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
