package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/config"
)

// Config holds the worker-only settings; everything else comes from the
// container's config.Config.
type Config struct {
	HealthAddr    string
	ConsumerGroup string
}

// loadConfig reads worker settings and refuses a store backend the worker
// cannot share with the API process
func loadConfig(appCfg *config.Config) *Config {
	cfg := &Config{
		HealthAddr:    getEnv("WORKER_HEALTH_ADDR", ":9999"),
		ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "terminal-automation"),
	}

	if appCfg.Terminal.StoreBackend != config.StoreBackendRedis {
		log.Fatal().
			Str("backend", appCfg.Terminal.StoreBackend).
			Msg("[Config] A standalone worker needs STORE_BACKEND=redis")
	}

	log.Info().
		Str("redis", appCfg.Redis.Host).
		Str("events", appCfg.Events.Driver).
		Str("health", cfg.HealthAddr).
		Msg("[Config] Worker configuration loaded")

	return cfg
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
