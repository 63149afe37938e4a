package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/config"
	"terminal-payment-backend/migrations"
	"terminal-payment-backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("[MIGRATE] Failed to load config")
	}
	logger.Init(cfg.App.Environment, cfg.App.LogLevel)

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("[MIGRATE] Failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Str("host", cfg.Database.Host).Msg("[MIGRATE] Database unreachable")
	}

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Strs("applied", applied).Msg("[MIGRATE] Failed")
	}

	if len(applied) == 0 {
		log.Info().Msg("[MIGRATE] Schema is up to date")
		return
	}
	log.Info().Strs("applied", applied).Msg("[MIGRATE] ✓ Done")
}
