// apps/go-server/main.go
//
// Entry point for the wordlink backend.
// Loads .env configuration, sets the log level, opens the vocabulary
// repository (seeding it on first run when SEED_FILE is set), and
// starts the HTTP server.
//
// Environment variables:
//   PORT           listen port (default 5175)
//   LOG_LEVEL      zerolog level (default info)
//   DB_PATH        SQLite database path (default ./data/wordlink.db)
//   SEED_FILE      optional xlsx workbook imported into a fresh database
//   CLIENT_ORIGIN  CORS origin for the browser client

package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wordlink/wordlink/apps/go-server/internal/httpserver"
	"github.com/wordlink/wordlink/apps/go-server/internal/vocab"
)

func main() {
	_ = godotenv.Load()
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	repo := vocab.NewRepository(getEnv("DB_PATH", "./data/wordlink.db"))
	if err := repo.InitDatabase(context.Background(), os.Getenv("SEED_FILE")); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize vocabulary database")
	}

	srv := httpserver.New(repo)
	port := getEnv("PORT", "5175")
	log.Info().Str("port", port).Msg("starting go-server")
	if err := srv.Start(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
