// Command migrate applies or rolls back the basket ledger schema migrations.
//
// Usage: migrate [up|down]
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/lib/pq"

	"BasketLedger/internal/observability"
	"BasketLedger/internal/persistence"
)

func main() {
	log := observability.NewLogger("migrate")

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	dsn := os.Getenv("BASKET_POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("BASKET_POSTGRES_DSN is required")
	}
	migrationsDir := os.Getenv("BASKET_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}

	migrator := persistence.NewMigrator(db, migrationsDir, log)

	switch direction {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	default:
		log.Fatal().Str("direction", direction).Msg("usage: migrate [up|down]")
	}
	if err != nil {
		log.Fatal().Err(err).Str("direction", direction).Msg("migration failed")
	}

	log.Info().Str("direction", direction).Msg("migrations complete")
}
