package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/metricsgate/metricsgate/internal/config"
	"github.com/metricsgate/metricsgate/internal/migrations"
	"github.com/metricsgate/metricsgate/internal/store"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	importFile := flag.String("import", "", "optional JSON export to seed the metrics tables after migrating up")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("metricsgate-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "METRICSGATE_DATABASE_DSN is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "database ping error: %v\n", err)
		os.Exit(1)
	}

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
		if *importFile != "" {
			imported, err := store.ImportFile(ctx, db, *importFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "data import failed: %v\n", err)
				os.Exit(1)
			}
			if imported {
				fmt.Printf("imported seed data from %s\n", *importFile)
			} else {
				fmt.Println("seed data skipped: tables already contain rows")
			}
		}
	case "down":
		applied, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", applied)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}
