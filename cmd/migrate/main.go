package main

// Apply or inspect the database schema:
//   go run ./cmd/migrate up
//   go run ./cmd/migrate version

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"docstore-backend/internal/shared/config"
	"docstore-backend/internal/shared/storage/db"
	"docstore-backend/internal/shared/telemetry"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "migrate",
		Usage: "Manage the documents and ingestion_jobs schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: func(c *cli.Context) error {
			return telemetry.Init(c.String("log-level"))
		},
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: upCommand,
			},
			{
				Name:   "version",
				Usage:  "Print the applied schema version",
				Action: versionCommand,
			},
		},
	}
}

func upCommand(c *cli.Context) error {
	sqlDB, err := connect(c)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(c.Context, sqlDB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "migrations applied")
	return nil
}

func versionCommand(c *cli.Context) error {
	sqlDB, err := connect(c)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	version, err := db.SchemaVersion(c.Context, sqlDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "schema version %d\n", version)
	return nil
}

func connect(c *cli.Context) (*sql.DB, error) {
	url := strings.TrimSpace(c.String("database-url"))
	if url == "" {
		// Picks up DATABASE_URL from local .env files.
		url = strings.TrimSpace(config.Load().DatabaseURL)
	}
	if url == "" {
		return nil, cli.Exit("--database-url or DATABASE_URL is required", 1)
	}
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return db.Connect(ctx, url, db.OptionsFromEnv(db.DefaultCLIOptions()))
}
