package main

// Maintenance for ingestion jobs:
//   go run ./cmd/ingestctl --job-store postgres purge-jobs --retention 168h
//   go run ./cmd/ingestctl stuck-jobs --after 30m

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"docstore-backend/internal/bootstrap"
	"docstore-backend/internal/jobs"
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
		Name:  "ingestctl",
		Usage: "Inspect and maintain ingestion jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "job-store",
				Usage:   "Job store: auto, memory, postgres, redis",
				EnvVars: []string{"JOB_STORE"},
				Value:   "auto",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL",
				EnvVars: []string{"REDIS_URL"},
			},
		},
		Before: func(c *cli.Context) error {
			return telemetry.Init(c.String("log-level"))
		},
		Commands: []*cli.Command{
			{
				Name:   "purge-jobs",
				Usage:  "Delete terminal jobs older than the retention window",
				Action: purgeJobsCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "retention",
						Usage: "Keep terminal jobs newer than this",
						Value: 7 * 24 * time.Hour,
					},
				},
			},
			{
				Name:   "stuck-jobs",
				Usage:  "List jobs processing for longer than a threshold",
				Action: stuckJobsCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "after",
						Usage: "Report jobs started before now minus this",
						Value: 30 * time.Minute,
					},
				},
			},
		},
	}
}

func purgeJobsCommand(c *cli.Context) error {
	retention := c.Duration("retention")
	if retention <= 0 {
		return cli.Exit("--retention must be positive", 1)
	}
	svc, closeFn, err := openJobs(c, retention, 0)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := svc.Purge(c.Context)
	if err != nil {
		return fmt.Errorf("purge jobs: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "purged %d jobs\n", n)
	return nil
}

func stuckJobsCommand(c *cli.Context) error {
	after := c.Duration("after")
	if after <= 0 {
		return cli.Exit("--after must be positive", 1)
	}
	svc, closeFn, err := openJobs(c, 0, after)
	if err != nil {
		return err
	}
	defer closeFn()

	stuck, err := svc.Stuck(c.Context)
	if err != nil {
		return fmt.Errorf("list stuck jobs: %w", err)
	}
	if len(stuck) == 0 {
		fmt.Fprintln(c.App.Writer, "no stuck jobs")
		return nil
	}
	now := time.Now().UTC()
	for _, job := range stuck {
		fmt.Fprintf(c.App.Writer, "%s\towner=%s\tfile=%s\tage=%s\n",
			job.ID, job.OwnerID, job.OriginalFilename, now.Sub(job.StartedAt).Round(time.Second))
	}
	return nil
}

func openJobs(c *cli.Context, retention, stuckAfter time.Duration) (*jobs.Service, func(), error) {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Config{
		Jobs: config.JobsConfig{
			StoreType:  strings.ToLower(strings.TrimSpace(c.String("job-store"))),
			RedisURL:   c.String("redis-url"),
			Retention:  retention,
			StuckAfter: stuckAfter,
		},
	}

	var sqlDB *sql.DB
	if url := strings.TrimSpace(c.String("database-url")); url != "" && cfg.Jobs.StoreType != "memory" && cfg.Jobs.StoreType != "redis" {
		conn, err := db.Connect(ctx, url, db.OptionsFromEnv(db.DefaultCLIOptions()))
		if err != nil {
			return nil, nil, err
		}
		sqlDB = conn
	}

	store, client, err := bootstrap.BuildJobStore(ctx, cfg, sqlDB)
	if err != nil {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}
	return jobs.NewService(store, retention, stuckAfter), closeFn, nil
}
