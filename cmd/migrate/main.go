package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/config"
	infraBQ "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/migrations"
	"github.com/dvloznov/finance-ledger/internal/store/sqlstore"
)

const (
	targetSQL      = "sql"
	targetBigQuery = "bigquery"
)

type options struct {
	target    string
	driver    string
	dsn       string
	projectID string
	datasetID string
	appliedBy string
	status    bool
}

func parseFlags(args []string, cfg config.Config) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.target, "target", targetSQL, "Migration target: sql or bigquery")
	fs.StringVar(&o.driver, "driver", cfg.DBDriver, "SQL driver: sqlite or postgres")
	fs.StringVar(&o.dsn, "dsn", cfg.DBDSN, "SQL data source name")
	fs.StringVar(&o.projectID, "project", cfg.BQProject, "GCP project ID (bigquery target)")
	fs.StringVar(&o.datasetID, "dataset", cfg.BQDataset, "BigQuery dataset ID")
	fs.StringVar(&o.appliedBy, "applied-by", "migrate-cli", "Name of the tool applying migrations")
	fs.BoolVar(&o.status, "status", false, "Only print applied migrations")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch o.target {
	case targetSQL:
	case targetBigQuery:
		if o.projectID == "" {
			return options{}, fmt.Errorf("-project flag (or %s) is required for the bigquery target", config.EnvBQProject)
		}
	default:
		return options{}, fmt.Errorf("unknown -target %q (want %s or %s)", o.target, targetSQL, targetBigQuery)
	}
	return o, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat)

	o, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	switch o.target {
	case targetSQL:
		err = migrateSQL(ctx, log, o)
	case targetBigQuery:
		err = migrateBigQuery(ctx, log, o)
	}
	if err != nil {
		log.Fatal().Err(err).Str("target", o.target).Msg("Migration failed")
	}
}

func migrateSQL(ctx context.Context, log zerolog.Logger, o options) error {
	s, err := sqlstore.Connect(ctx, o.driver, o.dsn)
	if err != nil {
		return err
	}
	defer s.Close()

	log.Info().Str("driver", o.driver).Msg("Connected to database")

	if !o.status {
		n, err := s.Migrate(ctx, o.appliedBy)
		if err != nil {
			return err
		}
		reportApplied(log, n)
	}

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	printApplied(applied)
	return nil
}

func migrateBigQuery(ctx context.Context, log zerolog.Logger, o options) error {
	client, err := bigquery.NewClient(ctx, o.projectID)
	if err != nil {
		return fmt.Errorf("creating BigQuery client: %w", err)
	}
	defer client.Close()

	log.Info().
		Str("project", o.projectID).
		Str("dataset", o.datasetID).
		Msg("Connected to BigQuery")

	m := infraBQ.NewMigrator(client, o.projectID, o.datasetID)
	if !o.status {
		n, err := m.Migrate(ctx, o.appliedBy)
		if err != nil {
			return err
		}
		reportApplied(log, n)
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	printApplied(applied)
	return nil
}

func reportApplied(log zerolog.Logger, n int) {
	if n == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
		return
	}
	log.Info().Int("applied", n).Msg("Successfully applied migrations")
}

func printApplied(applied []migrations.AppliedMigration) {
	fmt.Printf("\n=== Applied migrations (%d) ===\n", len(applied))
	for _, am := range applied {
		fmt.Printf("  %04d_%-30s %s  by %s\n", am.Version, am.Name, am.AppliedAt.Format(time.RFC3339), am.AppliedBy)
	}
}
