package bigquery

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/migrations"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded export-dataset migrations and records them
// in schema_migrations.
type Migrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

func NewMigrator(client *bigquery.Client, projectID, datasetID string) *Migrator {
	return &Migrator{client: client, projectID: projectID, datasetID: datasetID}
}

// ReadMigrations returns the embedded migrations with project and dataset
// placeholders filled in.
func ReadMigrations(projectID, datasetID string) ([]migrations.Migration, error) {
	return migrations.Read(migrationFS, "migrations", map[string]string{
		"PROJECT_ID": projectID,
		"DATASET_ID": datasetID,
	})
}

func (m *Migrator) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", m.projectID, m.datasetID, name)
}

// Migrate applies pending migrations in version order and returns how many
// were applied.
func (m *Migrator) Migrate(ctx context.Context, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	all, err := ReadMigrations(m.projectID, m.datasetID)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}
	pending, err := migrations.Pending(all, applied)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	for _, mig := range pending {
		if err := m.run(ctx, mig.SQL, nil); err != nil {
			return 0, fmt.Errorf("Migrate: executing %s: %w", mig.Filename, err)
		}
		err := m.run(ctx, fmt.Sprintf(`
			INSERT INTO %s (version, name, applied_at, checksum, applied_by)
			VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
		`, m.table("schema_migrations")), []bigquery.QueryParameter{
			{Name: "version", Value: mig.Version},
			{Name: "name", Value: mig.Name},
			{Name: "checksum", Value: mig.Checksum},
			{Name: "applied_by", Value: appliedBy},
		})
		if err != nil {
			return 0, fmt.Errorf("Migrate: recording %s: %w", mig.Filename, err)
		}

		log.Info().
			Int("version", mig.Version).
			Str("name", mig.Name).
			Str("dataset", m.datasetID).
			Msg("Applied migration")
	}
	return len(pending), nil
}

func (m *Migrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	return m.run(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.table("schema_migrations")), nil)
}

// AppliedMigrations lists recorded migrations in version order. A missing
// schema_migrations table means nothing has been applied.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]migrations.AppliedMigration, error) {
	q := m.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.table("schema_migrations")))

	it, err := q.Read(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("AppliedMigrations: query read: %w", err)
	}

	var applied []migrations.AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("AppliedMigrations: iter next: %w", err)
		}

		applied = append(applied, migrations.AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *Migrator) run(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := m.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
