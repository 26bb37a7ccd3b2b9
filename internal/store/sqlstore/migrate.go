package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/migrations"
	"github.com/dvloznov/finance-ledger/internal/store"
)

//go:embed migrations
var migrationFS embed.FS

const createSchemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL,
    checksum   TEXT,
    applied_by TEXT
)`

// Migrate applies the embedded migrations for the store's driver that are
// not yet recorded in schema_migrations. It returns how many were applied.
func (s *Store) Migrate(ctx context.Context, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if _, err := s.exec(ctx, createSchemaMigrations); err != nil {
		return 0, domain.Infrastructure("Migrate: creating schema_migrations", err)
	}

	all, err := migrations.Read(migrationFS, "migrations/"+s.driver, nil)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	pending, err := migrations.Pending(all, applied)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	for _, m := range pending {
		err := s.RunInTx(ctx, func(tx store.Store) error {
			view := tx.(*Store)
			if _, err := view.q.ExecContext(ctx, m.SQL); err != nil {
				return domain.Infrastructure(fmt.Sprintf("Migrate: executing %s", m.Filename), err)
			}
			_, err := view.exec(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at, checksum, applied_by) VALUES (?, ?, ?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC(), m.Checksum, appliedBy)
			if err != nil {
				return domain.Infrastructure(fmt.Sprintf("Migrate: recording %s", m.Filename), err)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		log.Info().
			Int("version", m.Version).
			Str("name", m.Name).
			Str("driver", s.driver).
			Msg("Applied migration")
	}

	return len(pending), nil
}

// AppliedMigrations lists the rows of schema_migrations ordered by version.
func (s *Store) AppliedMigrations(ctx context.Context) ([]migrations.AppliedMigration, error) {
	rows, err := s.query(ctx,
		`SELECT version, name, applied_at, checksum, applied_by FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, domain.Infrastructure("AppliedMigrations: querying", err)
	}
	defer rows.Close()

	var applied []migrations.AppliedMigration
	for rows.Next() {
		var (
			am        migrations.AppliedMigration
			checksum  sql.NullString
			appliedBy sql.NullString
		)
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &checksum, &appliedBy); err != nil {
			return nil, domain.Infrastructure("AppliedMigrations: scanning", err)
		}
		am.Checksum = checksum.String
		am.AppliedBy = appliedBy.String
		applied = append(applied, am)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure("AppliedMigrations: iterating", err)
	}
	return applied, nil
}
