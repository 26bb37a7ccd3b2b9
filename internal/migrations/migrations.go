// Package migrations discovers versioned SQL migration files named
// NNNN_name.sql and orders them for the runners in sqlstore and
// infra/bigquery.
package migrations

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// FilenamePattern matches migration files: 0001_name.sql
var FilenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Read loads all migration files from dir within fsys, sorted by version.
// Placeholders of the form {{KEY}} are replaced using replacements. The
// checksum is computed over the original content, so the same logical
// migration has the same checksum regardless of where it is applied.
func Read(fsys fs.FS, dir string, replacements map[string]string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := FilenamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("invalid migration version in %s: %w", entry.Name(), err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", entry.Name(), err)
		}

		sql := string(content)
		for k, v := range replacements {
			sql = strings.ReplaceAll(sql, "{{"+k+"}}", v)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Pending returns the migrations whose version is not in applied. A recorded
// migration whose checksum no longer matches the file is an error.
func Pending(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range all {
		am, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s was modified after being applied (checksum %s, recorded %s)",
				m.Version, m.Name, m.Checksum, am.Checksum)
		}
	}
	return pending, nil
}
