package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/ChainSync/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one embedded SQL file holding a Down and an Up section.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations applies every pending migration on db.
func RunMigrations(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	return runMigrations(log, db, migrations, migrate.Up, 0)
}

// RollbackMigrations reverts at most steps migrations. Zero reverts all of them.
func RollbackMigrations(log *logger.Logger, db *sql.DB, migrations []Migration, steps int) error {
	return runMigrations(log, db, migrations, migrate.Down, steps)
}

func runMigrations(
	log *logger.Logger,
	db *sql.DB,
	migrations []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int,
) error {
	source := &migrate.MemoryMigrationSource{}
	ids := make([]string, 0, len(migrations))

	for _, m := range migrations {
		up, down, err := splitMigration(m)
		if err != nil {
			return err
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{up},
			Down: []string{down},
		})
		ids = append(ids, m.ID)
	}

	n, err := migrate.ExecMax(db, "sqlite3", source, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("failed to execute migrations [%s]: %w", strings.Join(ids, ", "), err)
	}

	log.Infof("applied %d migrations from [%s]", n, strings.Join(ids, ", "))
	return nil
}

// splitMigration separates the Down and Up sections. The Down section comes first.
func splitMigration(m Migration) (up, down string, err error) {
	parts := strings.Split(m.SQL, upMarker)
	if len(parts) != 2 { //nolint:mnd
		return "", "", fmt.Errorf("migration %s must contain exactly one '%s' separator", m.ID, upMarker)
	}

	down = parts[0]
	if idx := strings.Index(down, downMarker); idx != -1 {
		down = down[idx+len(downMarker):]
	}

	return strings.TrimSpace(parts[1]), strings.TrimSpace(down), nil
}
