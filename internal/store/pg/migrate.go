package pg

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every pending migration under dir to dsn. Grounded on
// the teacher's cmd/migrate.go newMigrator/migrateUpCmd, trimmed to the
// one operation cmd/gateway's migrate command needs (up); down/goto/force
// are migrate's own CLI surface (not duplicated here since SPEC_FULL's
// migrate command is a thin wrapper, not a migration-admin tool).
func Migrate(dir, dsn string) (version uint, err error) {
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	v, _, verErr := m.Version()
	if verErr != nil && verErr != migrate.ErrNilVersion {
		return 0, verErr
	}
	return v, nil
}
