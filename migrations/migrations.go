package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	// ensure "pgx" driver is loaded
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/permafrostdb/permafrost/gologger"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed *.sql
	migrationFiles embed.FS

	ErrMigrationsNotRun = fmt.Errorf("not all migrations applied")

	logger = gologger.NewLogger()
)

func migrationSet() (migrate.MigrationSet, migrate.EmbedFileSystemMigrationSource) {
	return migrate.MigrationSet{TableName: "migrations"}, migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       ".",
	}
}

// RunMigrations applies every pending migration and returns how many ran.
func RunMigrations(crdbDsn string) (int, error) {
	db, err := sql.Open("pgx", crdbDsn)
	if err != nil {
		return 0, fmt.Errorf("error in sql.Open: %w", err)
	}
	defer db.Close()

	ms, src := migrationSet()
	n, err := ms.Exec(db, "postgres", src, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("error in Exec: %w", err)
	}
	if n > 0 {
		logger.Info().Int("applied", n).Msg("applied migrations")
	}
	return n, nil
}

// CheckMigrations fails when pending migrations exist, so a node never serves
// against a schema it does not understand.
func CheckMigrations(crdbDsn string) error {
	db, err := sql.Open("pgx", crdbDsn)
	if err != nil {
		return fmt.Errorf("error in sql.Open: %w", err)
	}
	defer db.Close()

	ms, src := migrationSet()
	pending, _, err := ms.PlanMigration(db, "postgres", src, migrate.Up, 0)
	if err != nil {
		return fmt.Errorf("error in PlanMigration: %w", err)
	}
	if len(pending) > 0 {
		for _, mig := range pending {
			logger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
		}
		return ErrMigrationsNotRun
	}
	return nil
}
