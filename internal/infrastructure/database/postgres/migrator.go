package postgres

import (
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the drug_info schema. Migrations come from the embedded
// set unless a directory override is given.
type Migrator struct {
	m      *migrate.Migrate
	logger logging.Logger
}

// NewMigrator binds golang-migrate to db. An empty dir selects the embedded
// migrations; a "file://" prefix on dir is optional.
func NewMigrator(db *sql.DB, dir string, log logging.Logger) (*Migrator, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migration driver")
	}

	var m *migrate.Migrate
	if dir != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+strings.TrimPrefix(dir, "file://"), "postgres", driver)
	} else {
		src, srcErr := iofs.New(migrationFS, "migrations")
		if srcErr != nil {
			return nil, errors.Wrap(srcErr, errors.ErrCodeInternal, "failed to open embedded migrations")
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migrate instance")
	}
	return &Migrator{m: m, logger: log.Named("migrator")}, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		version, _, _ := mg.m.Version()
		return errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to run migrations (current version: %d)", version)
	}
	version, dirty, err := mg.Status()
	if err != nil {
		mg.logger.Warn("failed to read migration version", logging.Err(err))
	}
	mg.logger.Info("database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// Down rolls back steps migrations.
func (mg *Migrator) Down(steps int) error {
	if err := validateSteps(steps); err != nil {
		return err
	}
	if err := mg.m.Steps(-steps); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			return errors.New(errors.ErrCodeDatabaseError, "no migrations to roll back")
		}
		return errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to roll back %d step(s)", steps)
	}
	return nil
}

// Status returns the applied version and dirty flag; 0 when nothing has run.
func (mg *Migrator) Status() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get migration version")
	}
	return version, dirty, nil
}

// Force sets the recorded version without running migrations. Recovery from
// a dirty state only.
func (mg *Migrator) Force(version int) error {
	if err := mg.m.Force(version); err != nil {
		return errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to force version %d", version)
	}
	return nil
}

// Close releases the source and database handles held by migrate. The
// underlying *sql.DB is closed too, so callers pass a dedicated pool.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

func validateSteps(steps int) error {
	if steps <= 0 {
		return errors.NewValidationError("steps", fmt.Sprintf("must be greater than 0, got %d", steps))
	}
	return nil
}

// EmbeddedMigrations lists the bundled migration file names.
func EmbeddedMigrations() ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
