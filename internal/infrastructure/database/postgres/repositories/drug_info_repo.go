// Package repositories holds the PostgreSQL implementations of domain
// repository interfaces.
package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// minLooseMatchLen mirrors the in-memory repository: shorter names only match
// exactly.
const minLooseMatchLen = 4

const drugInfoColumns = `name, generic_name, indications, mechanism, side_effects, precautions, source`

// sqlExecutor is satisfied by *sql.DB and *sql.Tx.
type sqlExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

type postgresDrugInfoRepo struct {
	conn     *postgres.Connection
	log      logging.Logger
	executor sqlExecutor
}

// NewPostgresDrugInfoRepo returns a DrugInfoRepository over the drug_info
// table.
func NewPostgresDrugInfoRepo(conn *postgres.Connection, log logging.Logger) medication.DrugInfoRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &postgresDrugInfoRepo{
		conn:     conn,
		log:      log.Named("drug_info_repo"),
		executor: conn.DB(),
	}
}

func (r *postgresDrugInfoRepo) FindByName(ctx context.Context, name string) (*medication.DrugInfo, error) {
	key := medication.NormalizeDrugName(name)
	if key == "" {
		return nil, errors.New(errors.ErrCodeDrugInfoNotFound, "drug name is empty")
	}

	exact := `SELECT ` + drugInfoColumns + ` FROM drug_info
		WHERE normalized_name = $1 OR lower(generic_name) = $1
		ORDER BY normalized_name LIMIT 1`
	info, err := scanDrugInfo(r.executor.QueryRowContext(ctx, exact, key))
	if err == nil {
		return info, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query drug info")
	}

	if len(key) >= minLooseMatchLen {
		loose := `SELECT ` + drugInfoColumns + ` FROM drug_info
			WHERE position(normalized_name in $1) > 0 OR position($1 in normalized_name) > 0
			ORDER BY normalized_name LIMIT 1`
		info, err = scanDrugInfo(r.executor.QueryRowContext(ctx, loose, key))
		if err == nil {
			return info, nil
		}
		if !stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query drug info")
		}
	}

	return nil, errors.New(errors.ErrCodeDrugInfoNotFound, fmt.Sprintf("no drug information for %q", name))
}

func (r *postgresDrugInfoRepo) Save(ctx context.Context, info *medication.DrugInfo) error {
	if info == nil || strings.TrimSpace(info.Name) == "" {
		return errors.InvalidParam("drug info name is required")
	}
	query := `
		INSERT INTO drug_info (
			normalized_name, name, generic_name, indications, mechanism, side_effects, precautions, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (normalized_name) DO UPDATE SET
			name = EXCLUDED.name,
			generic_name = EXCLUDED.generic_name,
			indications = EXCLUDED.indications,
			mechanism = EXCLUDED.mechanism,
			side_effects = EXCLUDED.side_effects,
			precautions = EXCLUDED.precautions,
			source = EXCLUDED.source,
			updated_at = now()
	`
	_, err := r.executor.ExecContext(ctx, query,
		medication.NormalizeDrugName(info.Name), info.Name, info.GenericName,
		pq.Array(nonNil(info.Indications)), info.Mechanism,
		pq.Array(nonNil(info.SideEffects)), pq.Array(nonNil(info.Precautions)), info.Source,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save drug info")
	}
	r.log.Debug("drug info saved", logging.String("name", info.Name))
	return nil
}

func (r *postgresDrugInfoRepo) List(ctx context.Context) ([]medication.DrugInfo, error) {
	rows, err := r.executor.QueryContext(ctx, `SELECT `+drugInfoColumns+` FROM drug_info ORDER BY normalized_name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list drug info")
	}
	defer rows.Close()

	var out []medication.DrugInfo
	for rows.Next() {
		info, err := scanDrugInfo(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan drug info")
		}
		out = append(out, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate drug info")
	}
	return out, nil
}

func scanDrugInfo(s rowScanner) (*medication.DrugInfo, error) {
	var d medication.DrugInfo
	err := s.Scan(
		&d.Name, &d.GenericName, pq.Array(&d.Indications), &d.Mechanism,
		pq.Array(&d.SideEffects), pq.Array(&d.Precautions), &d.Source,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ medication.DrugInfoRepository = (*postgresDrugInfoRepo)(nil)
