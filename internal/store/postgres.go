package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/db"
	"github.com/relaycrm/import-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore on an existing pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS import_runs (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	group_id    TEXT,
	source      TEXT NOT NULL,
	policy      JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	report      JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS import_policies (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	policy     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_id, name)
);

CREATE INDEX IF NOT EXISTS idx_import_runs_owner ON import_runs(owner_id);
CREATE INDEX IF NOT EXISTS idx_import_runs_status ON import_runs(status);
CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_import_policies_owner ON import_policies(owner_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.ImportRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusPending
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	policyJSON, err := json.Marshal(run.Policy)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal policy")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, owner_id, group_id, source, policy, status, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.OwnerID, nilIfEmpty(run.GroupID), run.Source, policyJSON, string(run.Status), run.StartedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET status = $1 WHERE id = $2`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.ImportReport, runErr string) error {
	var reportJSON []byte
	if report != nil {
		var err error
		if reportJSON, err = json.Marshal(report); err != nil {
			return eris.Wrap(err, "postgres: marshal report")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET status = $1, report = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), reportJSON, nilIfEmpty(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

const runColumns = `id, owner_id, group_id, source, policy, status, report, error, started_at, finished_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.ImportRun, error) {
	var (
		r          model.ImportRun
		groupID    *string
		policyJSON []byte
		reportNull *[]byte
		errNull    *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM import_runs WHERE id = $1`, runID,
	).Scan(&r.ID, &r.OwnerID, &groupID, &r.Source, &policyJSON, &r.Status, &reportNull, &errNull, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if err := decodeRun(&r, groupID, policyJSON, reportNull, errNull); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ImportRun, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var (
			r          model.ImportRun
			groupID    *string
			policyJSON []byte
			reportNull *[]byte
			errNull    *string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &groupID, &r.Source, &policyJSON, &r.Status, &reportNull, &errNull, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := decodeRun(&r, groupID, policyJSON, reportNull, errNull); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func decodeRun(r *model.ImportRun, groupID *string, policyJSON []byte, reportNull *[]byte, errNull *string) error {
	if groupID != nil {
		r.GroupID = *groupID
	}
	if err := json.Unmarshal(policyJSON, &r.Policy); err != nil {
		return eris.Wrap(err, "postgres: unmarshal policy")
	}
	if reportNull != nil {
		r.Report = &model.ImportReport{}
		if err := json.Unmarshal(*reportNull, r.Report); err != nil {
			return eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	if errNull != nil {
		r.Error = *errNull
	}
	return nil
}

func (s *PostgresStore) SavePolicy(ctx context.Context, cfg *model.ImportConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	policyJSON, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal policy")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_policies (id, owner_id, name, policy, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id, name) DO UPDATE SET policy = EXCLUDED.policy, updated_at = EXCLUDED.updated_at`,
		cfg.ID, cfg.OwnerID, cfg.Name, policyJSON, cfg.CreatedAt, cfg.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save policy %q", cfg.Name)
}

func (s *PostgresStore) GetPolicy(ctx context.Context, ownerID, name string) (*model.ImportConfig, error) {
	var (
		cfg        model.ImportConfig
		policyJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, policy, created_at, updated_at FROM import_policies WHERE owner_id = $1 AND name = $2`,
		ownerID, name,
	).Scan(&cfg.ID, &cfg.OwnerID, &cfg.Name, &policyJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get policy %q", name)
	}
	if err := decodePolicy(&cfg, policyJSON); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context, ownerID string) ([]model.ImportConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, policy, created_at, updated_at FROM import_policies WHERE owner_id = $1 ORDER BY name`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list policies")
	}
	defer rows.Close()

	var configs []model.ImportConfig
	for rows.Next() {
		var (
			cfg        model.ImportConfig
			policyJSON []byte
		)
		if err := rows.Scan(&cfg.ID, &cfg.OwnerID, &cfg.Name, &policyJSON, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan policy")
		}
		if err := decodePolicy(&cfg, policyJSON); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, eris.Wrap(rows.Err(), "postgres: list policies iterate")
}

// decodePolicy fills cfg from the stored document, keeping the column
// values authoritative for identity and timestamps.
func decodePolicy(cfg *model.ImportConfig, policyJSON []byte) error {
	id, ownerID, name := cfg.ID, cfg.OwnerID, cfg.Name
	createdAt, updatedAt := cfg.CreatedAt, cfg.UpdatedAt
	if err := json.Unmarshal(policyJSON, cfg); err != nil {
		return eris.Wrap(err, "postgres: unmarshal policy")
	}
	cfg.ID, cfg.OwnerID, cfg.Name = id, ownerID, name
	cfg.CreatedAt, cfg.UpdatedAt = createdAt, updatedAt
	return nil
}

func (s *PostgresStore) DeletePolicy(ctx context.Context, ownerID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM import_policies WHERE owner_id = $1 AND name = $2`,
		ownerID, name,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete policy %q", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("policy not found: %s", name)
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
