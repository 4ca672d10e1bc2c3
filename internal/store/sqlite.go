package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLiteStore on an existing handle.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS import_runs (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	group_id    TEXT,
	source      TEXT NOT NULL,
	policy      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	report      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS import_policies (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	policy     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (owner_id, name)
);

CREATE INDEX IF NOT EXISTS idx_import_runs_owner ON import_runs(owner_id);
CREATE INDEX IF NOT EXISTS idx_import_runs_status ON import_runs(status);
CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_import_policies_owner ON import_policies(owner_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.ImportRun) error {
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
		return eris.Wrap(err, "sqlite: marshal policy")
	}

	var groupID any
	if run.GroupID != "" {
		groupID = run.GroupID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_runs (id, owner_id, group_id, source, policy, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OwnerID, groupID, run.Source, string(policyJSON), string(run.Status), run.StartedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ? WHERE id = ?`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.ImportReport, runErr string) error {
	var reportJSON any
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal report")
		}
		reportJSON = string(b)
	}
	var errVal any
	if runErr != "" {
		errVal = runErr
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, report = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), reportJSON, errVal, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.ImportRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM import_runs WHERE id = ?`, runID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ImportRun, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.ImportRun, error) {
	var (
		r          model.ImportRun
		groupID    sql.NullString
		policyJSON string
		reportJSON sql.NullString
		errVal     sql.NullString
	)
	err := row.Scan(&r.ID, &r.OwnerID, &groupID, &r.Source, &policyJSON, &r.Status, &reportJSON, &errVal, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}

	if groupID.Valid {
		r.GroupID = groupID.String
	}
	if err := json.Unmarshal([]byte(policyJSON), &r.Policy); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal policy")
	}
	if reportJSON.Valid {
		r.Report = &model.ImportReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	if errVal.Valid {
		r.Error = errVal.String
	}
	return &r, nil
}

func (s *SQLiteStore) SavePolicy(ctx context.Context, cfg *model.ImportConfig) error {
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
		return eris.Wrap(err, "sqlite: marshal policy")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_policies (id, owner_id, name, policy, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, name) DO UPDATE SET policy = excluded.policy, updated_at = excluded.updated_at`,
		cfg.ID, cfg.OwnerID, cfg.Name, string(policyJSON), cfg.CreatedAt, cfg.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save policy %q", cfg.Name)
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, ownerID, name string) (*model.ImportConfig, error) {
	var (
		cfg        model.ImportConfig
		policyJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, policy, created_at, updated_at FROM import_policies WHERE owner_id = ? AND name = ?`,
		ownerID, name,
	).Scan(&cfg.ID, &cfg.OwnerID, &cfg.Name, &policyJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get policy %q", name)
	}
	if err := decodePolicyDoc(&cfg, policyJSON); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) ListPolicies(ctx context.Context, ownerID string) ([]model.ImportConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, policy, created_at, updated_at FROM import_policies WHERE owner_id = ? ORDER BY name`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list policies")
	}
	defer rows.Close()

	var configs []model.ImportConfig
	for rows.Next() {
		var (
			cfg        model.ImportConfig
			policyJSON string
		)
		if err := rows.Scan(&cfg.ID, &cfg.OwnerID, &cfg.Name, &policyJSON, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan policy")
		}
		if err := decodePolicyDoc(&cfg, policyJSON); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, eris.Wrap(rows.Err(), "sqlite: list policies iterate")
}

func decodePolicyDoc(cfg *model.ImportConfig, policyJSON string) error {
	id, ownerID, name := cfg.ID, cfg.OwnerID, cfg.Name
	createdAt, updatedAt := cfg.CreatedAt, cfg.UpdatedAt
	if err := json.Unmarshal([]byte(policyJSON), cfg); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal policy")
	}
	cfg.ID, cfg.OwnerID, cfg.Name = id, ownerID, name
	cfg.CreatedAt, cfg.UpdatedAt = createdAt, updatedAt
	return nil
}

func (s *SQLiteStore) DeletePolicy(ctx context.Context, ownerID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM import_policies WHERE owner_id = ? AND name = ?`,
		ownerID, name,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete policy %q", name)
	}
	return checkRowsAffected(res, "policy", name)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
