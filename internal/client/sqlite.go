package client

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/normalize"
)

// SQLiteStore implements Store using modernc.org/sqlite. Name matching
// relies on the name_folded column, folded in Go, because SQLite's
// lower() only handles ASCII.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore on an existing handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS regions (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	name_folded TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (owner_id, name_folded)
);

CREATE TABLE IF NOT EXISTS groups (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS clients (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	name_folded TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'NEW',
	region_id   TEXT REFERENCES regions(id),
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS client_phones (
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	phone     TEXT NOT NULL,
	position  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (client_id, phone)
);

CREATE TABLE IF NOT EXISTS client_groups (
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	group_id  TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	added_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (client_id, group_id)
);

CREATE INDEX IF NOT EXISTS idx_clients_owner ON clients(owner_id);
CREATE INDEX IF NOT EXISTS idx_clients_name_folded ON clients(name_folded);
CREATE INDEX IF NOT EXISTS idx_clients_updated_at ON clients(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_client_phones_phone ON client_phones(phone);
CREATE INDEX IF NOT EXISTS idx_client_groups_group ON client_groups(group_id);
CREATE INDEX IF NOT EXISTS idx_regions_owner ON regions(owner_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "client: migrate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanClientRow(row scannable) (*model.Client, error) {
	c := &model.Client{}
	var regionID sql.NullString
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Status, &regionID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if regionID.Valid {
		c.RegionID = regionID.String
	}
	return c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *SQLiteStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Client, error) {
	var (
		scopeClauses []string
		args         []any
	)
	for _, scope := range q.Scopes {
		switch scope {
		case model.ScopeCurrentGroup:
			scopeClauses = append(scopeClauses,
				`EXISTS (SELECT 1 FROM client_groups cg WHERE cg.client_id = c.id AND cg.group_id = ?)`)
			args = append(args, q.CurrentGroupID)
		case model.ScopeOwnerGroups:
			scopeClauses = append(scopeClauses, `c.owner_id = ?`)
			args = append(args, q.OwnerID)
		case model.ScopeAllUsers:
			scopeClauses = append(scopeClauses, `1=1`)
		}
	}
	if len(scopeClauses) == 0 {
		return nil, nil
	}

	var criteriaClauses []string
	if q.Criteria == model.MatchByPhone || q.Criteria == model.MatchByPhoneAndName {
		criteriaClauses = append(criteriaClauses, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM client_phones cp WHERE cp.client_id = c.id AND cp.phone IN (%s))`,
			placeholders(len(q.Phones))))
		for _, p := range q.Phones {
			args = append(args, p)
		}
	}
	if q.Criteria == model.MatchByName || q.Criteria == model.MatchByPhoneAndName {
		criteriaClauses = append(criteriaClauses, `c.name_folded = ?`)
		args = append(args, q.NameFolded)
	}
	if len(criteriaClauses) == 0 {
		return nil, eris.Errorf("client: unknown match criteria %q", q.Criteria)
	}

	query := `SELECT ` + clientColumns + ` FROM clients c WHERE (` +
		strings.Join(scopeClauses, " OR ") + `) AND ` +
		strings.Join(criteriaClauses, " AND ") +
		` ORDER BY c.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "client: find candidates")
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClientRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "client: scan candidate")
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "client: iterate candidates")
	}

	for i := range clients {
		phones, err := s.loadPhones(ctx, clients[i].ID)
		if err != nil {
			return nil, err
		}
		clients[i].Phones = phones
	}
	return clients, nil
}

func (s *SQLiteStore) loadPhones(ctx context.Context, clientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone FROM client_phones WHERE client_id = ? ORDER BY position, phone`, clientID)
	if err != nil {
		return nil, eris.Wrapf(err, "client: load phones %s", clientID)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "client: scan phone")
		}
		phones = append(phones, p)
	}
	return phones, eris.Wrap(rows.Err(), "client: iterate phones")
}

func (s *SQLiteStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	c, err := scanClientRow(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients c WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "client: get %s", id)
	}

	if c.Phones, err = s.loadPhones(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM client_groups WHERE client_id = ? ORDER BY group_id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "client: load groups %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, eris.Wrap(err, "client: scan group")
		}
		c.GroupIDs = append(c.GroupIDs, g)
	}
	return c, eris.Wrap(rows.Err(), "client: iterate groups")
}

func (s *SQLiteStore) CreateClient(ctx context.Context, c *model.Client) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.ClientStatusNew
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "client: begin create")
	}
	defer tx.Rollback() //nolint:errcheck

	var regionID any
	if c.RegionID != "" {
		regionID = c.RegionID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO clients (id, owner_id, name, name_folded, status, region_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, normalize.FoldName(c.Name), string(c.Status), regionID, now, now,
	)
	if err != nil {
		return eris.Wrap(err, "client: insert client")
	}

	for i, phone := range c.Phones {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO client_phones (client_id, phone, position) VALUES (?, ?, ?)`,
			c.ID, phone, i,
		); err != nil {
			return eris.Wrap(err, "client: insert phone")
		}
	}

	for _, groupID := range c.GroupIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO client_groups (client_id, group_id) VALUES (?, ?)`,
			c.ID, groupID,
		); err != nil {
			return eris.Wrap(err, "client: insert group membership")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "client: commit create")
	}
	return nil
}

func (s *SQLiteStore) MergeClient(ctx context.Context, id string, m Merge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "client: begin merge")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE clients SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "client: touch %s", id)
	}
	if err := checkRowsAffected(res, "client", id); err != nil {
		return err
	}

	if m.SetName != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE clients SET name = ?, name_folded = ? WHERE id = ?`,
			m.SetName, normalize.FoldName(m.SetName), id,
		); err != nil {
			return eris.Wrapf(err, "client: merge name %s", id)
		}
	}

	if m.SetRegionID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE clients SET region_id = ? WHERE id = ?`, m.SetRegionID, id,
		); err != nil {
			return eris.Wrapf(err, "client: merge region %s", id)
		}
	}

	if m.SetStatus != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE clients SET status = ? WHERE id = ?`, string(m.SetStatus), id,
		); err != nil {
			return eris.Wrapf(err, "client: merge status %s", id)
		}
	}

	if len(m.AddPhones) > 0 {
		var pos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM client_phones WHERE client_id = ?`, id,
		).Scan(&pos); err != nil {
			return eris.Wrapf(err, "client: next phone position %s", id)
		}
		for i, phone := range m.AddPhones {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO client_phones (client_id, phone, position) VALUES (?, ?, ?)`,
				id, phone, pos+i,
			); err != nil {
				return eris.Wrapf(err, "client: merge phone %s", id)
			}
		}
	}

	switch m.GroupAction {
	case model.GroupActionAdd, model.GroupActionMove:
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO client_groups (client_id, group_id) VALUES (?, ?)`,
			id, m.GroupID,
		); err != nil {
			return eris.Wrapf(err, "client: merge group add %s", id)
		}
		if m.GroupAction == model.GroupActionMove {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM client_groups WHERE client_id = ? AND group_id <> ?`,
				id, m.GroupID,
			); err != nil {
				return eris.Wrapf(err, "client: merge group move %s", id)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "client: commit merge")
	}
	return nil
}

func (s *SQLiteStore) AddToGroup(ctx context.Context, clientID, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO client_groups (client_id, group_id) VALUES (?, ?)`,
		clientID, groupID,
	)
	return eris.Wrapf(err, "client: add to group %s", groupID)
}

func (s *SQLiteStore) EnsureRegion(ctx context.Context, ownerID, name string) (model.Region, bool, error) {
	folded := normalize.FoldName(name)

	region, err := s.getRegion(ctx, ownerID, folded)
	if err != nil {
		return model.Region{}, false, err
	}
	if region != nil {
		return *region, false, nil
	}

	created := model.Region{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO regions (id, owner_id, name, name_folded, created_at) VALUES (?, ?, ?, ?, ?)`,
		created.ID, created.OwnerID, created.Name, folded, created.CreatedAt,
	)
	if err != nil {
		return model.Region{}, false, eris.Wrapf(err, "client: insert region %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Region{}, false, eris.Wrap(err, "client: rows affected")
	}
	if n > 0 {
		return created, true, nil
	}

	region, err = s.getRegion(ctx, ownerID, folded)
	if err != nil {
		return model.Region{}, false, err
	}
	if region == nil {
		return model.Region{}, false, eris.Errorf("client: region %q conflicted but cannot be fetched", name)
	}
	return *region, false, nil
}

func (s *SQLiteStore) getRegion(ctx context.Context, ownerID, folded string) (*model.Region, error) {
	var r model.Region
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, created_at FROM regions WHERE owner_id = ? AND name_folded = ?`,
		ownerID, folded,
	).Scan(&r.ID, &r.OwnerID, &r.Name, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "client: get region")
	}
	return &r, nil
}

func (s *SQLiteStore) EnsureGroup(ctx context.Context, ownerID, name string) (model.Group, bool, error) {
	group, err := s.getGroup(ctx, ownerID, name)
	if err != nil {
		return model.Group{}, false, err
	}
	if group != nil {
		return *group, false, nil
	}

	created := model.Group{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO groups (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`,
		created.ID, created.OwnerID, created.Name, created.CreatedAt,
	)
	if err != nil {
		return model.Group{}, false, eris.Wrapf(err, "client: insert group %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Group{}, false, eris.Wrap(err, "client: rows affected")
	}
	if n > 0 {
		return created, true, nil
	}

	group, err = s.getGroup(ctx, ownerID, name)
	if err != nil {
		return model.Group{}, false, err
	}
	if group == nil {
		return model.Group{}, false, eris.Errorf("client: group %q conflicted but cannot be fetched", name)
	}
	return *group, false, nil
}

func (s *SQLiteStore) getGroup(ctx context.Context, ownerID, name string) (*model.Group, error) {
	var g model.Group
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, created_at FROM groups WHERE owner_id = ? AND name = ?`,
		ownerID, name,
	).Scan(&g.ID, &g.OwnerID, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "client: get group")
	}
	return &g, nil
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
