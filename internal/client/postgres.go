package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/db"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/normalize"
)

// PostgresStore implements Store using pgx. The pool is shared with the
// run store and owned by the caller.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS regions (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	name_folded TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_id, name_folded)
);

CREATE TABLE IF NOT EXISTS groups (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS clients (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	name_folded TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'NEW',
	region_id   TEXT REFERENCES regions(id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
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
	added_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, group_id)
);

CREATE INDEX IF NOT EXISTS idx_clients_owner ON clients(owner_id);
CREATE INDEX IF NOT EXISTS idx_clients_name_folded ON clients(name_folded);
CREATE INDEX IF NOT EXISTS idx_clients_updated_at ON clients(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_client_phones_phone ON client_phones(phone);
CREATE INDEX IF NOT EXISTS idx_client_groups_group ON client_groups(group_id);
CREATE INDEX IF NOT EXISTS idx_regions_owner ON regions(owner_id);
`

// Migrate creates the client schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "client: migrate")
}

// clientColumns is the standard column list for client queries.
const clientColumns = `c.id, c.owner_id, c.name, c.status, c.region_id, c.created_at, c.updated_at`

func scanClient(row pgx.Row) (*model.Client, error) {
	c := &model.Client{}
	var regionID *string
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Status, &regionID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if regionID != nil {
		c.RegionID = *regionID
	}
	return c, nil
}

// FindCandidates returns clients matching the query, most recently
// updated first. The scope set was validated upstream; an empty or
// none-only set yields no candidates without touching the database.
func (s *PostgresStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Client, error) {
	var (
		scopeClauses []string
		args         []any
		argIdx       = 1
	)
	for _, scope := range q.Scopes {
		switch scope {
		case model.ScopeCurrentGroup:
			scopeClauses = append(scopeClauses,
				fmt.Sprintf(`EXISTS (SELECT 1 FROM client_groups cg WHERE cg.client_id = c.id AND cg.group_id = $%d)`, argIdx))
			args = append(args, q.CurrentGroupID)
			argIdx++
		case model.ScopeOwnerGroups:
			scopeClauses = append(scopeClauses, fmt.Sprintf(`c.owner_id = $%d`, argIdx))
			args = append(args, q.OwnerID)
			argIdx++
		case model.ScopeAllUsers:
			scopeClauses = append(scopeClauses, `TRUE`)
		}
	}
	if len(scopeClauses) == 0 {
		return nil, nil
	}

	var criteriaClauses []string
	if q.Criteria == model.MatchByPhone || q.Criteria == model.MatchByPhoneAndName {
		criteriaClauses = append(criteriaClauses,
			fmt.Sprintf(`EXISTS (SELECT 1 FROM client_phones cp WHERE cp.client_id = c.id AND cp.phone = ANY($%d))`, argIdx))
		args = append(args, q.Phones)
		argIdx++
	}
	if q.Criteria == model.MatchByName || q.Criteria == model.MatchByPhoneAndName {
		criteriaClauses = append(criteriaClauses, fmt.Sprintf(`c.name_folded = $%d`, argIdx))
		args = append(args, q.NameFolded)
		argIdx++
	}
	if len(criteriaClauses) == 0 {
		return nil, eris.Errorf("client: unknown match criteria %q", q.Criteria)
	}

	query := `SELECT ` + clientColumns + ` FROM clients c WHERE (` +
		strings.Join(scopeClauses, " OR ") + `) AND ` +
		strings.Join(criteriaClauses, " AND ") +
		` ORDER BY c.updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "client: find candidates")
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
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

func (s *PostgresStore) loadPhones(ctx context.Context, clientID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT phone FROM client_phones WHERE client_id = $1 ORDER BY position, phone`, clientID)
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

// GetClient fetches one client with phones and group memberships.
func (s *PostgresStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	c, err := scanClient(s.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients c WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "client: get %s", id)
	}

	if c.Phones, err = s.loadPhones(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT group_id FROM client_groups WHERE client_id = $1 ORDER BY group_id`, id)
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

// CreateClient inserts a client, its phones, and its group memberships
// in one transaction.
func (s *PostgresStore) CreateClient(ctx context.Context, c *model.Client) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.ClientStatusNew
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "client: begin create")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO clients (id, owner_id, name, name_folded, status, region_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OwnerID, c.Name, normalize.FoldName(c.Name), string(c.Status), nilIfEmpty(c.RegionID), now, now,
	)
	if err != nil {
		return eris.Wrap(err, "client: insert client")
	}

	for i, phone := range c.Phones {
		if _, err := tx.Exec(ctx, `
			INSERT INTO client_phones (client_id, phone, position) VALUES ($1, $2, $3)
			ON CONFLICT (client_id, phone) DO NOTHING`,
			c.ID, phone, i,
		); err != nil {
			return eris.Wrap(err, "client: insert phone")
		}
	}

	for _, groupID := range c.GroupIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO client_groups (client_id, group_id) VALUES ($1, $2)
			ON CONFLICT (client_id, group_id) DO NOTHING`,
			c.ID, groupID,
		); err != nil {
			return eris.Wrap(err, "client: insert group membership")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "client: commit create")
	}
	return nil
}

// MergeClient applies a merge in one transaction. The client's updated_at
// is touched even for an empty merge, which keeps the most-recently
// updated tie-break pointed at clients the latest import saw.
func (s *PostgresStore) MergeClient(ctx context.Context, id string, m Merge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "client: begin merge")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE clients SET updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "client: touch %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("client not found: %s", id)
	}

	if m.SetName != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE clients SET name = $2, name_folded = $3 WHERE id = $1`,
			id, m.SetName, normalize.FoldName(m.SetName),
		); err != nil {
			return eris.Wrapf(err, "client: merge name %s", id)
		}
	}

	if m.SetRegionID != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE clients SET region_id = $2 WHERE id = $1`, id, m.SetRegionID,
		); err != nil {
			return eris.Wrapf(err, "client: merge region %s", id)
		}
	}

	if m.SetStatus != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE clients SET status = $2 WHERE id = $1`, id, string(m.SetStatus),
		); err != nil {
			return eris.Wrapf(err, "client: merge status %s", id)
		}
	}

	if len(m.AddPhones) > 0 {
		var pos int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM client_phones WHERE client_id = $1`, id,
		).Scan(&pos); err != nil {
			return eris.Wrapf(err, "client: next phone position %s", id)
		}
		for i, phone := range m.AddPhones {
			if _, err := tx.Exec(ctx, `
				INSERT INTO client_phones (client_id, phone, position) VALUES ($1, $2, $3)
				ON CONFLICT (client_id, phone) DO NOTHING`,
				id, phone, pos+i,
			); err != nil {
				return eris.Wrapf(err, "client: merge phone %s", id)
			}
		}
	}

	switch m.GroupAction {
	case model.GroupActionAdd, model.GroupActionMove:
		if _, err := tx.Exec(ctx, `
			INSERT INTO client_groups (client_id, group_id) VALUES ($1, $2)
			ON CONFLICT (client_id, group_id) DO NOTHING`,
			id, m.GroupID,
		); err != nil {
			return eris.Wrapf(err, "client: merge group add %s", id)
		}
		if m.GroupAction == model.GroupActionMove {
			if _, err := tx.Exec(ctx,
				`DELETE FROM client_groups WHERE client_id = $1 AND group_id <> $2`,
				id, m.GroupID,
			); err != nil {
				return eris.Wrapf(err, "client: merge group move %s", id)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "client: commit merge")
	}
	return nil
}

// AddToGroup inserts a membership, keeping an existing one untouched.
func (s *PostgresStore) AddToGroup(ctx context.Context, clientID, groupID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO client_groups (client_id, group_id) VALUES ($1, $2)
		ON CONFLICT (client_id, group_id) DO NOTHING`,
		clientID, groupID,
	)
	return eris.Wrapf(err, "client: add to group %s", groupID)
}

// EnsureRegion returns the owner's region of that name, creating it when
// absent. Creation races with concurrent imports resolve through the
// unique constraint and a fetch-existing fallback.
func (s *PostgresStore) EnsureRegion(ctx context.Context, ownerID, name string) (model.Region, bool, error) {
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
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO regions (id, owner_id, name, name_folded, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, name_folded) DO NOTHING`,
		created.ID, created.OwnerID, created.Name, folded, created.CreatedAt,
	)
	if err != nil {
		return model.Region{}, false, eris.Wrapf(err, "client: insert region %q", name)
	}
	if tag.RowsAffected() > 0 {
		return created, true, nil
	}

	// Lost the insert race: another import created it first.
	region, err = s.getRegion(ctx, ownerID, folded)
	if err != nil {
		return model.Region{}, false, err
	}
	if region == nil {
		return model.Region{}, false, eris.Errorf("client: region %q conflicted but cannot be fetched", name)
	}
	return *region, false, nil
}

func (s *PostgresStore) getRegion(ctx context.Context, ownerID, folded string) (*model.Region, error) {
	var r model.Region
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, created_at FROM regions WHERE owner_id = $1 AND name_folded = $2`,
		ownerID, folded,
	).Scan(&r.ID, &r.OwnerID, &r.Name, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "client: get region")
	}
	return &r, nil
}

// EnsureGroup mirrors EnsureRegion for groups.
func (s *PostgresStore) EnsureGroup(ctx context.Context, ownerID, name string) (model.Group, bool, error) {
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
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO groups (id, owner_id, name, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, name) DO NOTHING`,
		created.ID, created.OwnerID, created.Name, created.CreatedAt,
	)
	if err != nil {
		return model.Group{}, false, eris.Wrapf(err, "client: insert group %q", name)
	}
	if tag.RowsAffected() > 0 {
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

func (s *PostgresStore) getGroup(ctx context.Context, ownerID, name string) (*model.Group, error) {
	var g model.Group
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, created_at FROM groups WHERE owner_id = $1 AND name = $2`,
		ownerID, name,
	).Scan(&g.ID, &g.OwnerID, &g.Name, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "client: get group")
	}
	return &g, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
