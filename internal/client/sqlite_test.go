package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/import-cli/internal/db"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/normalize"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	handle, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() }) //nolint:errcheck
	st := NewSQLiteStore(handle)
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedClient(t *testing.T, st *SQLiteStore, owner, name string, phones ...string) *model.Client {
	t.Helper()
	c := &model.Client{OwnerID: owner, Name: name, Phones: phones}
	require.NoError(t, st.CreateClient(context.Background(), c))
	return c
}

// --- Regions ---

func TestSQLite_EnsureRegion_CreatesOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	r1, created, err := st.EnsureRegion(ctx, "owner-1", "North District")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, r1.ID)
	assert.Equal(t, "North District", r1.Name)

	// Same name up to case and spacing resolves to the same region.
	r2, created, err := st.EnsureRegion(ctx, "owner-1", "  north   DISTRICT ")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r1.ID, r2.ID)
}

func TestSQLite_EnsureRegion_PerOwner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	r1, created, err := st.EnsureRegion(ctx, "owner-1", "Center")
	require.NoError(t, err)
	assert.True(t, created)

	r2, created, err := st.EnsureRegion(ctx, "owner-2", "Center")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, r1.ID, r2.ID)
}

// --- Groups ---

func TestSQLite_EnsureGroup_CreatesOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	g1, created, err := st.EnsureGroup(ctx, "owner-1", "Spring Campaign")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, g1.ID)

	g2, created, err := st.EnsureGroup(ctx, "owner-1", "Spring Campaign")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, g1.ID, g2.ID)
}

// --- Clients ---

func TestSQLite_CreateAndGetClient(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	region, _, err := st.EnsureRegion(ctx, "owner-1", "North")
	require.NoError(t, err)

	c := &model.Client{
		OwnerID:  "owner-1",
		Name:     "Иван Петров",
		Status:   model.ClientStatusOld,
		RegionID: region.ID,
		Phones:   []string{"+79990000001", "74950000002"},
	}
	require.NoError(t, st.CreateClient(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Иван Петров", got.Name)
	assert.Equal(t, model.ClientStatusOld, got.Status)
	assert.Equal(t, region.ID, got.RegionID)
	assert.Equal(t, []string{"+79990000001", "74950000002"}, got.Phones)
}

func TestSQLite_GetClient_Missing(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetClient(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_CreateClient_DefaultsStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := seedClient(t, st, "owner-1", "Anna", "79990000001")

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClientStatusNew, got.Status)
}

func TestSQLite_CreateClient_WithGroupMembership(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	group, _, err := st.EnsureGroup(ctx, "owner-1", "Campaign")
	require.NoError(t, err)

	c := &model.Client{
		OwnerID:  "owner-1",
		Name:     "Ivan",
		Phones:   []string{"79990000001"},
		GroupIDs: []string{group.ID},
	}
	require.NoError(t, st.CreateClient(ctx, c))

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{group.ID}, got.GroupIDs)
}

// --- FindCandidates ---

func TestSQLite_FindCandidates_ByPhone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c1 := seedClient(t, st, "owner-1", "Ivan", "79990000001")
	seedClient(t, st, "owner-1", "Anna", "79990000002")

	got, err := st.FindCandidates(ctx, CandidateQuery{
		OwnerID:  "owner-1",
		Scopes:   []model.Scope{model.ScopeOwnerGroups},
		Criteria: model.MatchByPhone,
		Phones:   []string{"79990000001", "70000000000"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c1.ID, got[0].ID)
	assert.Equal(t, []string{"79990000001"}, got[0].Phones)
}

func TestSQLite_FindCandidates_ByName_FoldsCaseAndSpacing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c1 := seedClient(t, st, "owner-1", "Иван Петров", "79990000001")
	seedClient(t, st, "owner-1", "Пётр Иванов", "79990000002")

	got, err := st.FindCandidates(ctx, CandidateQuery{
		OwnerID:    "owner-1",
		Scopes:     []model.Scope{model.ScopeOwnerGroups},
		Criteria:   model.MatchByName,
		NameFolded: normalize.FoldName("  иван   ПЕТРОВ "),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c1.ID, got[0].ID)
}

func TestSQLite_FindCandidates_PhoneAndName_RequiresBoth(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c1 := seedClient(t, st, "owner-1", "Ivan", "79990000001")

	// Phone matches, name does not.
	got, err := st.FindCandidates(ctx, CandidateQuery{
		OwnerID:    "owner-1",
		Scopes:     []model.Scope{model.ScopeOwnerGroups},
		Criteria:   model.MatchByPhoneAndName,
		Phones:     []string{"79990000001"},
		NameFolded: normalize.FoldName("Anna"),
	})
	require.NoError(t, err)
	assert.Empty(t, got)

	// Both match.
	got, err = st.FindCandidates(ctx, CandidateQuery{
		OwnerID:    "owner-1",
		Scopes:     []model.Scope{model.ScopeOwnerGroups},
		Criteria:   model.MatchByPhoneAndName,
		Phones:     []string{"79990000001"},
		NameFolded: normalize.FoldName("ivan"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c1.ID, got[0].ID)
}

func TestSQLite_FindCandidates_ScopeCurrentGroup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	group, _, err := st.EnsureGroup(ctx, "owner-1", "Campaign")
	require.NoError(t, err)

	inGroup := seedClient(t, st, "owner-1", "Ivan", "79990000001")
	seedClient(t, st, "owner-1", "Anna", "79990000001")
	require.NoError(t, st.AddToGroup(ctx, inGroup.ID, group.ID))

	got, err := st.FindCandidates(ctx, CandidateQuery{
		OwnerID:        "owner-1",
		CurrentGroupID: group.ID,
		Scopes:         []model.Scope{model.ScopeCurrentGroup},
		Criteria:       model.MatchByPhone,
		Phones:         []string{"79990000001"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inGroup.ID, got[0].ID)
}

func TestSQLite_FindCandidates_ScopeAllUsers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedClient(t, st, "owner-1", "Ivan", "79990000001")
	seedClient(t, st, "owner-2", "Anna", "79990000001")

	mine, err := st.FindCandidates(ctx, CandidateQuery{
		OwnerID:  "owner-1",
		Scopes:   []model.Scope{model.ScopeOwnerGroups},
		Criteria: model.MatchByPhone,
		Phones:   []string{"79990000001"},
	})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	everyone, err := st.FindCandidates(ctx, CandidateQuery{
		OwnerID:  "owner-1",
		Scopes:   []model.Scope{model.ScopeOwnerGroups, model.ScopeAllUsers},
		Criteria: model.MatchByPhone,
		Phones:   []string{"79990000001"},
	})
	require.NoError(t, err)
	assert.Len(t, everyone, 2)
}

func TestSQLite_FindCandidates_MostRecentlyUpdatedFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c1 := seedClient(t, st, "owner-1", "Ivan", "79990000001")
	time.Sleep(10 * time.Millisecond)
	c2 := seedClient(t, st, "owner-1", "Anna", "79990000001")

	query := CandidateQuery{
		OwnerID:  "owner-1",
		Scopes:   []model.Scope{model.ScopeOwnerGroups},
		Criteria: model.MatchByPhone,
		Phones:   []string{"79990000001"},
	}

	got, err := st.FindCandidates(ctx, query)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c2.ID, got[0].ID)

	// Touching c1 moves it to the front.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, st.MergeClient(ctx, c1.ID, Merge{}))

	got, err = st.FindCandidates(ctx, query)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c1.ID, got[0].ID)
}

func TestSQLite_FindCandidates_NoScopes(t *testing.T) {
	st := newTestStore(t)

	got, err := st.FindCandidates(context.Background(), CandidateQuery{
		Criteria: model.MatchByPhone,
		Phones:   []string{"79990000001"},
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- MergeClient ---

func TestSQLite_MergeClient_SetsFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	region, _, err := st.EnsureRegion(ctx, "owner-1", "South")
	require.NoError(t, err)
	c := seedClient(t, st, "owner-1", "", "79990000001")

	err = st.MergeClient(ctx, c.ID, Merge{
		SetName:     "Anna Ivanova",
		SetRegionID: region.ID,
		SetStatus:   model.ClientStatusOld,
	})
	require.NoError(t, err)

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anna Ivanova", got.Name)
	assert.Equal(t, region.ID, got.RegionID)
	assert.Equal(t, model.ClientStatusOld, got.Status)
}

func TestSQLite_MergeClient_SetName_UpdatesFoldedName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := seedClient(t, st, "owner-1", "", "79990000001")
	require.NoError(t, st.MergeClient(ctx, c.ID, Merge{SetName: "Мария Ильина"}))

	got, err := st.FindCandidates(ctx, CandidateQuery{
		OwnerID:    "owner-1",
		Scopes:     []model.Scope{model.ScopeOwnerGroups},
		Criteria:   model.MatchByName,
		NameFolded: normalize.FoldName("мария ильина"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
}

func TestSQLite_MergeClient_AddPhones_SkipsExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := seedClient(t, st, "owner-1", "Ivan", "71111111111")

	err := st.MergeClient(ctx, c.ID, Merge{AddPhones: []string{"72222222222", "71111111111"}})
	require.NoError(t, err)

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"71111111111", "72222222222"}, got.Phones)
}

func TestSQLite_MergeClient_GroupAdd_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	group, _, err := st.EnsureGroup(ctx, "owner-1", "Campaign")
	require.NoError(t, err)
	c := seedClient(t, st, "owner-1", "Ivan", "79990000001")

	merge := Merge{GroupAction: model.GroupActionAdd, GroupID: group.ID}
	require.NoError(t, st.MergeClient(ctx, c.ID, merge))
	require.NoError(t, st.MergeClient(ctx, c.ID, merge))

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{group.ID}, got.GroupIDs)
}

func TestSQLite_MergeClient_GroupMove_RemovesOthers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	g1, _, err := st.EnsureGroup(ctx, "owner-1", "Old Campaign")
	require.NoError(t, err)
	g2, _, err := st.EnsureGroup(ctx, "owner-1", "New Campaign")
	require.NoError(t, err)

	c := seedClient(t, st, "owner-1", "Ivan", "79990000001")
	require.NoError(t, st.AddToGroup(ctx, c.ID, g1.ID))

	err = st.MergeClient(ctx, c.ID, Merge{GroupAction: model.GroupActionMove, GroupID: g2.ID})
	require.NoError(t, err)

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{g2.ID}, got.GroupIDs)
}

func TestSQLite_MergeClient_NotFound(t *testing.T) {
	st := newTestStore(t)

	err := st.MergeClient(context.Background(), "nonexistent", Merge{SetName: "X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_MergeClient_EmptyMergeTouchesUpdatedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := seedClient(t, st, "owner-1", "Ivan", "79990000001")
	before := c.UpdatedAt

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, st.MergeClient(ctx, c.ID, Merge{}))

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(before))
	assert.Equal(t, "Ivan", got.Name)
}

// --- AddToGroup ---

func TestSQLite_AddToGroup_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	group, _, err := st.EnsureGroup(ctx, "owner-1", "Campaign")
	require.NoError(t, err)
	c := seedClient(t, st, "owner-1", "Ivan", "79990000001")

	require.NoError(t, st.AddToGroup(ctx, c.ID, group.ID))
	require.NoError(t, st.AddToGroup(ctx, c.ID, group.ID))

	got, err := st.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{group.ID}, got.GroupIDs)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}
