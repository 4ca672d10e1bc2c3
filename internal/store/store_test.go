package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/import-cli/internal/db"
	"github.com/relaycrm/import-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	handle, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() }) //nolint:errcheck
	s := NewSQLite(handle)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_Suite(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

// storeTestSuite exercises the Store contract against a real backend.
func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := &model.ImportRun{
			OwnerID: "owner-1",
			Source:  "clients.csv",
			Policy:  model.DefaultImportConfig(),
		}
		require.NoError(t, s.CreateRun(ctx, run))
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusPending, run.Status)
		assert.False(t, run.StartedAt.IsZero())

		fetched, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.NotNil(t, fetched)
		assert.Equal(t, "owner-1", fetched.OwnerID)
		assert.Equal(t, "clients.csv", fetched.Source)
		assert.Empty(t, fetched.GroupID)
		assert.Equal(t, model.MatchByPhone, fetched.Policy.SearchScope.MatchCriteria)
		assert.Equal(t, model.NoDuplicateCreate, fetched.Policy.NoDuplicateAction)
		assert.Nil(t, fetched.Report)
		assert.Nil(t, fetched.FinishedAt)
	})

	t.Run("GetRun_Missing", func(t *testing.T) {
		s := newStore(t)

		fetched, err := s.GetRun(context.Background(), "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, fetched)
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := &model.ImportRun{OwnerID: "owner-1", Source: "a.csv", Policy: model.DefaultImportConfig()}
		require.NoError(t, s.CreateRun(ctx, run))
		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))

		fetched, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, fetched.Status)
	})

	t.Run("UpdateRunStatus_NotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateRunStatus(context.Background(), "nonexistent", model.RunStatusRunning)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("CompleteRun_WithReport", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := &model.ImportRun{OwnerID: "owner-1", Source: "a.csv", Policy: model.DefaultImportConfig()}
		require.NoError(t, s.CreateRun(ctx, run))

		report := &model.ImportReport{
			Total:          10,
			Created:        5,
			Updated:        3,
			Skipped:        1,
			Errors:         1,
			RegionsCreated: 2,
			RowErrors:      []model.RowError{{Row: 4, Message: "missing phone", Name: "Ivan"}},
		}
		require.NoError(t, s.CompleteRun(ctx, run.ID, model.RunStatusCompleted, report, ""))

		fetched, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, fetched.Status)
		require.NotNil(t, fetched.Report)
		assert.Equal(t, 10, fetched.Report.Total)
		assert.Equal(t, 2, fetched.Report.RegionsCreated)
		require.Len(t, fetched.Report.RowErrors, 1)
		assert.Equal(t, "missing phone", fetched.Report.RowErrors[0].Message)
		assert.Empty(t, fetched.Error)
		require.NotNil(t, fetched.FinishedAt)
	})

	t.Run("CompleteRun_Failed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := &model.ImportRun{OwnerID: "owner-1", Source: "a.csv", Policy: model.DefaultImportConfig()}
		require.NoError(t, s.CreateRun(ctx, run))
		require.NoError(t, s.CompleteRun(ctx, run.ID, model.RunStatusFailed, nil, "source unreadable"))

		fetched, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, fetched.Status)
		assert.Nil(t, fetched.Report)
		assert.Equal(t, "source unreadable", fetched.Error)
	})

	t.Run("CompleteRun_NotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.CompleteRun(context.Background(), "nonexistent", model.RunStatusCompleted, nil, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListRuns_Filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r1 := &model.ImportRun{OwnerID: "owner-1", Source: "a.csv", Policy: model.DefaultImportConfig()}
		r2 := &model.ImportRun{OwnerID: "owner-2", Source: "b.csv", Policy: model.DefaultImportConfig()}
		require.NoError(t, s.CreateRun(ctx, r1))
		require.NoError(t, s.CreateRun(ctx, r2))
		require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, model.RunStatusCompleted))

		all, err := s.ListRuns(ctx, RunFilter{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		byOwner, err := s.ListRuns(ctx, RunFilter{OwnerID: "owner-2", Limit: 10})
		require.NoError(t, err)
		require.Len(t, byOwner, 1)
		assert.Equal(t, r2.ID, byOwner[0].ID)

		byStatus, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusCompleted, Limit: 10})
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, r1.ID, byStatus[0].ID)
	})

	t.Run("SaveAndGetPolicy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cfg := model.DefaultImportConfig()
		cfg.OwnerID = "owner-1"
		cfg.Name = "spring-campaign"
		require.NoError(t, s.SavePolicy(ctx, &cfg))
		assert.NotEmpty(t, cfg.ID)

		fetched, err := s.GetPolicy(ctx, "owner-1", "spring-campaign")
		require.NoError(t, err)
		require.NotNil(t, fetched)
		assert.Equal(t, "spring-campaign", fetched.Name)
		assert.Equal(t, []model.Scope{model.ScopeOwnerGroups}, fetched.SearchScope.Scopes)
		assert.True(t, fetched.DuplicateAction.AddPhones)
	})

	t.Run("SavePolicy_UpsertsByName", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cfg := model.DefaultImportConfig()
		cfg.OwnerID = "owner-1"
		cfg.Name = "spring-campaign"
		require.NoError(t, s.SavePolicy(ctx, &cfg))

		edited := model.DefaultImportConfig()
		edited.OwnerID = "owner-1"
		edited.Name = "spring-campaign"
		edited.NoDuplicateAction = model.NoDuplicateSkip
		require.NoError(t, s.SavePolicy(ctx, &edited))

		fetched, err := s.GetPolicy(ctx, "owner-1", "spring-campaign")
		require.NoError(t, err)
		require.NotNil(t, fetched)
		assert.Equal(t, model.NoDuplicateSkip, fetched.NoDuplicateAction)

		configs, err := s.ListPolicies(ctx, "owner-1")
		require.NoError(t, err)
		assert.Len(t, configs, 1)
	})

	t.Run("GetPolicy_Missing", func(t *testing.T) {
		s := newStore(t)

		fetched, err := s.GetPolicy(context.Background(), "owner-1", "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, fetched)
	})

	t.Run("ListPolicies_ScopedToOwner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mine := model.DefaultImportConfig()
		mine.OwnerID = "owner-1"
		mine.Name = "mine"
		require.NoError(t, s.SavePolicy(ctx, &mine))

		theirs := model.DefaultImportConfig()
		theirs.OwnerID = "owner-2"
		theirs.Name = "theirs"
		require.NoError(t, s.SavePolicy(ctx, &theirs))

		configs, err := s.ListPolicies(ctx, "owner-1")
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, "mine", configs[0].Name)
	})

	t.Run("DeletePolicy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cfg := model.DefaultImportConfig()
		cfg.OwnerID = "owner-1"
		cfg.Name = "doomed"
		require.NoError(t, s.SavePolicy(ctx, &cfg))
		require.NoError(t, s.DeletePolicy(ctx, "owner-1", "doomed"))

		fetched, err := s.GetPolicy(ctx, "owner-1", "doomed")
		require.NoError(t, err)
		assert.Nil(t, fetched)
	})

	t.Run("DeletePolicy_Missing", func(t *testing.T) {
		s := newStore(t)

		err := s.DeletePolicy(context.Background(), "owner-1", "nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}
