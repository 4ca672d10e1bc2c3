package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/import-cli/internal/db"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/store"
)

func newTestRunStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	handle, err := db.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	runs := store.NewSQLite(handle)
	require.NoError(t, runs.Migrate(context.Background()))
	return runs
}

func TestImportCmd_Metadata(t *testing.T) {
	assert.Equal(t, "import <file-or-url>", importCmd.Use)
	assert.NotEmpty(t, importCmd.Short)

	ownerFlag := importCmd.Flags().Lookup("owner")
	require.NotNil(t, ownerFlag)
}

func TestResolveImportPolicy_Default(t *testing.T) {
	policy, err := resolveImportPolicy(context.Background(), nil, "u-1", "", "")
	require.NoError(t, err)

	assert.Equal(t, model.DefaultImportConfig().SearchScope, policy.SearchScope)
	assert.Equal(t, model.DuplicateUpdate, policy.DuplicateAction.DefaultAction)
}

func TestResolveImportPolicy_MutuallyExclusive(t *testing.T) {
	_, err := resolveImportPolicy(context.Background(), nil, "u-1", "policy.yaml", "strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestResolveImportPolicy_StoredName(t *testing.T) {
	runs := newTestRunStore(t)

	stored := model.DefaultImportConfig()
	stored.OwnerID = "u-1"
	stored.Name = "strict"
	stored.DuplicateAction.DefaultAction = model.DuplicateSkip
	require.NoError(t, runs.SavePolicy(context.Background(), &stored))

	policy, err := resolveImportPolicy(context.Background(), runs, "u-1", "", "strict")
	require.NoError(t, err)
	assert.Equal(t, "strict", policy.Name)
	assert.Equal(t, model.DuplicateSkip, policy.DuplicateAction.DefaultAction)
}

func TestResolveImportPolicy_UnknownStoredName(t *testing.T) {
	runs := newTestRunStore(t)

	_, err := resolveImportPolicy(context.Background(), runs, "u-1", "", "no-such-policy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no stored policy named "no-such-policy"`)
}

func TestReadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strict.yaml")
	data := `
name: strict-matching
search_scope:
  match_criteria: phone_and_name
  scopes: [all_users]
duplicate_action:
  default_action: skip
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	policy, err := readPolicyFile(path)
	require.NoError(t, err)

	assert.Equal(t, "strict-matching", policy.Name)
	assert.Equal(t, model.MatchByPhoneAndName, policy.SearchScope.MatchCriteria)
	assert.Equal(t, []model.Scope{model.ScopeAllUsers}, policy.SearchScope.Scopes)
	assert.Equal(t, model.DuplicateSkip, policy.DuplicateAction.DefaultAction)
}

func TestReadPolicyFile_NameFallsBackToFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lenient.yaml")
	require.NoError(t, os.WriteFile(path, []byte("duplicate_action:\n  default_action: create\n"), 0o644))

	policy, err := readPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lenient", policy.Name)
}

func TestReadPolicyFile_UnsetKeysInheritDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: partial\n"), 0o644))

	policy, err := readPolicyFile(path)
	require.NoError(t, err)

	def := model.DefaultImportConfig()
	assert.Equal(t, def.SearchScope, policy.SearchScope)
	assert.Equal(t, def.DuplicateAction, policy.DuplicateAction)
	assert.Equal(t, def.Validation, policy.Validation)
}

func TestReadPolicyFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	_, err := readPolicyFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse policy file")
}

func TestReadPolicyFile_Missing(t *testing.T) {
	_, err := readPolicyFile("/nonexistent/policy.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy file")
}

func TestSourceOptions_Delimiter(t *testing.T) {
	oldDelim := importDelimiter
	importDelimiter = ";"
	defer func() { importDelimiter = oldDelim }()

	opts := sourceOptions()
	assert.Equal(t, ';', opts.Delimiter)
}

func TestSourceOptions_Defaults(t *testing.T) {
	oldDelim, oldNoHeader := importDelimiter, importNoHeader
	importDelimiter, importNoHeader = "", false
	defer func() { importDelimiter, importNoHeader = oldDelim, oldNoHeader }()

	opts := sourceOptions()
	assert.Equal(t, rune(0), opts.Delimiter)
	assert.True(t, opts.HasHeader)
	assert.Equal(t, 1, opts.Columns.Phone)
}
