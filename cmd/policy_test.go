package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/import-cli/internal/model"
)

func TestFormatPolicyList(t *testing.T) {
	strict := model.DefaultImportConfig()
	strict.Name = "strict"
	strict.SearchScope.Scopes = []model.Scope{model.ScopeCurrentGroup, model.ScopeOwnerGroups}
	strict.SearchScope.MatchCriteria = model.MatchByPhoneAndName
	strict.DuplicateAction.DefaultAction = model.DuplicateSkip
	strict.Validation.ErrorHandling = model.ErrorHandlingStop
	strict.UpdatedAt = time.Date(2026, 8, 12, 14, 30, 0, 0, time.UTC)

	lenient := model.DefaultImportConfig()
	lenient.Name = "lenient"

	var buf bytes.Buffer
	formatPolicyList(&buf, []model.ImportConfig{strict, lenient})

	output := buf.String()
	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "CRITERIA")
	assert.Contains(t, output, "strict")
	assert.Contains(t, output, "lenient")
	assert.Contains(t, output, "phone_and_name")
	assert.Contains(t, output, "current_group,owner_groups")
	assert.Contains(t, output, "stop")
	assert.Contains(t, output, "2026-08-12 14:30")
}

func TestPolicyCreateCommand_Flags(t *testing.T) {
	for _, name := range []string{"owner", "file"} {
		flag := policyCreateCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "policy create should have --%s flag", name)
	}
}

func TestPolicyShowCommand_FormatDefault(t *testing.T) {
	flag := policyShowCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "yaml", flag.DefValue)
}
