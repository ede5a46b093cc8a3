package memory_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm-pm/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDecisionUpdate_OutcomeSeverityMergeKeepsHighestOutcome(t *testing.T) {
	st := newState(t)

	allowReq, err := memory.ParsePolicyDecisionUpdate(map[string]interface{}{
		"policyKey":          "share-curriculum",
		"outcome":            "allow",
		"provenanceEventIds": []interface{}{"evt_1"},
	})
	require.NoError(t, err)
	decision, err := memory.PolicyDecisionUpdate(st, allowReq)
	require.NoError(t, err)
	assert.Equal(t, "allow", decision.Outcome)

	denyReq, err := memory.ParsePolicyDecisionUpdate(map[string]interface{}{
		"policyKey":          "share-curriculum",
		"outcome":            "deny",
		"reasonCodes":        []interface{}{"blocked_by_reviewer"},
		"provenanceEventIds": []interface{}{"evt_2"},
	})
	require.NoError(t, err)
	decision, err = memory.PolicyDecisionUpdate(st, denyReq)
	require.NoError(t, err)
	assert.Equal(t, "deny", decision.Outcome, "deny has higher severity and must win the merge")

	laterAllowReq, err := memory.ParsePolicyDecisionUpdate(map[string]interface{}{
		"policyKey":          "share-curriculum",
		"outcome":            "allow",
		"provenanceEventIds": []interface{}{"evt_3"},
	})
	require.NoError(t, err)
	decision, err = memory.PolicyDecisionUpdate(st, laterAllowReq)
	require.NoError(t, err)
	assert.Equal(t, "deny", decision.Outcome, "a lower-severity outcome must never downgrade an existing decision")
}

func TestParsePolicyDecisionUpdate_DenyRequiresReasonCode(t *testing.T) {
	_, err := memory.ParsePolicyDecisionUpdate(map[string]interface{}{
		"policyKey":          "share-curriculum",
		"outcome":            "deny",
		"provenanceEventIds": []interface{}{"evt_1"},
	})
	assert.Error(t, err)
}

func TestAuthorizeCrossSpace_FailClosedDeniesNonAllowlistedStore(t *testing.T) {
	st := newState(t)
	err := memory.AuthorizeCrossSpace(st, "store-b", true, "2026-01-01T00:00:00.000Z")
	require.Error(t, err)
	denyErr, ok := err.(*memory.PolicyDenyError)
	require.True(t, ok, "expected *PolicyDenyError, got %T", err)
	assert.NotEmpty(t, denyErr.PolicyAuditEventID)

	ordered := st.PolicyAuditTrail.Ordered()
	require.Len(t, ordered, 1)
	assert.Equal(t, "deny", ordered[0].Data["outcome"])
}

func TestAuthorizeCrossSpace_AllowsSelfAndAllowlistedStores(t *testing.T) {
	st := newState(t)
	assert.NoError(t, memory.AuthorizeCrossSpace(st, "", true, "2026-01-01T00:00:00.000Z"))
	assert.NoError(t, memory.AuthorizeCrossSpace(st, st.StoreID, true, "2026-01-01T00:00:00.000Z"))
	assert.NoError(t, memory.AuthorizeCrossSpace(st, "store-b", false, "2026-01-01T00:00:00.000Z"), "non-fail-closed callers must not be denied")
}

func TestRecallAuthorization_GrantThenCheckSucceeds(t *testing.T) {
	st := newState(t)

	grantReq, err := memory.ParseRecallAuthorization(map[string]interface{}{
		"mode":          "grant",
		"allowStoreIds": []interface{}{"store-b"},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	_, err = memory.RecallAuthorization(st, grantReq)
	require.NoError(t, err)

	checkReq, err := memory.ParseRecallAuthorization(map[string]interface{}{
		"mode":             "check",
		"requesterStoreId": "store-b",
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	_, err = memory.RecallAuthorization(st, checkReq)
	assert.NoError(t, err)
}

func TestRecallAuthorization_RevokeRemovesStoreButKeepsSelf(t *testing.T) {
	st := newState(t)

	grantReq, err := memory.ParseRecallAuthorization(map[string]interface{}{
		"mode":          "grant",
		"allowStoreIds": []interface{}{"store-b"},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	_, err = memory.RecallAuthorization(st, grantReq)
	require.NoError(t, err)

	revokeReq, err := memory.ParseRecallAuthorization(map[string]interface{}{
		"mode":           "revoke",
		"revokeStoreIds": []interface{}{"store-b", st.StoreID},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	policy, err := memory.RecallAuthorization(st, revokeReq)
	require.NoError(t, err)
	assert.NotContains(t, policy.AllowedStoreIDs, "store-b")
	assert.Contains(t, policy.AllowedStoreIDs, st.StoreID, "a store must never be able to revoke its own self-allowlisting")
}

func TestRecallAuthorization_ReplaceOverwritesAndKeepsSelf(t *testing.T) {
	st := newState(t)
	replaceReq, err := memory.ParseRecallAuthorization(map[string]interface{}{
		"mode":          "replace",
		"allowStoreIds": []interface{}{"store-b", "store-c"},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	policy, err := memory.RecallAuthorization(st, replaceReq)
	require.NoError(t, err)
	assert.Contains(t, policy.AllowedStoreIDs, "store-b")
	assert.Contains(t, policy.AllowedStoreIDs, "store-c")
	assert.Contains(t, policy.AllowedStoreIDs, st.StoreID)
}

func TestPolicyAuditExport_IncidentChecklistAndLimit(t *testing.T) {
	st := newState(t)
	err := memory.AuthorizeCrossSpace(st, "store-b", true, "2026-01-01T00:00:00.000Z")
	require.Error(t, err)

	exportReq := memory.ParsePolicyAuditExport(map[string]interface{}{"limit": 1})
	result, err := memory.PolicyAuditExport(st, exportReq)
	require.NoError(t, err)
	require.Len(t, result.AuditTrail, 1)
	assert.NotEmpty(t, result.ExportID)

	checks := map[string]bool{}
	for _, c := range result.IncidentChecklist {
		checks[c.Check] = c.Passed
	}
	assert.True(t, checks["allowlist_contains_self"])
	assert.True(t, checks["audit_trail_within_cap"])
	assert.True(t, checks["no_unreasoned_denies"])
	assert.True(t, checks["deny_count_bounded"])
}
