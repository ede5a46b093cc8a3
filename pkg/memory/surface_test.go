package memory_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm-pm/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_DedupesByContentDigest(t *testing.T) {
	st := newState(t)
	events := []interface{}{
		map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{"statement": "x"}},
		map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{"statement": "x"}},
	}

	result, err := memory.Ingest(st, events)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Len(t, result.EventIDs, 1)
	assert.NotEmpty(t, result.LedgerDigest)
}

func TestIngest_RejectsNonObjectEvent(t *testing.T) {
	st := newState(t)
	_, err := memory.Ingest(st, []interface{}{"not-an-object"})
	assert.Error(t, err)
}

func TestContext_MatchesByTypeSourceOrContentValue(t *testing.T) {
	st := newState(t)
	_, err := memory.Ingest(st, []interface{}{
		map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{"statement": "x"}},
		map[string]interface{}{"type": "chat", "source": "tutor", "content": map[string]interface{}{"statement": "y"}},
	})
	require.NoError(t, err)

	result := memory.Context(st, "submission", 0)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "submission", result.Events[0].Type)

	result = memory.Context(st, "", 0)
	assert.Len(t, result.Events, 2)
}

func TestContext_BoundsChronologyByLimit(t *testing.T) {
	st := newState(t)
	timestamps := map[string]string{"a": "2026-01-01T00:00:00.000Z", "b": "2026-01-02T00:00:00.000Z", "c": "2026-01-03T00:00:00.000Z"}
	for _, key := range []string{"a", "b", "c"} {
		req, err := memory.ParseMisconceptionUpdate(map[string]interface{}{
			"misconceptionKey": key,
			"evidenceEventIds": []interface{}{"evt"},
			"signalId":         "sig_" + key,
		}, timestamps[key])
		require.NoError(t, err)
		_, err = memory.MisconceptionUpdate(st, req)
		require.NoError(t, err)
	}

	result := memory.Context(st, "", 2)
	assert.Len(t, result.MisconceptionChronology, 2)
}

func TestReflect_SynthesizesCandidatesFromStatements(t *testing.T) {
	st := newState(t)
	_, err := memory.Ingest(st, []interface{}{
		map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{"statement": "recursion needs a base case", "confidence": 0.8}},
		map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{}},
	})
	require.NoError(t, err)

	result, err := memory.Reflect(st, 0)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1, "events without a statement must be skipped")
	assert.Equal(t, "recursion needs a base case", result.Candidates[0].Statement)
	assert.InDelta(t, 0.8, result.Candidates[0].Confidence, 1e-9)
}

func TestValidate_ReportsMissingEventIDs(t *testing.T) {
	st := newState(t)
	_, err := memory.Ingest(st, []interface{}{
		map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{"statement": "x"}},
	})
	require.NoError(t, err)
	existingID := st.Events[0].EventID

	result := memory.Validate(st, []string{existingID, "evt_missing"})
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"evt_missing"}, result.MissingEventIDs)

	result = memory.Validate(st, []string{existingID})
	assert.True(t, result.Valid)
	assert.Empty(t, result.MissingEventIDs)
}

func TestCurate_CreatesContentAddressedRule(t *testing.T) {
	st := newState(t)
	rule, err := memory.Curate(st, "recursion needs a base case", 0.7, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "recursion needs a base case", rule.Statement)
	assert.InDelta(t, 0.7, rule.Confidence, 1e-9)
	assert.Contains(t, st.Rules, rule.RuleID)
}

func TestFeedbackAndOutcome_AppendContentAddressedEvents(t *testing.T) {
	st := newState(t)
	fb, err := memory.Feedback(st, map[string]interface{}{"rating": "helpful"}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.NotEmpty(t, fb.FeedbackID)

	out, err := memory.Outcome(st, map[string]interface{}{"result": "passed"}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.NotEmpty(t, out.OutcomeID)

	assert.Len(t, st.Events, 2)
}

func TestAudit_DetectsDuplicateRuleStatements(t *testing.T) {
	st := newState(t)
	_, err := memory.Curate(st, "recursion needs a base case", 0.7, "evt_1")
	require.NoError(t, err)
	_, err = memory.Curate(st, "recursion needs a base case", 0.7, "evt_2")
	require.NoError(t, err)

	result := memory.Audit(st)
	assert.Equal(t, 2, result.RuleCount)
	assert.Len(t, result.DuplicateRuleIDs, 2)
}

func TestExport_RendersMarkdownAndYAML(t *testing.T) {
	st := newState(t)
	req, err := memory.ParseMisconceptionUpdate(map[string]interface{}{
		"misconceptionKey": "off-by-one",
		"evidenceEventIds": []interface{}{"evt_1"},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	_, err = memory.MisconceptionUpdate(st, req)
	require.NoError(t, err)

	result, err := memory.Export(st)
	require.NoError(t, err)
	assert.Contains(t, result.Markdown, "# Personalization Memory Export")
	assert.Contains(t, result.Markdown, "off-by-one")
	assert.Contains(t, result.YAML, "off-by-one")
	assert.NotEmpty(t, result.Digest)
}

func TestDoctor_ReportsCountersAgainstCurrentState(t *testing.T) {
	st := newState(t)
	reviewReq, err := memory.ParseReviewScheduleUpdate(map[string]interface{}{
		"objectiveKey":   "loops-101",
		"sourceEventIds": []interface{}{"evt_1"},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	_, err = memory.ReviewScheduleUpdate(st, reviewReq)
	require.NoError(t, err)

	rebalanceReq, err := memory.ParseReviewSetRebalance(map[string]interface{}{}, "2026-01-01T00:00:00.000Z", memory.DefaultActiveReviewSetLimit)
	require.NoError(t, err)
	memory.ReviewSetRebalance(st, rebalanceReq)

	result := memory.Doctor(st)
	assert.Equal(t, 1, result.ReviewEntryCount)
	assert.InDelta(t, 1.0, result.ActiveReviewRatio, 1e-9)
	assert.Equal(t, 0, result.AuditTrailSize)
}
