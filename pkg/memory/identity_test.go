package memory_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm-pm/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseLearnerProfileReq(t *testing.T, req map[string]interface{}) *memory.LearnerProfileUpdateRequest {
	t.Helper()
	parsed, err := memory.ParseLearnerProfileUpdate(req, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	return parsed
}

func TestLearnerProfileUpdate_GoalsAndTagsMergeAsSortedUnion(t *testing.T) {
	st := newState(t)

	first := parseLearnerProfileReq(t, map[string]interface{}{
		"learnerId":        "learner-1",
		"goals":            []interface{}{"master-recursion"},
		"interestTags":     []interface{}{"python"},
		"evidencePointers": []interface{}{map[string]interface{}{"pointerId": "evt_1"}},
	})
	p, err := memory.LearnerProfileUpdate(st, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"master-recursion"}, p.Goals)
	assert.Equal(t, 1, p.Version)

	second := parseLearnerProfileReq(t, map[string]interface{}{
		"learnerId":        "learner-1",
		"goals":            []interface{}{"master-closures"},
		"interestTags":     []interface{}{"go"},
		"evidencePointers": []interface{}{map[string]interface{}{"pointerId": "evt_2"}},
	})
	p, err = memory.LearnerProfileUpdate(st, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"master-closures", "master-recursion"}, p.Goals)
	assert.Equal(t, []string{"go", "python"}, p.InterestTags)
	assert.Equal(t, 2, p.Version)
}

func TestLearnerProfileUpdate_VersionOnlyIncrementsOnDigestChange(t *testing.T) {
	st := newState(t)

	req := parseLearnerProfileReq(t, map[string]interface{}{
		"learnerId":        "learner-1",
		"goals":            []interface{}{"master-recursion"},
		"evidencePointers": []interface{}{map[string]interface{}{"pointerId": "evt_1"}},
	})
	p, err := memory.LearnerProfileUpdate(st, req)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)

	p, err = memory.LearnerProfileUpdate(st, req)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version, "resubmitting an identical request must not bump the version")
}

func TestLearnerProfileUpdate_LineageResolvesCurrentValueByTripleOrdering(t *testing.T) {
	st := newState(t)

	req := parseLearnerProfileReq(t, map[string]interface{}{
		"learnerId":          "learner-1",
		"evidencePointers":   []interface{}{map[string]interface{}{"pointerId": "evt_1"}},
		"providedAttributes": map[string]interface{}{"preferredLanguage": "python"},
	})
	p, err := memory.LearnerProfileUpdate(st, req)
	require.NoError(t, err)
	assert.Equal(t, "python", p.ProvidedAttributes["preferredLanguage"])
	require.Len(t, p.Lineage["preferredLanguage"], 1)
}

func TestLearnerProfileUpdate_RequiresEvidenceOrPolicyException(t *testing.T) {
	_, err := memory.ParseLearnerProfileUpdate(map[string]interface{}{
		"learnerId": "learner-1",
	}, "2026-01-01T00:00:00.000Z")
	assert.Error(t, err)

	_, err = memory.ParseLearnerProfileUpdate(map[string]interface{}{
		"learnerId":       "learner-1",
		"policyException": true,
	}, "2026-01-01T00:00:00.000Z")
	assert.NoError(t, err)
}

func TestLearnerProfileUpdate_DefaultIdentityRefIsPrimary(t *testing.T) {
	req := parseLearnerProfileReq(t, map[string]interface{}{
		"learnerId":        "learner-1",
		"evidencePointers": []interface{}{map[string]interface{}{"pointerId": "evt_1"}},
	})
	require.Len(t, req.IdentityRefs, 1)
	assert.True(t, req.IdentityRefs[0].Primary)
	assert.Equal(t, "learner-1", req.IdentityRefs[0].Value)
}

func TestIdentityGraphUpdate_RejectsUnknownOrIdenticalEndpoints(t *testing.T) {
	_, err := memory.ParseIdentityGraphUpdate(map[string]interface{}{
		"fromRef": "learner-1", "toRef": "learner-1",
	})
	assert.Error(t, err)

	_, err = memory.ParseIdentityGraphUpdate(map[string]interface{}{
		"fromRef": "learner-1", "toRef": "unknown",
	})
	assert.Error(t, err)
}

func TestIdentityGraphUpdate_DefaultsRelationAndUpsertsWithMaxConfidence(t *testing.T) {
	st := newState(t)

	first, err := memory.ParseIdentityGraphUpdate(map[string]interface{}{
		"fromRef":    "learner-1",
		"toRef":      "alias-1",
		"confidence": 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "alias_of", first.Relation)

	edge, err := memory.IdentityGraphUpdate(st, first)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, edge.Confidence, 1e-9)
	fromRef, toRef := edge.FromRef, edge.ToRef

	lowerConfidence, err := memory.ParseIdentityGraphUpdate(map[string]interface{}{
		"fromRef":    "learner-1",
		"toRef":      "alias-1",
		"confidence": 0.2,
	})
	require.NoError(t, err)
	edge, err = memory.IdentityGraphUpdate(st, lowerConfidence)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, edge.Confidence, 1e-9, "confidence merge must take the max, never regress")
	assert.Equal(t, fromRef, edge.FromRef, "endpoints must be immutable across upserts")
	assert.Equal(t, toRef, edge.ToRef)
}
