package memory_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm-pm/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(t *testing.T) *memory.ProfileState {
	t.Helper()
	return memory.NewProfileState("store-a", "default")
}

func parseMisconceptionReq(t *testing.T, req map[string]interface{}) *memory.MisconceptionUpdateRequest {
	t.Helper()
	parsed, err := memory.ParseMisconceptionUpdate(req, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	return parsed
}

func TestMisconceptionUpdate_NoopOnRepeatedSignalID(t *testing.T) {
	st := newState(t)
	req := parseMisconceptionReq(t, map[string]interface{}{
		"misconceptionKey": "off-by-one",
		"evidenceEventIds": []interface{}{"evt_1"},
		"signalId":         "sig_1",
		"signal":           "harmful",
	})

	first, err := memory.MisconceptionUpdate(st, req)
	require.NoError(t, err)
	assert.Equal(t, "updated", first.Action)
	assert.Equal(t, 1, first.Misconception.HarmfulSignalCount)

	second, err := memory.MisconceptionUpdate(st, req)
	require.NoError(t, err)
	assert.Equal(t, "noop", second.Action)
	assert.Equal(t, 1, second.Misconception.HarmfulSignalCount, "a repeated signalId must not be counted twice")
}

func TestMisconceptionUpdate_DecayArithmeticAcrossThreeHarmfulSignals(t *testing.T) {
	st := newState(t)

	signalIDs := []string{"sig_1", "sig_2", "sig_3"}
	var last *memory.MisconceptionUpdateResult
	for _, sigID := range signalIDs {
		req := parseMisconceptionReq(t, map[string]interface{}{
			"misconceptionKey": "off-by-one",
			"evidenceEventIds": []interface{}{"evt_" + sigID},
			"signalId":         sigID,
			"signal":           "harmful",
		})
		out, err := memory.MisconceptionUpdate(st, req)
		require.NoError(t, err)
		last = out
	}

	m := last.Misconception
	assert.Equal(t, 3, m.HarmfulSignalCount)
	assert.Equal(t, 3, m.ConfidenceDecay.Stage)
	assert.InDelta(t, 0.32, m.ConfidenceDecay.BaseDecay, 1e-9)
	assert.InDelta(t, 1.7, m.ConfidenceDecay.Acceleration, 1e-9)
	assert.InDelta(t, -0.32, m.ConfidenceDecay.AppliedDelta, 1e-9, "AppliedDelta reports the unaccelerated decrement; acceleration is reflected only in Confidence")
	assert.InDelta(t, 0.05, m.Confidence, 1e-9, "confidence must floor at 0.05")
}

func TestMisconceptionUpdate_StatusResolvesWhenCorrectionsCatchUp(t *testing.T) {
	st := newState(t)

	harmfulReq := parseMisconceptionReq(t, map[string]interface{}{
		"misconceptionKey": "off-by-one",
		"evidenceEventIds": []interface{}{"evt_1"},
		"signalId":         "sig_harm_1",
		"signal":           "harmful",
	})
	out, err := memory.MisconceptionUpdate(st, harmfulReq)
	require.NoError(t, err)
	assert.Equal(t, "active", out.Misconception.Status)

	correctionReq := parseMisconceptionReq(t, map[string]interface{}{
		"misconceptionKey": "off-by-one",
		"evidenceEventIds": []interface{}{"evt_2"},
		"signalId":         "sig_corr_1",
		"signal":           "correction",
	})
	out, err = memory.MisconceptionUpdate(st, correctionReq)
	require.NoError(t, err)
	assert.Equal(t, "resolved", out.Misconception.Status)
	assert.Equal(t, 1, out.Misconception.CorrectionCount)
}

func TestMisconceptionUpdate_HelpfulSignalIncreasesConfidence(t *testing.T) {
	st := newState(t)

	harmfulReq := parseMisconceptionReq(t, map[string]interface{}{
		"misconceptionKey": "off-by-one",
		"evidenceEventIds": []interface{}{"evt_1"},
		"signalId":         "sig_harm_1",
		"signal":           "harmful",
	})
	out, err := memory.MisconceptionUpdate(st, harmfulReq)
	require.NoError(t, err)
	confidenceAfterHarm := out.Misconception.Confidence

	helpfulReq := parseMisconceptionReq(t, map[string]interface{}{
		"misconceptionKey": "off-by-one",
		"evidenceEventIds": []interface{}{"evt_2"},
		"signalId":         "sig_help_1",
		"signal":           "helpful",
	})
	out, err = memory.MisconceptionUpdate(st, helpfulReq)
	require.NoError(t, err)
	assert.Greater(t, out.Misconception.Confidence, confidenceAfterHarm)
	assert.InDelta(t, 0.11, out.Misconception.ConfidenceDecay.AppliedDelta, 1e-9)
}

func TestMisconceptionUpdate_AntiPatternsEmitAtThresholds(t *testing.T) {
	st := newState(t)

	evidenceIDs := []string{"evt_1", "evt_2", "evt_3", "evt_4", "evt_5"}
	var last *memory.MisconceptionUpdateResult
	for i, evtID := range evidenceIDs {
		req := parseMisconceptionReq(t, map[string]interface{}{
			"misconceptionKey": "off-by-one",
			"evidenceEventIds": []interface{}{evtID},
			"signalId":         "sig_" + string(rune('a'+i)),
			"signal":           "harmful",
		})
		out, err := memory.MisconceptionUpdate(st, req)
		require.NoError(t, err)
		last = out
	}

	byThreshold := map[int]memory.AntiPattern{}
	for _, ap := range last.Misconception.AntiPatterns {
		byThreshold[ap.Threshold] = ap
	}
	require.Contains(t, byThreshold, 2)
	require.Contains(t, byThreshold, 3)
	require.Contains(t, byThreshold, 5)
	assert.Len(t, last.Misconception.AntiPatterns, 3)

	assert.Equal(t, []string{"evt_1", "evt_2", "evt_3"}, byThreshold[3].EvidenceIDs,
		"the threshold=3 anti-pattern must carry the cumulative evidence accrued up to that signal, not just the triggering call's")
}

func TestParseMisconceptionUpdate_RequiresEvidence(t *testing.T) {
	_, err := memory.ParseMisconceptionUpdate(map[string]interface{}{
		"misconceptionKey": "off-by-one",
	}, "2026-01-01T00:00:00.000Z")
	assert.Error(t, err)
}

func TestParseMisconceptionUpdate_RequiresMisconceptionKey(t *testing.T) {
	_, err := memory.ParseMisconceptionUpdate(map[string]interface{}{
		"evidenceEventIds": []interface{}{"evt_1"},
	}, "2026-01-01T00:00:00.000Z")
	assert.Error(t, err)
}
