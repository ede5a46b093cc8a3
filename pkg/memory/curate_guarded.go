package memory

import (
	"sort"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/firewall"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
)

// CurateGuardedCandidate is one raw candidate statement submitted to curate_guarded.
type CurateGuardedCandidate struct {
	Statement        string
	SourceEventID    string
	Confidence       float64
	ExternalValid    bool
	ExternalEventID  string
}

// ParseCurateGuarded normalizes the candidates array of a curate_guarded request.
func ParseCurateGuarded(req map[string]interface{}) ([]CurateGuardedCandidate, error) {
	raw, _ := req["candidates"].([]interface{})
	out := make([]CurateGuardedCandidate, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "candidate must be an object")
		}
		statement := normalize.StringOrDefault(m["statement"], "")
		validation, _ := m["validation"].(map[string]interface{})
		out = append(out, CurateGuardedCandidate{
			Statement:       statement,
			SourceEventID:   normalize.StringOrDefault(m["sourceEventId"], ""),
			Confidence:      normalize.ClampUnit(m["confidence"], 0.5),
			ExternalValid:   validation != nil && normalize.BoolOrDefault(validation["valid"], false),
			ExternalEventID: normalize.StringOrDefault(validation["evidenceEventId"], ""),
		})
	}
	return out, nil
}

// QuarantinedCandidate is a candidate rejected by the injection scan.
type QuarantinedCandidate struct {
	Statement   string   `json:"statement"`
	ReasonCodes []string `json:"reasonCodes"`
}

// CurateGuardedResult is the typed response of curate_guarded.
type CurateGuardedResult struct {
	Action      string                 `json:"action"`
	Accepted    []Rule                 `json:"accepted"`
	Quarantined []QuarantinedCandidate `json:"quarantined"`
	Rejected    []string               `json:"rejected"`
}

// CurateGuarded runs the pipeline from §4.8: scan for prompt injection,
// reject empties, require evidence (event or external validation), then
// delegate safe candidates to the plain curate handler. Quarantined and
// rejected statements are mirrored into the policy audit trail. The action
// is "noop" whenever nothing is accepted — whether everything was rejected
// or the candidates list was empty (spec design note (b)).
func CurateGuarded(st *ProfileState, candidates []CurateGuardedCandidate, timestamp string) (*CurateGuardedResult, error) {
	haveEvent := make(map[string]bool, len(st.Events))
	for _, e := range st.Events {
		haveEvent[e.EventID] = true
	}

	result := &CurateGuardedResult{Action: "noop"}
	for _, c := range candidates {
		if reasons := firewall.ScanStatement(c.Statement); len(reasons) > 0 {
			result.Quarantined = append(result.Quarantined, QuarantinedCandidate{Statement: c.Statement, ReasonCodes: reasons})
			if _, err := recordAudit(st, "curate_guarded", "", "deny", reasons, map[string]interface{}{"statement": c.Statement}, timestamp); err != nil {
				return nil, err
			}
			continue
		}
		if c.Statement == "" {
			result.Rejected = append(result.Rejected, c.Statement)
			if _, err := recordAudit(st, "curate_guarded", "", "deny", []string{"EMPTY_STATEMENT"}, map[string]interface{}{"statement": c.Statement}, timestamp); err != nil {
				return nil, err
			}
			continue
		}
		hasEvidence := (c.SourceEventID != "" && haveEvent[c.SourceEventID]) || (c.ExternalValid && c.ExternalEventID != "")
		if !hasEvidence {
			result.Rejected = append(result.Rejected, c.Statement)
			if _, err := recordAudit(st, "curate_guarded", "", "deny", []string{"EVIDENCE_MISSING"}, map[string]interface{}{"statement": c.Statement}, timestamp); err != nil {
				return nil, err
			}
			continue
		}
		sourceEventID := c.SourceEventID
		if sourceEventID == "" {
			sourceEventID = c.ExternalEventID
		}
		rule, err := Curate(st, c.Statement, c.Confidence, sourceEventID)
		if err != nil {
			return nil, err
		}
		result.Accepted = append(result.Accepted, *rule)
	}
	if len(result.Accepted) > 0 {
		result.Action = "accepted"
	}
	sort.Strings(result.Rejected)
	return result, nil
}

// TutorDegradedRequest is the normalized input to tutor_degraded.
type TutorDegradedRequest struct {
	LLMAvailable    bool
	IndexAvailable  bool
	ForceDegraded   bool
	MaxSuggestions  int
	Timestamp       string
}

// ParseTutorDegraded normalizes a raw request per §4.12.
func ParseTutorDegraded(req map[string]interface{}, fallbackTimestamp string) (*TutorDegradedRequest, error) {
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &TutorDegradedRequest{
		LLMAvailable:   normalize.BoolOrDefault(req["llmAvailable"], true),
		IndexAvailable: normalize.BoolOrDefault(req["indexAvailable"], true),
		ForceDegraded:  normalize.BoolOrDefault(req["forceDegraded"], false),
		MaxSuggestions: normalize.ClampInt(normalize.IntOrDefault(req["maxSuggestions"], 5), 1, 64),
		Timestamp:      ts,
	}, nil
}

// TutorDegradedResult is the typed response of tutor_degraded.
type TutorDegradedResult struct {
	SessionID   string   `json:"sessionId"`
	Suggestions []string `json:"suggestions"`
	Warnings    []string `json:"warnings"`
}

// TutorDegraded produces deterministic, evidence-backed suggestions when
// capability flags indicate a degraded host: review entries (due first),
// then active misconceptions (by harmful count desc), then curriculum items
// (by rank asc), bounded by maxSuggestions.
func TutorDegraded(st *ProfileState, r *TutorDegradedRequest) (*TutorDegradedResult, error) {
	var warnings []string
	if !r.LLMAvailable {
		warnings = append(warnings, "LLM_UNAVAILABLE")
	}
	if !r.IndexAvailable {
		warnings = append(warnings, "INDEX_UNAVAILABLE")
	}
	sort.Strings(warnings)

	var suggestions []string

	reviewIDs := make([]string, 0, len(st.ReviewEntries))
	for id := range st.ReviewEntries {
		reviewIDs = append(reviewIDs, id)
	}
	sort.Slice(reviewIDs, func(i, j int) bool {
		a, b := st.ReviewEntries[reviewIDs[i]], st.ReviewEntries[reviewIDs[j]]
		aDue, bDue := a.Status == "due", b.Status == "due"
		if aDue != bDue {
			return aDue
		}
		return reviewIDs[i] < reviewIDs[j]
	})
	for _, id := range reviewIDs {
		suggestions = append(suggestions, "review:"+id)
	}

	miscIDs := make([]string, 0, len(st.Misconceptions))
	for id, m := range st.Misconceptions {
		if m.Status == "active" {
			miscIDs = append(miscIDs, id)
		}
	}
	sort.Slice(miscIDs, func(i, j int) bool {
		a, b := st.Misconceptions[miscIDs[i]], st.Misconceptions[miscIDs[j]]
		if a.HarmfulSignalCount != b.HarmfulSignalCount {
			return a.HarmfulSignalCount > b.HarmfulSignalCount
		}
		return miscIDs[i] < miscIDs[j]
	})
	for _, id := range miscIDs {
		suggestions = append(suggestions, "misconception:"+id)
	}

	planIDs := make([]string, 0, len(st.PlanItems))
	for id := range st.PlanItems {
		planIDs = append(planIDs, id)
	}
	sort.Slice(planIDs, func(i, j int) bool {
		a, b := st.PlanItems[planIDs[i]], st.PlanItems[planIDs[j]]
		if a.RecommendationRank != b.RecommendationRank {
			return a.RecommendationRank < b.RecommendationRank
		}
		return planIDs[i] < planIDs[j]
	})
	for _, id := range planIDs {
		suggestions = append(suggestions, "curriculum:"+id)
	}

	if len(suggestions) > r.MaxSuggestions {
		suggestions = suggestions[:r.MaxSuggestions]
	}

	digest, err := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, suggestions, warnings})
	if err != nil {
		return nil, err
	}
	sessionID := canonicalize.MakeID("sess", digest)
	st.DegradedSessions[sessionID] = &DegradedTutorSession{SessionID: sessionID, Suggestions: suggestions, Warnings: warnings}

	return &TutorDegradedResult{SessionID: sessionID, Suggestions: suggestions, Warnings: warnings}, nil
}
