package dispatch

import (
	"encoding/json"
	"sort"

	"github.com/Mindburn-Labs/helm-pm/pkg/memory"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
)

// handlerFunc is the uniform shape every operation adapter implements:
// parse the raw request, run the memory-package operation, and return the
// fields to merge into the envelope plus the action to report.
type handlerFunc func(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error)

// toFields round-trips v through JSON to produce a plain map[string]interface{}
// suitable both for envelope merging and for the noop-replay cache, where an
// independent copy (not an aliased struct pointer) is required.
func toFields(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var handlers = map[string]handlerFunc{
	"ingest":                     handleIngest,
	"context":                    handleContext,
	"reflect":                    handleReflect,
	"validate":                   handleValidate,
	"curate":                     handleCurate,
	"curate_guarded":             handleCurateGuarded,
	"learner_profile_update":     handleLearnerProfileUpdate,
	"identity_graph_update":      handleIdentityGraphUpdate,
	"misconception_update":       handleMisconceptionUpdate,
	"pain_signal_ingest":         handlePainSignalIngest,
	"failure_signal_ingest":      handleFailureSignalIngest,
	"curriculum_plan_update":     handleCurriculumPlanUpdate,
	"curriculum_recommendation":  handleCurriculumRecommendation,
	"review_schedule_update":     handleReviewScheduleUpdate,
	"review_schedule_clock":      handleReviewScheduleClock,
	"review_set_rebalance":       handleReviewSetRebalance,
	"policy_decision_update":     handlePolicyDecisionUpdate,
	"recall_authorization":       handleRecallAuthorization,
	"tutor_degraded":             handleTutorDegraded,
	"policy_audit_export":        handlePolicyAuditExport,
	"feedback":                   handleFeedback,
	"outcome":                    handleOutcome,
	"audit":                      handleAudit,
	"export":                     handleExport,
	"doctor":                     handleDoctor,
}

func handleIngest(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	rawEvents, _ := req["events"].([]interface{})
	result, err := memory.Ingest(st, rawEvents)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	action := "updated"
	if result.Accepted == 0 {
		action = "noop"
	}
	return fields, action, nil
}

func handleContext(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	query := normalize.StringOrDefault(req["query"], "")
	limit := normalize.ClampInt(normalize.IntOrDefault(req["misconceptionChronologyLimit"], 0), 0, 256)
	result := memory.Context(st, query, limit)
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func handleReflect(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	lastN := normalize.ClampInt(normalize.IntOrDefault(req["lastN"], 20), 1, 512)
	result, err := memory.Reflect(st, lastN)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func handleValidate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	ids, err := normalize.GuardedStringArray(req["eventIds"], "eventIds", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, "", err
	}
	result := memory.Validate(st, ids)
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func handleCurate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	statement, ok, err := normalize.BoundedString(req["statement"], "statement", 2048)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "statement is required")
	}
	confidence := normalize.ClampUnit(req["confidence"], 0.5)
	sourceEventID := normalize.StringOrDefault(req["sourceEventId"], "")
	rule, err := memory.Curate(st, statement, confidence, sourceEventID)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(rule)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handleCurateGuarded(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	candidates, err := memory.ParseCurateGuarded(req)
	if err != nil {
		return nil, "", err
	}
	result, err := memory.CurateGuarded(st, candidates, ts)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, result.Action, nil
}

func handleLearnerProfileUpdate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseLearnerProfileUpdate(req, ts)
	if err != nil {
		return nil, "", err
	}
	profile, err := memory.LearnerProfileUpdate(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(profile)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handleIdentityGraphUpdate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseIdentityGraphUpdate(req)
	if err != nil {
		return nil, "", err
	}
	edge, err := memory.IdentityGraphUpdate(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(edge)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handleMisconceptionUpdate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseMisconceptionUpdate(req, ts)
	if err != nil {
		return nil, "", err
	}
	result, err := memory.MisconceptionUpdate(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, result.Action, nil
}

func handlePainSignalIngest(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParsePainSignalIngest(req, ts)
	if err != nil {
		return nil, "", err
	}
	result, err := memory.PainSignalIngest(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, result.Action, nil
}

func handleFailureSignalIngest(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseFailureSignalIngest(req, ts)
	if err != nil {
		return nil, "", err
	}
	result, err := memory.FailureSignalIngest(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, result.Action, nil
}

func handleCurriculumPlanUpdate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseCurriculumPlanUpdate(req, ts)
	if err != nil {
		return nil, "", err
	}
	item, action, err := memory.CurriculumPlanUpdate(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(item)
	if err != nil {
		return nil, "", err
	}
	return fields, action, nil
}

// aggregateProfileTags unions the interest tags of every learner profile in
// st, used as the curriculum ranker's affinity signal when a request doesn't
// supply an explicit profileTags override.
func aggregateProfileTags(st *memory.ProfileState) []string {
	var all []string
	for _, p := range st.LearnerProfiles {
		all = append(all, p.InterestTags...)
	}
	return normalize.SortedUnique(all)
}

func handleCurriculumRecommendation(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseCurriculumRecommendation(req, ts)
	if err != nil {
		return nil, "", err
	}
	tags, err := normalize.GuardedStringArray(req["profileTags"], "profileTags", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, "", err
	}
	if len(tags) == 0 {
		tags = aggregateProfileTags(st)
	}
	result, err := memory.CurriculumRecommendation(st, parsed, tags)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func handleReviewScheduleUpdate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseReviewScheduleUpdate(req, ts)
	if err != nil {
		return nil, "", err
	}
	entry, err := memory.ReviewScheduleUpdate(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(entry)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handleReviewScheduleClock(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseReviewScheduleClock(req, ts)
	if err != nil {
		return nil, "", err
	}
	result, err := memory.ReviewScheduleClock(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	action := "updated"
	if !result.ConsolidationTriggered {
		action = "ticked"
	}
	return fields, action, nil
}

func handleReviewSetRebalance(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseReviewSetRebalance(req, ts, st.ArchivalTiers.ActiveLimit)
	if err != nil {
		return nil, "", err
	}
	tiers := memory.ReviewSetRebalance(st, parsed)
	fields, err := toFields(tiers)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handlePolicyDecisionUpdate(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParsePolicyDecisionUpdate(req)
	if err != nil {
		return nil, "", err
	}
	decision, err := memory.PolicyDecisionUpdate(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(decision)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handleRecallAuthorization(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseRecallAuthorization(req, ts)
	if err != nil {
		return nil, "", err
	}
	policy, err := memory.RecallAuthorization(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(policy)
	if err != nil {
		return nil, "", err
	}
	action := "updated"
	if parsed.Mode == "check" {
		action = "read"
	}
	return fields, action, nil
}

func handleTutorDegraded(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed, err := memory.ParseTutorDegraded(req, ts)
	if err != nil {
		return nil, "", err
	}
	result, err := memory.TutorDegraded(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handlePolicyAuditExport(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	parsed := memory.ParsePolicyAuditExport(req)
	result, err := memory.PolicyAuditExport(st, parsed)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func handleFeedback(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	result, err := memory.Feedback(st, req, ts)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handleOutcome(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	result, err := memory.Outcome(st, req, ts)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "updated", nil
}

func handleAudit(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	result := memory.Audit(st)
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func handleExport(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	result, err := memory.Export(st)
	if err != nil {
		return nil, "", err
	}
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func handleDoctor(st *memory.ProfileState, req map[string]interface{}, ts string) (map[string]interface{}, string, error) {
	result := memory.Doctor(st)
	fields, err := toFields(result)
	if err != nil {
		return nil, "", err
	}
	return fields, "read", nil
}

func sortedOperationNames() []string {
	out := make([]string, 0, len(handlers))
	for name := range handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
