package dispatch

import "strings"

// canonicalOperations folds every alias in §6's operation set to its
// canonical handler name.
var canonicalOperations = map[string]string{
	"ingest":                            "ingest",
	"context":                           "context",
	"reflect":                           "reflect",
	"validate":                          "validate",
	"curate":                            "curate",
	"curate_guarded":                    "curate_guarded",
	"guarded_curate":                    "curate_guarded",
	"secure_curate":                     "curate_guarded",
	"learner_profile_update":            "learner_profile_update",
	"identity_graph_update":             "identity_graph_update",
	"misconception_update":              "misconception_update",
	"pain_signal_ingest":                "pain_signal_ingest",
	"explicit_pain_signal_ingest":       "pain_signal_ingest",
	"failure_signal_ingest":             "failure_signal_ingest",
	"implicit_failure_signal_ingest":    "failure_signal_ingest",
	"curriculum_plan_update":            "curriculum_plan_update",
	"curriculum_recommendation":         "curriculum_recommendation",
	"curriculum_recommend":              "curriculum_recommendation",
	"review_schedule_update":            "review_schedule_update",
	"review_schedule_clock":             "review_schedule_clock",
	"review_set_rebalance":              "review_set_rebalance",
	"review_archive_rebalance":          "review_set_rebalance",
	"policy_decision_update":            "policy_decision_update",
	"recall_authorization":              "recall_authorization",
	"recall_authorize":                  "recall_authorization",
	"tutor_degraded":                    "tutor_degraded",
	"degraded_tutor":                    "tutor_degraded",
	"policy_audit_export":               "policy_audit_export",
	"feedback":                          "feedback",
	"outcome":                           "outcome",
	"audit":                             "audit",
	"export":                            "export",
	"doctor":                            "doctor",
}

// readOnlyOperations are the operations the persistence gate never locks for.
var readOnlyOperations = map[string]bool{
	"context": true, "validate": true, "audit": true, "export": true, "doctor": true, "policy_audit_export": true,
}

// FoldOperation trims, lowercases, and resolves aliases. ok is false for an
// unrecognized operation.
func FoldOperation(raw string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	canonical, ok := canonicalOperations[normalized]
	return canonical, ok
}

// IsReadOnly reports whether operation (already folded) requires no
// exclusive lock in the persistence gate.
func IsReadOnly(operation string) bool {
	return readOnlyOperations[operation]
}
