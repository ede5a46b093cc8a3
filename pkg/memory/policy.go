package memory

import (
	"sort"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/recall"
)

// crossSpaceGate evaluates the fixed CEL allowlist-membership expression.
// The expression is static and known to compile, so a construction failure
// here is an unrecoverable program bug, not a runtime condition to absorb.
var crossSpaceGate = func() *recall.AllowlistGate {
	g, err := recall.NewAllowlistGate()
	if err != nil {
		panic(err)
	}
	return g
}()

var policyOutcomes = map[string]bool{"allow": true, "review": true, "deny": true}

// PolicyDecisionUpdateRequest is the normalized input to policy_decision_update.
type PolicyDecisionUpdateRequest struct {
	PolicyKey          string
	Action             string
	Surface            string
	Outcome            string
	ReasonCodes        []string
	ProvenanceEventIDs []string
}

// ParsePolicyDecisionUpdate normalizes a raw request per §4.7.
func ParsePolicyDecisionUpdate(req map[string]interface{}) (*PolicyDecisionUpdateRequest, error) {
	policyKey, ok, err := normalize.BoundedString(req["policyKey"], "policyKey", 256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "policyKey is required")
	}
	prov, err := normalize.GuardedStringArray(req["provenanceEventIds"], "provenanceEventIds", normalize.GuardedStringArrayOpts{
		Required: true, RequiredError: "policy_decision_update requires at least one provenance event id",
	})
	if err != nil {
		return nil, err
	}
	if len(prov) == 0 {
		return nil, normalize.EvidenceMissing("policy_decision_update")
	}
	outcome := normalize.StringOrDefault(req["outcome"], "allow")
	if !policyOutcomes[outcome] {
		outcome = "allow"
	}
	reasons, err := normalize.GuardedStringArray(req["reasonCodes"], "reasonCodes", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}
	if outcome == "deny" && len(reasons) == 0 {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "deny outcome requires at least one reason code")
	}
	return &PolicyDecisionUpdateRequest{
		PolicyKey:          policyKey,
		Action:             normalize.StringOrDefault(req["action"], "unspecified"),
		Surface:            normalize.StringOrDefault(req["surface"], "unspecified"),
		Outcome:            outcome,
		ReasonCodes:        reasons,
		ProvenanceEventIDs: prov,
	}, nil
}

// PolicyDecisionUpdate upserts a policy decision, raising outcome severity on merge.
func PolicyDecisionUpdate(st *ProfileState, r *PolicyDecisionUpdateRequest) (*PolicyDecision, error) {
	_, digest, err := canonicalize.Fingerprint("pd", []interface{}{st.StoreID, st.Profile, r.PolicyKey, r.Surface})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("pd", digest)

	existing, found := st.PolicyDecisions[id]
	if !found {
		existing = &PolicyDecision{DecisionID: id, PolicyKey: r.PolicyKey, Surface: r.Surface}
	}
	existing.Action = r.Action
	if !found || outcomeSeverity[r.Outcome] > outcomeSeverity[existing.Outcome] {
		existing.Outcome = r.Outcome
	}
	existing.ReasonCodes = normalize.SortedUnique(append(append([]string{}, existing.ReasonCodes...), r.ReasonCodes...))
	existing.ProvenanceEventIDs = normalize.SortedUnique(append(append([]string{}, existing.ProvenanceEventIDs...), r.ProvenanceEventIDs...))
	st.PolicyDecisions[id] = existing
	return existing, nil
}

// PolicyDenyError is raised by recall_authorization (and any cross-space
// operation) when the requester's store is not on the allowlist. It always
// carries the audit-trail entry id created at deny time.
type PolicyDenyError struct {
	PolicyAuditEventID string
	Message            string
}

func (e *PolicyDenyError) Error() string { return "PERSONALIZATION_POLICY_DENY: " + e.Message }

// AuthorizeCrossSpace enforces the fail-closed cross-space allowlist gate
// used by recall_authorization and by every context/recall operation that
// carries a requesterStoreId. On denial it records a policy-audit-trail
// entry and returns *PolicyDenyError.
func AuthorizeCrossSpace(st *ProfileState, requesterStoreID string, failClosed bool, timestamp string) error {
	if requesterStoreID == "" || requesterStoreID == st.StoreID {
		return nil
	}
	if crossSpaceGate.Allowed(requesterStoreID, st.Allowlist.AllowedStoreIDs) {
		return nil
	}
	if !failClosed {
		return nil
	}
	entry, err := recordAudit(st, "recall_authorization", requesterStoreID, "deny",
		[]string{"CROSS_SPACE_NOT_ALLOWLISTED"}, map[string]interface{}{"requesterStoreId": requesterStoreID}, timestamp)
	if err != nil {
		return err
	}
	return &PolicyDenyError{PolicyAuditEventID: entry.ID, Message: "store " + requesterStoreID + " is not in the allowlist"}
}

// RecallAuthorizationRequest is the normalized input to recall_authorization.
type RecallAuthorizationRequest struct {
	Mode             string
	RequesterStoreID string
	AllowStoreIDs    []string
	RevokeStoreIDs   []string
	FailClosed       bool
	Timestamp        string
}

// ParseRecallAuthorization normalizes a raw request per §4.7.
func ParseRecallAuthorization(req map[string]interface{}, fallbackTimestamp string) (*RecallAuthorizationRequest, error) {
	mode := normalize.StringOrDefault(req["mode"], "check")
	if mode != "check" && mode != "grant" && mode != "revoke" && mode != "replace" {
		mode = "check"
	}
	requester, _, err := normalize.BoundedString(req["requesterStoreId"], "requesterStoreId", 256)
	if err != nil {
		return nil, err
	}
	if mode == "check" && requester == "" {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "recall_authorization check requires requesterStoreId")
	}
	allow, err := normalize.GuardedStringArray(req["allowStoreIds"], "allowStoreIds", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}
	revoke, err := normalize.GuardedStringArray(req["revokeStoreIds"], "revokeStoreIds", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &RecallAuthorizationRequest{
		Mode: mode, RequesterStoreID: requester, AllowStoreIDs: allow, RevokeStoreIDs: revoke,
		FailClosed: normalize.BoolOrDefault(req["failClosed"], true), Timestamp: ts,
	}, nil
}

// RecallAuthorization runs the allowlist mutation/check from §4.7.
func RecallAuthorization(st *ProfileState, r *RecallAuthorizationRequest) (*RecallAllowlistPolicy, error) {
	switch r.Mode {
	case "grant":
		st.Allowlist.AllowedStoreIDs = normalize.SortedUnique(append(append([]string{}, st.Allowlist.AllowedStoreIDs...), r.AllowStoreIDs...))
	case "replace":
		st.Allowlist.AllowedStoreIDs = normalize.SortedUnique(append([]string{st.StoreID}, r.AllowStoreIDs...))
	case "revoke":
		kept := make([]string, 0, len(st.Allowlist.AllowedStoreIDs))
		revoked := make(map[string]bool, len(r.RevokeStoreIDs))
		for _, id := range r.RevokeStoreIDs {
			revoked[id] = true
		}
		for _, id := range st.Allowlist.AllowedStoreIDs {
			if id == st.StoreID || !revoked[id] {
				kept = append(kept, id)
			}
		}
		sort.Strings(kept)
		st.Allowlist.AllowedStoreIDs = kept
	case "check":
		if err := AuthorizeCrossSpace(st, r.RequesterStoreID, r.FailClosed, r.Timestamp); err != nil {
			return nil, err
		}
	}
	digest, err := canonicalize.CanonicalHash(st.Allowlist.AllowedStoreIDs)
	if err != nil {
		return nil, err
	}
	st.Allowlist.PolicyID = canonicalize.MakeID("rap", digest)
	return &st.Allowlist, nil
}

// PolicyAuditExportRequest is the normalized input to policy_audit_export.
type PolicyAuditExportRequest struct {
	Limit int
}

// ParsePolicyAuditExport normalizes a raw request per §4.7.
func ParsePolicyAuditExport(req map[string]interface{}) *PolicyAuditExportRequest {
	limit := normalize.ClampInt(normalize.IntOrDefault(req["limit"], 100), 1, policyAuditTrailCap)
	return &PolicyAuditExportRequest{Limit: limit}
}

// PolicyAuditExportResult is the typed response of policy_audit_export.
type PolicyAuditExportResult struct {
	ExportID           string                   `json:"exportId"`
	PayloadDigest      string                   `json:"payloadDigest"`
	Decisions          []*PolicyDecision        `json:"decisions"`
	AuditTrail         []map[string]interface{} `json:"auditTrail"`
	IncidentChecklist  []IncidentCheck          `json:"incidentChecklist"`
}

// IncidentCheck is one deterministic check in the policy_audit_export payload.
type IncidentCheck struct {
	Check  string `json:"check"`
	Passed bool   `json:"passed"`
}

// PolicyAuditExport returns the newest ≤limit decisions and audit entries
// plus the fixed 4-check incident checklist from §4.7.
func PolicyAuditExport(st *ProfileState, r *PolicyAuditExportRequest) (*PolicyAuditExportResult, error) {
	decisionIDs := make([]string, 0, len(st.PolicyDecisions))
	for id := range st.PolicyDecisions {
		decisionIDs = append(decisionIDs, id)
	}
	sort.Strings(decisionIDs)
	var decisions []*PolicyDecision
	for _, id := range decisionIDs {
		decisions = append(decisions, st.PolicyDecisions[id])
	}
	if len(decisions) > r.Limit {
		decisions = decisions[len(decisions)-r.Limit:]
	}

	var trail []map[string]interface{}
	ordered := st.PolicyAuditTrail.Ordered()
	if len(ordered) > r.Limit {
		ordered = ordered[len(ordered)-r.Limit:]
	}
	for _, e := range ordered {
		trail = append(trail, e.Data)
	}

	denyCount, unreasonedDenies := 0, 0
	for _, d := range decisions {
		if d.Outcome == "deny" {
			denyCount++
			if len(d.ReasonCodes) == 0 {
				unreasonedDenies++
			}
		}
	}
	checklist := []IncidentCheck{
		{Check: "allowlist_contains_self", Passed: containsString(st.Allowlist.AllowedStoreIDs, st.StoreID)},
		{Check: "audit_trail_within_cap", Passed: st.PolicyAuditTrail.Len() <= policyAuditTrailCap},
		{Check: "no_unreasoned_denies", Passed: unreasonedDenies == 0},
		{Check: "deny_count_bounded", Passed: denyCount <= len(decisions)},
	}

	digest, err := canonicalize.CanonicalHash(map[string]interface{}{"decisions": decisions, "auditTrail": trail})
	if err != nil {
		return nil, err
	}
	exportID := canonicalize.MakeID("exp", digest)

	return &PolicyAuditExportResult{
		ExportID: exportID, PayloadDigest: digest, Decisions: decisions,
		AuditTrail: trail, IncidentChecklist: checklist,
	}, nil
}

func containsString(arr []string, s string) bool {
	for _, v := range arr {
		if v == s {
			return true
		}
	}
	return false
}
