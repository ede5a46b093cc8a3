package memory

import "github.com/Mindburn-Labs/helm-pm/pkg/ledger"

// recordAudit appends a policy-audit-trail entry (capped ring, append-only)
// for the given operation/entity/outcome.
func recordAudit(st *ProfileState, operation, entityID, outcome string, reasonCodes []string, details map[string]interface{}, timestamp string) (ledger.Entry, error) {
	data := map[string]interface{}{
		"operation":   operation,
		"entityId":    entityID,
		"outcome":     outcome,
		"reasonCodes": reasonCodes,
		"details":     details,
	}
	return st.PolicyAuditTrail.Append("policy_audit_event", timestamp, data)
}
