package normalize

import "sort"

// EvidencePointer asserts a fact carried on a record. Kind defaults to
// "event" and source defaults to "unspecified" when the request omits them.
type EvidencePointer struct {
	PointerID   string                 `json:"pointerId"`
	Kind        string                 `json:"kind"`
	Source      string                 `json:"source"`
	Confidence  float64                `json:"confidence"`
	ObservedAt  string                 `json:"observedAt,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

var evidenceKinds = map[string]bool{
	"event": true, "episode": true, "signal": true, "artifact": true, "policy": true,
}

// EvidencePointers normalizes a raw request array into deduplicated,
// sorted EvidencePointer values. Entries sharing (kind,source,pointerId)
// merge by max confidence, later observedAt, and union of metadata
// (shallow override — see DESIGN.md Open Question (a)).
func EvidencePointers(values []interface{}) ([]EvidencePointer, error) {
	byKey := make(map[string]*EvidencePointer)
	order := make([]string, 0, len(values))
	for _, raw := range values {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, Violation("VALIDATION_CONTRACT_VIOLATION", "evidence pointer must be an object")
		}
		pointerID, _, err := BoundedString(m["pointerId"], "evidence.pointerId", 256)
		if err != nil {
			return nil, err
		}
		kind := StringOrDefault(m["kind"], "event")
		if !evidenceKinds[kind] {
			kind = "event"
		}
		source, _, err := BoundedString(m["source"], "evidence.source", 64)
		if err != nil {
			return nil, err
		}
		if source == "" {
			source = "unspecified"
		}
		confidence := ClampUnit(m["confidence"], 0)
		observedAt, _ := m["observedAt"].(string)

		key := kind + "\x00" + source + "\x00" + pointerID
		if existing, found := byKey[key]; found {
			if confidence > existing.Confidence {
				existing.Confidence = confidence
			}
			if observedAt > existing.ObservedAt {
				existing.ObservedAt = observedAt
			}
			existing.Metadata = mergeMetadata(existing.Metadata, asMetadata(m["metadata"]))
			continue
		}
		ptr := &EvidencePointer{
			PointerID:  pointerID,
			Kind:       kind,
			Source:     source,
			Confidence: confidence,
			ObservedAt: observedAt,
			Metadata:   asMetadata(m["metadata"]),
		}
		byKey[key] = ptr
		order = append(order, key)
	}

	out := make([]EvidencePointer, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].PointerID < out[j].PointerID
	})
	return out, nil
}

func asMetadata(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return m
}

// mergeMetadata performs a shallow override: keys in b replace keys in a.
// This resolves the open tie-break question for evidence pointers that
// differ only in metadata (see spec design notes).
func mergeMetadata(a, b map[string]interface{}) map[string]interface{} {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// PolicyException is the fixed-shape record every boolean/string/object
// exception form normalizes to.
type PolicyException struct {
	Code       string                 `json:"code"`
	Reason     string                 `json:"reason"`
	ApprovedBy string                 `json:"approvedBy"`
	Reference  string                 `json:"reference,omitempty"`
	Timestamp  string                 `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ParsePolicyException accepts bool, string, or object forms and folds them
// into a fixed-shape PolicyException. Returns (nil, false) when v is absent
// or represents "no exception" (false / empty string).
func ParsePolicyException(v interface{}, fallbackTimestamp string) (*PolicyException, bool, error) {
	switch t := v.(type) {
	case nil:
		return nil, false, nil
	case bool:
		if !t {
			return nil, false, nil
		}
		return &PolicyException{Code: "manual_override", Reason: "operator override", ApprovedBy: "unspecified", Timestamp: fallbackTimestamp}, true, nil
	case string:
		if t == "" {
			return nil, false, nil
		}
		return &PolicyException{Code: "manual_override", Reason: t, ApprovedBy: "unspecified", Timestamp: fallbackTimestamp}, true, nil
	case map[string]interface{}:
		ts, err := ISOTimestamp(t["timestamp"], "policyException.timestamp", fallbackTimestamp)
		if err != nil {
			return nil, false, err
		}
		return &PolicyException{
			Code:       StringOrDefault(t["code"], "manual_override"),
			Reason:     StringOrDefault(t["reason"], "unspecified"),
			ApprovedBy: StringOrDefault(t["approvedBy"], "unspecified"),
			Reference:  StringOrDefault(t["reference"], ""),
			Timestamp:  ts,
			Metadata:   asMetadata(t["metadata"]),
		}, true, nil
	default:
		return nil, false, Violation("VALIDATION_CONTRACT_VIOLATION", "policyException has an unsupported shape")
	}
}

// AgentSignal is the single normalized shape that "codex" and "claude"
// heterogeneous field aliases fold into.
type AgentSignal struct {
	Agent      string   `json:"agent"`
	Tags       []string `json:"tags"`
	Timestamp  string   `json:"timestamp"`
	Confidence float64  `json:"confidence"`
}

// ParseAgentSignal fans in agent-specific aliases (codex uses "labels"/"ts",
// claude uses "tags"/"observedAt") into one normalized AgentSignal per agent.
// Duplicate calls for the same agent merge: tags union, later timestamp wins,
// later (non-zero) confidence wins.
func ParseAgentSignal(agent string, v map[string]interface{}, existing *AgentSignal) *AgentSignal {
	var tags []string
	if raw, ok := v["tags"].([]interface{}); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	if raw, ok := v["labels"].([]interface{}); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	ts := StringOrDefault(v["observedAt"], StringOrDefault(v["ts"], ""))
	confidence := ClampUnit(v["confidence"], 0)

	if existing == nil {
		return &AgentSignal{Agent: agent, Tags: SortedUnique(tags), Timestamp: ts, Confidence: confidence}
	}
	merged := SortedUnique(append(append([]string{}, existing.Tags...), tags...))
	if ts > existing.Timestamp {
		existing.Timestamp = ts
	}
	if confidence > 0 {
		existing.Confidence = confidence
	}
	existing.Tags = merged
	return existing
}
