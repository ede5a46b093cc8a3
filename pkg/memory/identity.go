package memory

import (
	"sort"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
)

// LearnerProfileUpdateRequest is the normalized input to learner_profile_update.
type LearnerProfileUpdateRequest struct {
	LearnerID          string
	CanonicalIdentity  string
	IdentityRefs       []IdentityRef
	Goals              []string
	InterestTags       []string
	EvidencePointers   []normalize.EvidencePointer
	PolicyException    *normalize.PolicyException
	SourceSignal       string
	ProvidedAttributes map[string]interface{}
	Timestamp          string
}

// ParseLearnerProfileUpdate normalizes a raw request per §4.9.
func ParseLearnerProfileUpdate(req map[string]interface{}, fallbackTimestamp string) (*LearnerProfileUpdateRequest, error) {
	learnerID, ok, err := normalize.BoundedString(req["learnerId"], "learnerId", 256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "learnerId is required")
	}
	canonicalIdentity := normalize.StringOrDefault(req["canonicalIdentity"], learnerID)

	var refs []IdentityRef
	primarySeen := false
	if raw, ok := req["identityRefs"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ns := normalize.StringOrDefault(m["namespace"], "")
			val := normalize.StringOrDefault(m["value"], "")
			if ns == "" || val == "" {
				continue
			}
			primary := normalize.BoolOrDefault(m["primary"], false) && !primarySeen
			if primary {
				primarySeen = true
			}
			refs = append(refs, IdentityRef{Namespace: ns, Value: val, Primary: primary})
		}
	}
	if len(refs) == 0 {
		refs = []IdentityRef{{Namespace: "learner", Value: learnerID, Primary: true}}
	} else if !primarySeen {
		refs[0].Primary = true
	}
	if len(refs) > maxIdentityRefs {
		refs = refs[:maxIdentityRefs]
	}

	goals, err := normalize.GuardedStringArray(req["goals"], "goals", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}
	tags, err := normalize.GuardedStringArray(req["interestTags"], "interestTags", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}

	var rawEvidence []interface{}
	if raw, ok := req["evidencePointers"].([]interface{}); ok {
		rawEvidence = raw
	}
	evidence, err := normalize.EvidencePointers(rawEvidence)
	if err != nil {
		return nil, err
	}

	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	exception, _, err := normalize.ParsePolicyException(req["policyException"], ts)
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 && exception == nil {
		return nil, normalize.EvidenceMissing("learner_profile_update")
	}

	attrs, _ := req["providedAttributes"].(map[string]interface{})

	return &LearnerProfileUpdateRequest{
		LearnerID: learnerID, CanonicalIdentity: canonicalIdentity, IdentityRefs: refs,
		Goals: goals, InterestTags: tags, EvidencePointers: evidence, PolicyException: exception,
		SourceSignal: normalize.StringOrDefault(req["sourceSignal"], ""), ProvidedAttributes: attrs, Timestamp: ts,
	}, nil
}

// LearnerProfileUpdate merges a learner profile per §4.9's lineage rules.
func LearnerProfileUpdate(st *ProfileState, r *LearnerProfileUpdateRequest) (*LearnerProfile, error) {
	_, digest, err := canonicalize.Fingerprint("lp", []interface{}{st.StoreID, st.Profile, r.LearnerID, r.CanonicalIdentity})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("lp", digest)

	p, found := st.LearnerProfiles[id]
	beforeDigest := ""
	if !found {
		p = &LearnerProfile{
			ProfileRecordID: id, Status: "active", Version: 0, Confidence: 0.5,
			ProvidedAttributes: map[string]interface{}{}, Lineage: map[string][]IdentityLineageRevision{},
		}
	} else {
		d, _ := canonicalize.CanonicalHash(p)
		beforeDigest = d
	}

	p.IdentityRefs = r.IdentityRefs
	p.Goals = normalize.SortedUnique(append(append([]string{}, p.Goals...), r.Goals...))
	p.InterestTags = normalize.SortedUnique(append(append([]string{}, p.InterestTags...), r.InterestTags...))

	evidenceViews := make([]EvidencePointerView, 0, len(r.EvidencePointers))
	for _, e := range r.EvidencePointers {
		evidenceViews = append(evidenceViews, EvidencePointerView(e))
	}
	p.EvidencePointers = mergeEvidenceViews(p.EvidencePointers, evidenceViews)

	if r.PolicyException != nil {
		view := PolicyExceptionView(*r.PolicyException)
		p.PolicyException = &view
	}
	if r.SourceSignal != "" {
		p.SourceSignals = normalize.SortedUnique(append(append([]string{}, p.SourceSignals...), r.SourceSignal))
	}

	for attr, val := range r.ProvidedAttributes {
		valueDigest, _ := canonicalize.CanonicalHash(val)
		revision := IdentityLineageRevision{Attribute: attr, Timestamp: r.Timestamp, ValueDigest: valueDigest, Value: val}
		revDigest, _ := canonicalize.CanonicalHash(revision)
		revision.RevisionID = canonicalize.MakeID("rev", revDigest)
		p.Lineage[attr] = append(p.Lineage[attr], revision)

		current := resolveCurrentLineage(p.Lineage[attr])
		p.ProvidedAttributes[attr] = current.Value
	}

	afterDigest, err := canonicalize.CanonicalHash(p)
	if err != nil {
		return nil, err
	}
	if !found || beforeDigest != afterDigest {
		p.Version++
	}
	st.LearnerProfiles[id] = p
	return p, nil
}

// resolveCurrentLineage picks the visible value for an attribute's lineage by
// the (timestamp, valueDigest, revisionId) lexicographic triple.
func resolveCurrentLineage(revisions []IdentityLineageRevision) IdentityLineageRevision {
	best := revisions[0]
	for _, r := range revisions[1:] {
		if tripleLess(best, r) {
			best = r
		}
	}
	return best
}

func tripleLess(a, b IdentityLineageRevision) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.ValueDigest != b.ValueDigest {
		return a.ValueDigest < b.ValueDigest
	}
	return a.RevisionID < b.RevisionID
}

func mergeEvidenceViews(existing, incoming []EvidencePointerView) []EvidencePointerView {
	byKey := map[string]*EvidencePointerView{}
	order := []string{}
	for _, e := range existing {
		key := e.Kind + "\x00" + e.Source + "\x00" + e.PointerID
		cp := e
		byKey[key] = &cp
		order = append(order, key)
	}
	for _, e := range incoming {
		key := e.Kind + "\x00" + e.Source + "\x00" + e.PointerID
		if cur, ok := byKey[key]; ok {
			if e.Confidence > cur.Confidence {
				cur.Confidence = e.Confidence
			}
			if e.ObservedAt > cur.ObservedAt {
				cur.ObservedAt = e.ObservedAt
			}
			merged := map[string]interface{}{}
			for k, v := range cur.Metadata {
				merged[k] = v
			}
			for k, v := range e.Metadata {
				merged[k] = v
			}
			if len(merged) > 0 {
				cur.Metadata = merged
			}
			continue
		}
		cp := e
		byKey[key] = &cp
		order = append(order, key)
	}
	out := make([]EvidencePointerView, 0, len(order))
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
	return out
}

var allowedEdgeRelationsDefault = "alias_of"

// IdentityGraphUpdateRequest is the normalized input to identity_graph_update.
type IdentityGraphUpdateRequest struct {
	Relation   string
	FromRef    string
	ToRef      string
	Evidence   []normalize.EvidencePointer
	Confidence float64
}

// ParseIdentityGraphUpdate normalizes a raw request per §4.9.
func ParseIdentityGraphUpdate(req map[string]interface{}) (*IdentityGraphUpdateRequest, error) {
	from := normalize.StringOrDefault(req["fromRef"], "")
	to := normalize.StringOrDefault(req["toRef"], "")
	if from == "" || to == "" || from == to {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "identity edge endpoints must be distinct and non-empty")
	}
	if fromLower, toLower := normalizeUnknown(from), normalizeUnknown(to); fromLower || toLower {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "identity edge endpoints must not be \"unknown\"")
	}
	relation := normalize.StringOrDefault(req["relation"], allowedEdgeRelationsDefault)
	if !allowedEdgeRelations[relation] {
		relation = allowedEdgeRelationsDefault
	}
	var rawEvidence []interface{}
	if raw, ok := req["evidence"].([]interface{}); ok {
		rawEvidence = raw
	}
	evidence, err := normalize.EvidencePointers(rawEvidence)
	if err != nil {
		return nil, err
	}
	confidence := normalize.ClampUnit(req["confidence"], 0.5)
	return &IdentityGraphUpdateRequest{Relation: relation, FromRef: from, ToRef: to, Evidence: evidence, Confidence: confidence}, nil
}

func normalizeUnknown(s string) bool { return s == "unknown" }

// IdentityGraphUpdate upserts an identity edge; endpoints are immutable per edge_id.
func IdentityGraphUpdate(st *ProfileState, r *IdentityGraphUpdateRequest) (*IdentityEdge, error) {
	_, digest, err := canonicalize.Fingerprint("edge", []interface{}{r.FromRef, r.ToRef, r.Relation})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("edge", digest)

	evidenceViews := make([]EvidencePointerView, 0, len(r.Evidence))
	for _, e := range r.Evidence {
		evidenceViews = append(evidenceViews, EvidencePointerView(e))
	}

	existing, found := st.IdentityEdges[id]
	if found {
		evidenceViews = mergeEvidenceViews(existing.Evidence, evidenceViews)
		if r.Confidence > existing.Confidence {
			existing.Confidence = r.Confidence
		}
		existing.Evidence = evidenceViews
		st.IdentityEdges[id] = existing
		return &existing, nil
	}

	edge := IdentityEdge{EdgeID: id, Relation: r.Relation, FromRef: r.FromRef, ToRef: r.ToRef, Evidence: evidenceViews, Confidence: r.Confidence}
	st.IdentityEdges[id] = edge
	return &edge, nil
}
