package memory

import (
	"sort"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
	"gopkg.in/yaml.v3"
)

// IngestResult is the typed response of ingest.
type IngestResult struct {
	Accepted      int      `json:"accepted"`
	Duplicates    int      `json:"duplicates"`
	EventIDs      []string `json:"eventIds"`
	LedgerDigest  string   `json:"ledgerDigest"`
}

// Ingest dedupes incoming events by content digest within (store, profile).
func Ingest(st *ProfileState, rawEvents []interface{}) (*IngestResult, error) {
	seen := make(map[string]bool, len(st.Events))
	for _, e := range st.Events {
		seen[e.Digest] = true
	}

	accepted, duplicates := 0, 0
	var acceptedIDs []string
	for _, raw := range rawEvents {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "event must be an object")
		}
		eventType := normalize.StringOrDefault(m["type"], "generic")
		source := normalize.StringOrDefault(m["source"], "unspecified")
		content, _ := m["content"].(map[string]interface{})
		ordinal := len(st.Events)

		// The digest covers only the submitted event (its own ordinal
		// defaults to 0), so a resubmitted event matches its earlier digest;
		// the stored Ordinal is the event's insertion position.
		digest, err := canonicalize.CanonicalHash(map[string]interface{}{
			"source": source, "type": eventType, "content": content, "ordinal": normalize.IntOrDefault(m["ordinal"], 0),
		})
		if err != nil {
			return nil, err
		}
		if seen[digest] {
			duplicates++
			continue
		}
		seen[digest] = true
		id := canonicalize.MakeID("evt", digest)
		st.Events = append(st.Events, Event{EventID: id, Type: eventType, Source: source, Content: content, Digest: digest, Ordinal: ordinal})
		acceptedIDs = append(acceptedIDs, id)
		accepted++
	}

	ledgerDigest, err := canonicalize.CanonicalHash(eventDigests(st.Events))
	if err != nil {
		return nil, err
	}
	return &IngestResult{Accepted: accepted, Duplicates: duplicates, EventIDs: acceptedIDs, LedgerDigest: ledgerDigest}, nil
}

func eventDigests(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Digest
	}
	return out
}

// ContextResult is the typed response of context.
type ContextResult struct {
	Events                   []Event                  `json:"events"`
	MisconceptionChronology  []map[string]interface{} `json:"misconceptionChronology,omitempty"`
}

// Context returns matched events plus an optional misconception-chronology
// section bounded by misconceptionChronologyLimit.
func Context(st *ProfileState, query string, chronologyLimit int) *ContextResult {
	var matched []Event
	for _, e := range st.Events {
		if query == "" || matchesQuery(e, query) {
			matched = append(matched, e)
		}
	}
	result := &ContextResult{Events: matched}
	if chronologyLimit > 0 {
		ordered := st.MisconceptionChronology.Ordered()
		if len(ordered) > chronologyLimit {
			ordered = ordered[len(ordered)-chronologyLimit:]
		}
		for _, e := range ordered {
			result.MisconceptionChronology = append(result.MisconceptionChronology, e.Data)
		}
	}
	return result
}

func matchesQuery(e Event, query string) bool {
	if e.Type == query || e.Source == query {
		return true
	}
	for _, v := range e.Content {
		if s, ok := v.(string); ok && s == query {
			return true
		}
	}
	return false
}

// ReflectResult is the typed response of reflect.
type ReflectResult struct {
	Candidates []ReflectCandidate `json:"candidates"`
}

// ReflectCandidate is a deterministic curation candidate synthesized from recent events.
type ReflectCandidate struct {
	CandidateID   string  `json:"candidateId"`
	Statement     string  `json:"statement"`
	Confidence    float64 `json:"confidence"`
	SourceEventID string  `json:"sourceEventId"`
}

// Reflect synthesizes deterministic candidates from the last N events.
func Reflect(st *ProfileState, lastN int) (*ReflectResult, error) {
	events := st.Events
	if lastN > 0 && len(events) > lastN {
		events = events[len(events)-lastN:]
	}
	var candidates []ReflectCandidate
	for _, e := range events {
		statement, ok := e.Content["statement"].(string)
		if !ok || statement == "" {
			continue
		}
		digest, err := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, e.EventID, statement})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, ReflectCandidate{
			CandidateID: canonicalize.MakeID("cand", digest), Statement: statement,
			Confidence: normalize.ClampUnit(e.Content["confidence"], 0.5), SourceEventID: e.EventID,
		})
	}
	return &ReflectResult{Candidates: candidates}, nil
}

// ValidateResult is the typed response of validate.
type ValidateResult struct {
	Valid            bool     `json:"valid"`
	MissingEventIDs  []string `json:"missingEventIds,omitempty"`
}

// Validate checks that every referenced event id exists in this profile's events.
func Validate(st *ProfileState, eventIDs []string) *ValidateResult {
	have := make(map[string]bool, len(st.Events))
	for _, e := range st.Events {
		have[e.EventID] = true
	}
	var missing []string
	for _, id := range eventIDs {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return &ValidateResult{Valid: len(missing) == 0, MissingEventIDs: missing}
}

// Curate creates or updates a plain (unguarded) rule.
func Curate(st *ProfileState, statement string, confidence float64, sourceEventID string) (*Rule, error) {
	digest, err := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, statement, sourceEventID})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("rule", digest)
	rule := Rule{RuleID: id, Statement: statement, Confidence: normalize.ClampUnit(confidence, 0.5), SourceEventID: sourceEventID}
	st.Rules[id] = rule
	return &rule, nil
}

// FeedbackResult is the typed response of feedback.
type FeedbackResult struct {
	FeedbackID string `json:"feedbackId"`
}

// Feedback appends a content-addressed feedback record to the events stream.
func Feedback(st *ProfileState, payload map[string]interface{}, timestamp string) (*FeedbackResult, error) {
	digest, err := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, payload, timestamp})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("fb", digest)
	st.Events = append(st.Events, Event{EventID: id, Type: "feedback", Source: "feedback", Content: payload, Digest: digest, Ordinal: len(st.Events)})
	return &FeedbackResult{FeedbackID: id}, nil
}

// OutcomeResult is the typed response of outcome.
type OutcomeResult struct {
	OutcomeID string `json:"outcomeId"`
}

// Outcome appends a content-addressed outcome record to the events stream.
func Outcome(st *ProfileState, payload map[string]interface{}, timestamp string) (*OutcomeResult, error) {
	digest, err := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, payload, timestamp})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("out", digest)
	st.Events = append(st.Events, Event{EventID: id, Type: "outcome", Source: "outcome", Content: payload, Digest: digest, Ordinal: len(st.Events)})
	return &OutcomeResult{OutcomeID: id}, nil
}

// AuditResult is the typed response of audit.
type AuditResult struct {
	EventCount        int      `json:"eventCount"`
	RuleCount         int      `json:"ruleCount"`
	DuplicateRuleIDs  []string `json:"duplicateRuleIds,omitempty"`
}

// Audit reports existence checks plus duplicate-rule detection (rules
// sharing an identical statement).
func Audit(st *ProfileState) *AuditResult {
	byStatement := map[string][]string{}
	for id, r := range st.Rules {
		byStatement[r.Statement] = append(byStatement[r.Statement], id)
	}
	var dupes []string
	for _, ids := range byStatement {
		if len(ids) > 1 {
			dupes = append(dupes, ids...)
		}
	}
	sort.Strings(dupes)
	return &AuditResult{EventCount: len(st.Events), RuleCount: len(st.Rules), DuplicateRuleIDs: dupes}
}

// ExportResult is the typed response of export.
type ExportResult struct {
	Markdown string `json:"markdown"`
	YAML     string `json:"yaml"`
	Digest   string `json:"digest"`
}

// exportSnapshot is the structured payload rendered as YAML alongside the
// fixed Markdown template, for operators who pipe the export into YAML-native
// tooling instead of parsing the prose rendering.
type exportSnapshot struct {
	Misconceptions []exportMisconception `yaml:"misconceptions"`
	CurriculumPlan []exportPlanItem      `yaml:"curriculumPlan"`
}

type exportMisconception struct {
	Key    string `yaml:"key"`
	Status string `yaml:"status"`
}

type exportPlanItem struct {
	ObjectiveID string `yaml:"objectiveId"`
	Status      string `yaml:"status"`
}

// Export yields a fixed-template Markdown rendering, a YAML rendering of the
// same structured snapshot, and a digest over the Markdown.
func Export(st *ProfileState) (*ExportResult, error) {
	md := "# Personalization Memory Export\n\n"
	md += "## Misconceptions\n"
	ids := make([]string, 0, len(st.Misconceptions))
	for id := range st.Misconceptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := exportSnapshot{}
	for _, id := range ids {
		m := st.Misconceptions[id]
		md += "- " + m.Key + " (" + m.Status + ")\n"
		snapshot.Misconceptions = append(snapshot.Misconceptions, exportMisconception{Key: m.Key, Status: m.Status})
	}
	md += "\n## Curriculum Plan\n"
	planIDs := make([]string, 0, len(st.PlanItems))
	for id := range st.PlanItems {
		planIDs = append(planIDs, id)
	}
	sort.Strings(planIDs)
	for _, id := range planIDs {
		p := st.PlanItems[id]
		md += "- " + p.ObjectiveID + " (" + p.Status + ")\n"
		snapshot.CurriculumPlan = append(snapshot.CurriculumPlan, exportPlanItem{ObjectiveID: p.ObjectiveID, Status: p.Status})
	}

	yamlBytes, err := yaml.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	digest, err := canonicalize.CanonicalHash(md)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Markdown: md, YAML: string(yamlBytes), Digest: digest}, nil
}

// DoctorResult is the typed response of doctor.
type DoctorResult struct {
	EventCount          int     `json:"eventCount"`
	RuleCount           int     `json:"ruleCount"`
	MisconceptionCount  int     `json:"misconceptionCount"`
	ActiveMisconceptions int    `json:"activeMisconceptions"`
	PlanItemCount       int     `json:"planItemCount"`
	ReviewEntryCount    int     `json:"reviewEntryCount"`
	ActiveReviewRatio   float64 `json:"activeReviewRatio"`
	AuditTrailSize      int     `json:"auditTrailSize"`
}

// Doctor returns a fixed shape of counters. activeReviewRatio is computed
// against the current in-memory profile state, never an import-time
// snapshot count, so two calls against the same state always agree.
func Doctor(st *ProfileState) *DoctorResult {
	active := 0
	for _, m := range st.Misconceptions {
		if m.Status == "active" {
			active++
		}
	}
	ratio := 0.0
	if len(st.ReviewEntries) > 0 {
		ratio = round6(float64(len(st.ArchivalTiers.ActiveReviewIDs)) / float64(len(st.ReviewEntries)))
	}
	return &DoctorResult{
		EventCount: len(st.Events), RuleCount: len(st.Rules), MisconceptionCount: len(st.Misconceptions),
		ActiveMisconceptions: active, PlanItemCount: len(st.PlanItems), ReviewEntryCount: len(st.ReviewEntries),
		ActiveReviewRatio: ratio, AuditTrailSize: st.PolicyAuditTrail.Len(),
	}
}
