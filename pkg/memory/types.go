// Package memory is the domain core: per-profile state, deterministic
// merges, and the operation handlers that mutate or query it. Every handler
// is a pure function of (state, request) — no wall-clock reads, no network
// calls.
package memory

import "github.com/Mindburn-Labs/helm-pm/pkg/ledger"

const (
	DefaultSleepThreshold         = 8
	DefaultActiveReviewSetLimit   = 32
	maxIdentityRefs               = 32
	maxListEntries                = 128
	policyAuditTrailCap           = 2048
	chronologyCap                 = 2048
)

// Event is a single ingested, content-addressed signal.
type Event struct {
	EventID string                 `json:"eventId"`
	Type    string                 `json:"type"`
	Source  string                 `json:"source"`
	Content map[string]interface{} `json:"content"`
	Digest  string                 `json:"digest"`
	Ordinal int                    `json:"ordinal"`
}

// Rule is a curated candidate statement.
type Rule struct {
	RuleID        string  `json:"ruleId"`
	Statement     string  `json:"statement"`
	Confidence    float64 `json:"confidence"`
	SourceEventID string  `json:"sourceEventId"`
}

// IdentityLineageRevision is one historical value for a learner-profile
// attribute, keyed by (attribute, timestamp, valueDigest).
type IdentityLineageRevision struct {
	Attribute   string      `json:"attribute"`
	Timestamp   string      `json:"timestamp"`
	ValueDigest string      `json:"valueDigest"`
	RevisionID  string      `json:"revisionId"`
	Value       interface{} `json:"value"`
}

// LearnerProfile is the central per-learner record.
type LearnerProfile struct {
	ProfileRecordID     string                               `json:"profileId"`
	Status              string                               `json:"status"`
	Version             int                                  `json:"version"`
	Confidence          float64                              `json:"confidence"`
	IdentityRefs         []IdentityRef                       `json:"identityRefs"`
	Goals               []string                             `json:"goals"`
	InterestTags        []string                             `json:"interestTags"`
	MisconceptionIDs    []string                             `json:"misconceptionIds"`
	EvidencePointers    []EvidencePointerView                `json:"evidencePointers"`
	PolicyException     *PolicyExceptionView                 `json:"policyException,omitempty"`
	SourceSignals       []string                              `json:"sourceSignals"`
	ProvidedAttributes  map[string]interface{}                `json:"providedAttributes"`
	Lineage             map[string][]IdentityLineageRevision  `json:"lineage"`
}

// IdentityRef is an identity reference attached to a learner profile;
// exactly one must be primary.
type IdentityRef struct {
	Namespace string `json:"namespace"`
	Value     string `json:"value"`
	Primary   bool   `json:"primary"`
}

// IdentityEdge is a directed edge in the identity graph.
type IdentityEdge struct {
	EdgeID     string                `json:"edgeId"`
	Relation   string                `json:"relation"`
	FromRef    string                `json:"fromRef"`
	ToRef      string                `json:"toRef"`
	Evidence   []EvidencePointerView `json:"evidence"`
	Confidence float64               `json:"confidence"`
}

var allowedEdgeRelations = map[string]bool{
	"alias_of": true, "evidence_of": true, "misconception_of": true, "goal_of": true, "interest_of": true,
}

// EvidencePointerView is the persisted (state-resident) shape of a
// normalized evidence pointer.
type EvidencePointerView struct {
	PointerID  string                 `json:"pointerId"`
	Kind       string                 `json:"kind"`
	Source     string                 `json:"source"`
	Confidence float64                `json:"confidence"`
	ObservedAt string                 `json:"observedAt,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyExceptionView is the persisted shape of a normalized policy exception.
type PolicyExceptionView struct {
	Code       string                 `json:"code"`
	Reason     string                 `json:"reason"`
	ApprovedBy string                 `json:"approvedBy"`
	Reference  string                 `json:"reference,omitempty"`
	Timestamp  string                 `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AntiPattern is emitted when a misconception's harmful count crosses a
// threshold.
type AntiPattern struct {
	AntiPatternID string   `json:"antiPatternId"`
	Threshold     int      `json:"threshold"`
	Statement     string   `json:"statement"`
	EvidenceIDs   []string `json:"evidenceIds"`
	SignalIDs     []string `json:"signalIds"`
	ActivatedAt   string   `json:"activatedAt"`
}

// ConfidenceDecay records the decay-stage computation that produced a
// misconception's current confidence.
type ConfidenceDecay struct {
	Stage        int     `json:"stage"`
	BaseDecay    float64 `json:"baseDecay"`
	Penalty      float64 `json:"penalty"`
	Acceleration float64 `json:"acceleration"`
	AppliedDelta float64 `json:"appliedDelta"`
}

// Misconception is a tracked recurring error pattern.
type Misconception struct {
	MisconceptionID    string          `json:"misconceptionId"`
	Key                string          `json:"key"`
	Status              string          `json:"status"`
	HarmfulSignalCount  int             `json:"harmfulSignalCount"`
	HelpfulSignalCount  int             `json:"helpfulSignalCount"`
	CorrectionCount     int             `json:"correctionCount"`
	Confidence          float64         `json:"confidence"`
	ConfidenceDecay     ConfidenceDecay `json:"confidenceDecay"`
	AntiPatterns        []AntiPattern   `json:"antiPatterns"`
	EvidenceEventIDs    []string        `json:"evidenceEventIds"`
	SeenSignalIDs       map[string]bool `json:"-"`
	SeenSignalIDsList   []string        `json:"seenSignalIds"`
	RecordDigest        string          `json:"recordDigest"`
}

// CurriculumPlanItem is one objective tracked on the learner's plan.
type CurriculumPlanItem struct {
	PlanItemID         string   `json:"planItemId"`
	ObjectiveID        string   `json:"objectiveId"`
	Status             string   `json:"status"`
	RecommendationRank int      `json:"recommendationRank"`
	DueAt              string   `json:"dueAt,omitempty"`
	CreatedAt          string   `json:"createdAt,omitempty"`
	UpdatedAt          string   `json:"updatedAt,omitempty"`
	MisconceptionIDs   []string `json:"misconceptionIds"`
	InterestTags       []string `json:"interestTags"`
	EvidenceEventIDs   []string `json:"evidenceEventIds"`
	ProvenanceSignals  []string `json:"provenanceSignals"`
	RecordDigest       string   `json:"recordDigest"`
}

// ReviewScheduleEntry is a single spaced-repetition review item.
type ReviewScheduleEntry struct {
	ScheduleEntryID string   `json:"scheduleEntryId"`
	Status          string   `json:"status"`
	Repetition      int      `json:"repetition"`
	IntervalDays    int      `json:"intervalDays"`
	EaseFactor      float64  `json:"easeFactor"`
	DueAt           string   `json:"dueAt"`
	SourceEventIDs  []string `json:"sourceEventIds"`
}

// SchedulerClocks is the singleton per-profile review-clock state.
type SchedulerClocks struct {
	InteractionTick        int    `json:"interactionTick"`
	SleepTick               int    `json:"sleepTick"`
	FatigueLoad             int    `json:"fatigueLoad"`
	FatigueThreshold        int    `json:"fatigueThreshold"`
	NoveltyWriteLoad        int    `json:"noveltyWriteLoad"`
	NoveltyWriteThreshold   int    `json:"noveltyWriteThreshold"`
	ConsolidationCount      int    `json:"consolidationCount"`
	LastConsolidationCause  string `json:"lastConsolidationCause,omitempty"`
	LastTimestamp           string `json:"lastTimestamp,omitempty"`
}

// ReviewArchivalTiers is the singleton bounded active-set + overflow tiering.
type ReviewArchivalTiers struct {
	ActiveLimit     int              `json:"activeLimit"`
	ActiveReviewIDs []string         `json:"activeReviewIds"`
	Warm            []string         `json:"warm"`
	Cold            []string         `json:"cold"`
	Frozen          []string         `json:"frozen"`
	ArchivedRecords map[string]ArchivedRecord `json:"archivedRecords"`
}

// ArchivedRecord is a content-addressed archived review entry snapshot.
type ArchivedRecord struct {
	ArchiveID string              `json:"archiveId"`
	Entry     ReviewScheduleEntry `json:"entry"`
	Tier      string              `json:"tier"`
}

// PolicyDecision is the outcome of an access/curation policy evaluation.
type PolicyDecision struct {
	DecisionID          string   `json:"decisionId"`
	PolicyKey           string   `json:"policyKey"`
	Action              string   `json:"action"`
	Surface             string   `json:"surface"`
	Outcome             string   `json:"outcome"`
	ReasonCodes         []string `json:"reasonCodes"`
	ProvenanceEventIDs  []string `json:"provenanceEventIds"`
}

var outcomeSeverity = map[string]int{"allow": 1, "review": 2, "deny": 3}

// RecallAllowlistPolicy is the cross-space authorization allowlist.
type RecallAllowlistPolicy struct {
	PolicyID        string   `json:"policyId"`
	AllowedStoreIDs []string `json:"allowedStoreIds"`
}

// DegradedTutorSession is an upserted suggestion-session record produced by
// tutor_degraded.
type DegradedTutorSession struct {
	SessionID   string   `json:"sessionId"`
	Suggestions []string `json:"suggestions"`
	Warnings    []string `json:"warnings"`
}

// ProfileState is the full per-(store,profile) record. It exclusively owns
// all of its collections; no handler observes it partially updated.
type ProfileState struct {
	StoreID  string `json:"-"`
	Profile  string `json:"-"`

	Events []Event `json:"events"`
	Rules  map[string]Rule `json:"rules"`

	LearnerProfiles map[string]*LearnerProfile `json:"learnerProfiles"`
	IdentityEdges   map[string]IdentityEdge    `json:"identityEdges"`
	Misconceptions  map[string]*Misconception  `json:"misconceptions"`
	PlanItems       map[string]*CurriculumPlanItem `json:"planItems"`
	ReviewEntries   map[string]*ReviewScheduleEntry `json:"reviewEntries"`
	PainFailureIDs  []string `json:"painFailureSignalIds"`

	Clocks         SchedulerClocks     `json:"clocks"`
	ArchivalTiers  ReviewArchivalTiers `json:"archivalTiers"`
	Allowlist      RecallAllowlistPolicy `json:"allowlist"`
	PolicyDecisions map[string]*PolicyDecision `json:"policyDecisions"`

	DegradedSessions map[string]*DegradedTutorSession `json:"degradedSessions"`

	RecommendationSnapshots map[string]interface{} `json:"recommendationSnapshots"`

	PolicyAuditTrail          *ledger.Ring `json:"policyAuditTrail"`
	MisconceptionChronology   *ledger.Ring `json:"misconceptionChronology"`
	CurriculumConflictHistory *ledger.Ring `json:"curriculumConflictHistory"`

	SeenRequestDigests map[string]map[string]interface{} `json:"seenRequestDigests"`
}

// NewProfileState builds the empty default state per §4.3.
func NewProfileState(storeID, profile string) *ProfileState {
	return &ProfileState{
		StoreID:         storeID,
		Profile:         profile,
		Rules:           map[string]Rule{},
		LearnerProfiles: map[string]*LearnerProfile{},
		IdentityEdges:   map[string]IdentityEdge{},
		Misconceptions:  map[string]*Misconception{},
		PlanItems:       map[string]*CurriculumPlanItem{},
		ReviewEntries:   map[string]*ReviewScheduleEntry{},
		Clocks: SchedulerClocks{
			FatigueThreshold:      DefaultSleepThreshold,
			NoveltyWriteThreshold: DefaultSleepThreshold,
		},
		ArchivalTiers: ReviewArchivalTiers{
			ActiveLimit:     DefaultActiveReviewSetLimit,
			ArchivedRecords: map[string]ArchivedRecord{},
		},
		Allowlist:               RecallAllowlistPolicy{AllowedStoreIDs: []string{storeID}},
		PolicyDecisions:         map[string]*PolicyDecision{},
		DegradedSessions:        map[string]*DegradedTutorSession{},
		RecommendationSnapshots: map[string]interface{}{},
		PolicyAuditTrail:        ledger.NewRing("paud", policyAuditTrailCap),
		MisconceptionChronology: ledger.NewRing("mchr", chronologyCap),
		CurriculumConflictHistory: ledger.NewRing("cchr", chronologyCap),
		SeenRequestDigests:      map[string]map[string]interface{}{},
	}
}

// RehydrateAfterLoad restores the fields a JSON snapshot load cannot carry:
// the (storeId, profile) identity (tagged json:"-" since the registry keys
// already encode it), each ledger ring's ID prefix (tagged json:"-") and
// each misconception's seen-signal set (persisted as a sorted slice, used
// internally as a set).
func (st *ProfileState) RehydrateAfterLoad(storeID, profile string) {
	st.StoreID = storeID
	st.Profile = profile
	if st.PolicyAuditTrail != nil {
		st.PolicyAuditTrail.Prefix = "paud"
	}
	if st.MisconceptionChronology != nil {
		st.MisconceptionChronology.Prefix = "mchr"
	}
	if st.CurriculumConflictHistory != nil {
		st.CurriculumConflictHistory.Prefix = "cchr"
	}
	for _, m := range st.Misconceptions {
		m.SeenSignalIDs = make(map[string]bool, len(m.SeenSignalIDsList))
		for _, id := range m.SeenSignalIDsList {
			m.SeenSignalIDs[id] = true
		}
	}
}
