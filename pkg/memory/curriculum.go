package memory

import (
	"math"
	"sort"
	"strconv"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
)

var planStatuses = map[string]bool{"proposed": true, "committed": true, "blocked": true, "completed": true}

// CurriculumPlanUpdateRequest is the normalized input to curriculum_plan_update.
type CurriculumPlanUpdateRequest struct {
	ObjectiveID        string
	Status             string
	RecommendationRank int
	DueAt              string
	MisconceptionIDs   []string
	InterestTags       []string
	EvidenceEventIDs   []string
	ProvenanceSignals  []string
	Timestamp          string
}

// ParseCurriculumPlanUpdate normalizes a raw request per §4.5.
func ParseCurriculumPlanUpdate(req map[string]interface{}, fallbackTimestamp string) (*CurriculumPlanUpdateRequest, error) {
	objectiveID, ok, err := normalize.BoundedString(req["objectiveId"], "objectiveId", 256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "objectiveId is required")
	}
	evidence, err := normalize.GuardedStringArray(req["evidenceEventIds"], "evidenceEventIds", normalize.GuardedStringArrayOpts{
		Required: true, RequiredError: "curriculum_plan_update requires at least one evidence event id",
	})
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, normalize.EvidenceMissing("curriculum_plan_update")
	}
	status := normalize.StringOrDefault(req["status"], "proposed")
	if !planStatuses[status] {
		status = "proposed"
	}
	rank := normalize.IntOrDefault(req["recommendationRank"], 1)
	if rank < 1 {
		rank = 1
	}
	dueAt, err := normalize.ISOTimestamp(req["dueAt"], "dueAt", "")
	if err != nil {
		return nil, err
	}
	misc, err := normalize.GuardedStringArray(req["misconceptionIds"], "misconceptionIds", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}
	tags, err := normalize.GuardedStringArray(req["interestTags"], "interestTags", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}
	prov, err := normalize.GuardedStringArray(req["provenanceSignals"], "provenanceSignals", normalize.GuardedStringArrayOpts{})
	if err != nil {
		return nil, err
	}
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &CurriculumPlanUpdateRequest{
		ObjectiveID: objectiveID, Status: status, RecommendationRank: rank, DueAt: dueAt,
		MisconceptionIDs: misc, InterestTags: tags, EvidenceEventIDs: evidence,
		ProvenanceSignals: prov, Timestamp: ts,
	}, nil
}

// CurriculumPlanUpdate merges a plan item per §4.5's sticky/min/union rules.
func CurriculumPlanUpdate(st *ProfileState, r *CurriculumPlanUpdateRequest) (*CurriculumPlanItem, string, error) {
	_, digest, err := canonicalize.Fingerprint("cp", []interface{}{st.StoreID, st.Profile, r.ObjectiveID})
	if err != nil {
		return nil, "", err
	}
	id := canonicalize.MakeID("cp", digest)

	existing, found := st.PlanItems[id]
	var item *CurriculumPlanItem
	prevDigest := ""
	if found {
		item = existing
		prevDigest = item.RecordDigest
	} else {
		item = &CurriculumPlanItem{PlanItemID: id, ObjectiveID: r.ObjectiveID, Status: r.Status, RecommendationRank: r.RecommendationRank, CreatedAt: r.Timestamp}
	}

	if item.Status == "blocked" {
		// sticky: incoming status ignored
	} else {
		item.Status = r.Status
	}
	if !found || r.RecommendationRank < item.RecommendationRank {
		item.RecommendationRank = r.RecommendationRank
	}
	if r.DueAt != "" {
		item.DueAt = r.DueAt
	}
	item.UpdatedAt = r.Timestamp
	item.MisconceptionIDs = normalize.SortedUnique(append(append([]string{}, item.MisconceptionIDs...), r.MisconceptionIDs...))
	item.InterestTags = normalize.SortedUnique(append(append([]string{}, item.InterestTags...), r.InterestTags...))
	item.EvidenceEventIDs = normalize.SortedUnique(append(append([]string{}, item.EvidenceEventIDs...), r.EvidenceEventIDs...))
	item.ProvenanceSignals = normalize.SortedUnique(append(append([]string{}, item.ProvenanceSignals...), r.ProvenanceSignals...))

	// The record digest covers the item without its own previous digest.
	item.RecordDigest = ""
	recordDigest, err := canonicalize.CanonicalHash(item)
	if err != nil {
		return nil, "", err
	}
	item.RecordDigest = recordDigest
	action := "updated"
	if prevDigest == recordDigest {
		action = "noop"
	} else {
		if found {
			_, err = st.CurriculumConflictHistory.Append("curriculum_conflict", r.Timestamp, map[string]interface{}{
				"planItemId":     id,
				"changedFields":  []string{"status", "recommendationRank", "dueAt"},
				"previousDigest": prevDigest,
				"nextDigest":     recordDigest,
			})
			if err != nil {
				return nil, "", err
			}
		}
	}
	st.PlanItems[id] = item
	return item, action, nil
}

// RankingWeights is the configurable weight set for curriculum_recommendation.
type RankingWeights struct {
	Interest   float64
	MasteryGap float64
	Due        float64
	Evidence   float64
}

// DefaultRankingWeights returns §4.5's defaults, which already sum to 1.
// ParseCurriculumRecommendation re-normalizes caller-supplied weights, with
// masteryGap absorbing the remainder.
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{Interest: 0.35, MasteryGap: 0.45, Due: 0.15, Evidence: 0.05}
}

// CurriculumRecommendationRequest is the normalized input to curriculum_recommendation.
type CurriculumRecommendationRequest struct {
	ReferenceAt          string
	MaxRecommendations   int
	TokenBudget          int
	FreshnessWarningDays int
	DecayWarningDays     int
	Weights              RankingWeights
	IncludeBlocked       bool
	IncludeCompleted     bool
	MaxConflictNotes     int
}

// ParseCurriculumRecommendation normalizes a raw request per §4.5.
func ParseCurriculumRecommendation(req map[string]interface{}, fallbackTimestamp string) (*CurriculumRecommendationRequest, error) {
	refAt, err := normalize.ISOTimestamp(req["referenceAt"], "referenceAt", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	maxRec := normalize.ClampInt(normalize.IntOrDefault(req["maxRecommendations"], 5), 1, 64)
	tokenBudget := normalize.ClampInt(normalize.IntOrDefault(req["tokenBudget"], 1024), 32, 8192)
	freshness := normalize.ClampInt(normalize.IntOrDefault(req["freshnessWarningDays"], 14), 1, 365)
	decay := normalize.ClampInt(normalize.IntOrDefault(req["decayWarningDays"], 30), freshness, 730)

	weights := DefaultRankingWeights()
	if raw, ok := req["rankingWeights"].(map[string]interface{}); ok {
		weights.Interest = normalize.ClampUnit(raw["interest"], weights.Interest)
		weights.Due = normalize.ClampUnit(raw["due"], weights.Due)
		weights.Evidence = normalize.ClampUnit(raw["evidence"], weights.Evidence)
		sumOthers := weights.Interest + weights.Due + weights.Evidence
		weights.MasteryGap = math.Max(0, 1-sumOthers)
	}
	total := weights.Interest + weights.MasteryGap + weights.Due + weights.Evidence
	if total > 0 {
		weights.Interest /= total
		weights.MasteryGap /= total
		weights.Due /= total
		weights.Evidence /= total
	}

	maxConflict := normalize.IntOrDefault(req["maxConflictNotes"], 5)
	if maxConflict < 0 {
		maxConflict = 0
	}

	return &CurriculumRecommendationRequest{
		ReferenceAt: refAt, MaxRecommendations: maxRec, TokenBudget: tokenBudget,
		FreshnessWarningDays: freshness, DecayWarningDays: decay, Weights: weights,
		IncludeBlocked:   normalize.BoolOrDefault(req["includeBlocked"], false),
		IncludeCompleted: normalize.BoolOrDefault(req["includeCompleted"], false),
		MaxConflictNotes: maxConflict,
	}, nil
}

// RecommendationCandidate is one scored, admitted candidate.
type RecommendationCandidate struct {
	RecommendationID    string                 `json:"recommendationId"`
	PlanItemID          string                 `json:"planItemId"`
	ObjectiveID         string                 `json:"objectiveId"`
	Score               float64                `json:"score"`
	ProvenancePointers  []string               `json:"provenancePointers"`
	Freshness           FreshnessBlock         `json:"freshness"`
	ConflictChronology  []map[string]interface{} `json:"conflictChronology"`
	Rationale           Rationale              `json:"rationale"`
	Digest              string                 `json:"digest"`
}

// FreshnessBlock carries freshness-derived warning codes.
type FreshnessBlock struct {
	WarningCodes []string `json:"warningCodes"`
	Decayed      bool     `json:"-"`
	Stale        bool     `json:"-"`
}

// Rationale explains a recommendation's score.
type Rationale struct {
	Explanation []string       `json:"explanation"`
	Weights     RankingWeights `json:"weights"`
}

// CurriculumRecommendationResult is the typed response of curriculum_recommendation.
type CurriculumRecommendationResult struct {
	RecommendationSetID    string                     `json:"recommendationSetId"`
	Recommendations        []RecommendationCandidate  `json:"recommendations"`
	SkippedByTokenBudget    int                        `json:"skippedByTokenBudget"`
	Observability           map[string]interface{}     `json:"observability"`
}

// CurriculumRecommendation runs the deterministic ranker from §4.5.
func CurriculumRecommendation(st *ProfileState, r *CurriculumRecommendationRequest, profileTags []string) (*CurriculumRecommendationResult, error) {
	type scored struct {
		item  *CurriculumPlanItem
		score float64
		fresh FreshnessBlock
		explain []string
		tokenEstimate int
	}

	ids := make([]string, 0, len(st.PlanItems))
	for id := range st.PlanItems {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var candidates []scored
	for _, id := range ids {
		item := st.PlanItems[id]
		if len(item.EvidenceEventIDs) == 0 {
			continue
		}
		if item.Status == "blocked" && !r.IncludeBlocked {
			continue
		}
		if item.Status == "completed" && !r.IncludeCompleted {
			continue
		}

		profileTagCount := len(profileTags)
		interestAffinity := overlapRatio(item.InterestTags, profileTags, profileTagCount)
		masteryGap := masteryGapScore(st, item.MisconceptionIDs)
		duePressure := duePressureScore(item)
		evidenceDepth := math.Min(float64(len(item.EvidenceEventIDs))/10.0, 1)
		rankBias := math.Max(0, 1-float64(item.RecommendationRank-1)/64.0)

		weighted := r.Weights.Interest*interestAffinity + r.Weights.MasteryGap*masteryGap +
			r.Weights.Due*duePressure + r.Weights.Evidence*evidenceDepth

		statusPenalty := 0.0
		if item.Status == "blocked" {
			statusPenalty = -40
		} else if item.Status == "completed" {
			statusPenalty = -80
		}

		fresh := freshnessOf(item, r.ReferenceAt, r.FreshnessWarningDays, r.DecayWarningDays)
		decayPenalty := 0.0
		if fresh.Decayed {
			decayPenalty = 24
		} else if fresh.Stale {
			decayPenalty = 12
		}

		score := 100*weighted + 5*rankBias + statusPenalty - decayPenalty
		explain := []string{
			explainFactor("interestAffinity", interestAffinity),
			explainFactor("masteryGapScore", masteryGap),
			explainFactor("duePressure", duePressure),
			explainFactor("evidenceDepth", evidenceDepth),
			explainFactor("rankBias", rankBias),
		}

		metaDigest, _ := canonicalize.CanonicalHash(item)
		tokenEstimate := int(math.Ceil(float64(len(item.ObjectiveID))/4)) + int(math.Ceil(float64(len(metaDigest))/20)) + 8*len(item.EvidenceEventIDs) + 12
		if tokenEstimate < 24 {
			tokenEstimate = 24
		}

		candidates = append(candidates, scored{item: item, score: round6(score), fresh: fresh, explain: explain, tokenEstimate: tokenEstimate})
	}

	recID := func(item *CurriculumPlanItem) string {
		d, _ := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, item.PlanItemID, r.ReferenceAt})
		return canonicalize.MakeID("rec", d)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return recID(candidates[i].item) < recID(candidates[j].item)
	})

	var out []RecommendationCandidate
	skipped := 0
	budget := r.TokenBudget
	for _, c := range candidates {
		if len(out) >= r.MaxRecommendations {
			break
		}
		if c.tokenEstimate > budget {
			skipped++
			continue
		}
		budget -= c.tokenEstimate

		conflicts := conflictNotesFor(st, c.item.PlanItemID, r.MaxConflictNotes)
		cand := RecommendationCandidate{
			RecommendationID:   recID(c.item),
			PlanItemID:         c.item.PlanItemID,
			ObjectiveID:        c.item.ObjectiveID,
			Score:              c.score,
			ProvenancePointers: c.item.EvidenceEventIDs,
			Freshness:          FreshnessBlock{WarningCodes: c.fresh.WarningCodes},
			ConflictChronology: conflicts,
			Rationale:          Rationale{Explanation: c.explain, Weights: r.Weights},
		}
		digest, err := canonicalize.CanonicalHash(cand)
		if err != nil {
			return nil, err
		}
		cand.Digest = digest
		out = append(out, cand)
	}

	perRecDigests := make([]string, 0, len(out))
	for _, c := range out {
		perRecDigests = append(perRecDigests, c.Digest)
	}
	setDigest, err := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, r.ReferenceAt, r.MaxRecommendations, perRecDigests})
	if err != nil {
		return nil, err
	}
	setID := canonicalize.MakeID("recset", setDigest)
	st.RecommendationSnapshots[setID] = out

	return &CurriculumRecommendationResult{
		RecommendationSetID: setID,
		Recommendations:     out,
		SkippedByTokenBudget: skipped,
		Observability: map[string]interface{}{
			"boundedByTokenBudget": skipped > 0,
			"candidateCount":       len(candidates),
		},
	}, nil
}

func explainFactor(name string, v float64) string {
	return name + ":" + strconv.FormatFloat(round6(v), 'f', -1, 64)
}

func overlapRatio(planTags, profileTags []string, profileTagCount int) float64 {
	if profileTagCount == 0 {
		profileTagCount = 1
	}
	set := make(map[string]bool, len(profileTags))
	for _, t := range profileTags {
		set[t] = true
	}
	overlap := 0
	for _, t := range planTags {
		if set[t] {
			overlap++
		}
	}
	return normalize.ClampUnit(float64(overlap)/float64(profileTagCount), 0)
}

func masteryGapScore(st *ProfileState, misconceptionIDs []string) float64 {
	if len(misconceptionIDs) == 0 {
		return 0.4
	}
	sum := 0.0
	count := 0
	for _, id := range misconceptionIDs {
		m, ok := st.Misconceptions[id]
		if !ok {
			continue
		}
		statusFactor := 1.0
		if m.Status == "resolved" {
			statusFactor = 0.45
		}
		harmfulFactor := 1 + math.Min(float64(m.HarmfulSignalCount), 5)*0.12
		sum += statusFactor * (0.35 + m.Confidence) * harmfulFactor
		count++
	}
	if count == 0 {
		return 0.4
	}
	return normalize.ClampUnit(sum/float64(count), 0.4)
}

func duePressureScore(item *CurriculumPlanItem) float64 {
	weight := 0.0
	if item.Status == "proposed" || item.Status == "committed" {
		weight = 12
	}
	if item.DueAt != "" {
		weight += 4
	}
	return normalize.ClampUnit(weight/24, 0)
}

func freshnessOf(item *CurriculumPlanItem, referenceAt string, freshnessDays, decayDays int) FreshnessBlock {
	latest := item.UpdatedAt
	if item.DueAt > latest {
		latest = item.DueAt
	}
	if item.CreatedAt > latest {
		latest = item.CreatedAt
	}
	ageDays := daysBetween(latest, referenceAt)
	var codes []string
	decayed := ageDays >= float64(decayDays)
	stale := !decayed && ageDays >= float64(freshnessDays)
	if decayed {
		codes = append(codes, "DECAYED")
	} else if stale {
		codes = append(codes, "STALE")
	}
	sort.Strings(codes)
	return FreshnessBlock{WarningCodes: codes, Decayed: decayed, Stale: stale}
}

func conflictNotesFor(st *ProfileState, planItemID string, limit int) []map[string]interface{} {
	var out []map[string]interface{}
	for _, e := range st.CurriculumConflictHistory.Ordered() {
		if id, _ := e.Data["planItemId"].(string); id == planItemID {
			out = append(out, e.Data)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
