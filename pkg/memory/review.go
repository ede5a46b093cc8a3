package memory

import (
	"math"
	"sort"
	"time"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
)

var reviewStatuses = map[string]bool{"scheduled": true, "due": true, "completed": true, "suspended": true}

// ReviewScheduleUpdateRequest is the normalized input to review_schedule_update.
type ReviewScheduleUpdateRequest struct {
	ObjectiveKey   string
	Status         string
	Repetition     int
	IntervalDays   int
	EaseFactor     float64
	DueAt          string
	SourceEventIDs []string
	Timestamp      string
}

// ParseReviewScheduleUpdate normalizes a raw request per §4.6.
func ParseReviewScheduleUpdate(req map[string]interface{}, fallbackTimestamp string) (*ReviewScheduleUpdateRequest, error) {
	key, ok, err := normalize.BoundedString(req["objectiveKey"], "objectiveKey", 256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "objectiveKey is required")
	}
	sourceEvents, err := normalize.GuardedStringArray(req["sourceEventIds"], "sourceEventIds", normalize.GuardedStringArrayOpts{
		Required: true, RequiredError: "review_schedule_update requires at least one source event id",
	})
	if err != nil {
		return nil, err
	}
	if len(sourceEvents) == 0 {
		return nil, normalize.EvidenceMissing("review_schedule_update")
	}
	status := normalize.StringOrDefault(req["status"], "scheduled")
	if !reviewStatuses[status] {
		status = "scheduled"
	}
	repetition := normalize.IntOrDefault(req["repetition"], 0)
	if repetition < 0 {
		repetition = 0
	}
	interval := normalize.IntOrDefault(req["intervalDays"], 1)
	if interval < 1 {
		interval = 1
	}
	ease := normalize.ClampUnit(req["easeFactor"], 0.5)
	dueAt, err := normalize.ISOTimestamp(req["dueAt"], "dueAt", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &ReviewScheduleUpdateRequest{
		ObjectiveKey: key, Status: status, Repetition: repetition, IntervalDays: interval,
		EaseFactor: ease, DueAt: dueAt, SourceEventIDs: sourceEvents, Timestamp: ts,
	}, nil
}

// ReviewScheduleUpdate upserts a schedule entry.
func ReviewScheduleUpdate(st *ProfileState, r *ReviewScheduleUpdateRequest) (*ReviewScheduleEntry, error) {
	_, digest, err := canonicalize.Fingerprint("rse", []interface{}{st.StoreID, st.Profile, r.ObjectiveKey})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("rse", digest)

	entry, found := st.ReviewEntries[id]
	if !found {
		entry = &ReviewScheduleEntry{ScheduleEntryID: id}
	}
	entry.Status = r.Status
	entry.Repetition = r.Repetition
	entry.IntervalDays = r.IntervalDays
	entry.EaseFactor = r.EaseFactor
	entry.DueAt = r.DueAt
	entry.SourceEventIDs = normalize.SortedUnique(append(append([]string{}, entry.SourceEventIDs...), r.SourceEventIDs...))
	st.ReviewEntries[id] = entry
	return entry, nil
}

// ReviewScheduleClockRequest is the normalized input to review_schedule_clock.
type ReviewScheduleClockRequest struct {
	Mode                  string
	Increments            int
	FatigueThreshold      int
	NoveltyWriteThreshold int
	ForceSleep            bool
	Timestamp             string
}

// ParseReviewScheduleClock normalizes a raw request per §4.6.
func ParseReviewScheduleClock(req map[string]interface{}, fallbackTimestamp string) (*ReviewScheduleClockRequest, error) {
	mode := normalize.StringOrDefault(req["mode"], "auto")
	if mode != "auto" && mode != "interaction" && mode != "sleep" {
		mode = "auto"
	}
	increments := normalize.IntOrDefault(req["increments"], 1)
	if increments < 0 {
		increments = 0
	}
	fatigueThreshold := normalize.IntOrDefault(req["fatigueThreshold"], DefaultSleepThreshold)
	if fatigueThreshold < 1 {
		fatigueThreshold = DefaultSleepThreshold
	}
	noveltyThreshold := normalize.IntOrDefault(req["noveltyWriteThreshold"], DefaultSleepThreshold)
	if noveltyThreshold < 1 {
		noveltyThreshold = DefaultSleepThreshold
	}
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &ReviewScheduleClockRequest{
		Mode: mode, Increments: increments, FatigueThreshold: fatigueThreshold,
		NoveltyWriteThreshold: noveltyThreshold, ForceSleep: normalize.BoolOrDefault(req["forceSleep"], false),
		Timestamp: ts,
	}, nil
}

// ReviewScheduleClockResult is the typed response of review_schedule_clock.
type ReviewScheduleClockResult struct {
	ConsolidationTriggered bool            `json:"consolidationTriggered"`
	ConsolidationCause     string          `json:"consolidationCause,omitempty"`
	Clocks                 SchedulerClocks `json:"clocks"`
}

// ReviewScheduleClock runs the transition logic from §4.6.
func ReviewScheduleClock(st *ProfileState, r *ReviewScheduleClockRequest) (*ReviewScheduleClockResult, error) {
	c := &st.Clocks
	c.FatigueThreshold = r.FatigueThreshold
	c.NoveltyWriteThreshold = r.NoveltyWriteThreshold

	noveltyLoad := 0
	fatigueDelta := 0
	if r.Mode == "interaction" || r.Mode == "auto" {
		c.InteractionTick += r.Increments
		c.FatigueLoad += r.Increments + noveltyLoad + fatigueDelta
		c.NoveltyWriteLoad += r.Increments + noveltyLoad
	} else if r.Mode == "sleep" {
		c.NoveltyWriteLoad += r.Increments
	}
	if c.FatigueLoad < 0 {
		c.FatigueLoad = 0
	}
	if c.NoveltyWriteLoad < 0 {
		c.NoveltyWriteLoad = 0
	}

	fatigueHit := c.FatigueLoad >= c.FatigueThreshold
	noveltyHit := c.NoveltyWriteLoad >= c.NoveltyWriteThreshold
	shouldSleep := r.ForceSleep || r.Mode == "sleep" || fatigueHit || noveltyHit

	var cause string
	switch {
	case r.ForceSleep:
		cause = "forced"
	case r.Mode == "sleep":
		cause = "sleep_mode"
	case fatigueHit && noveltyHit:
		cause = "fatigue_and_novelty_threshold"
	case fatigueHit:
		cause = "fatigue_threshold"
	case noveltyHit:
		cause = "novelty_write_threshold"
	}

	if shouldSleep {
		c.SleepTick += int(math.Max(1, 1))
		c.ConsolidationCount++
		c.FatigueLoad = int(math.Max(0, float64(c.FatigueLoad-int(math.Ceil(float64(c.FatigueThreshold)/2)))))
		c.NoveltyWriteLoad = 0
		c.LastConsolidationCause = cause

		for _, e := range st.ReviewEntries {
			if e.Status == "completed" {
				e.DueAt = addDays(r.Timestamp, e.IntervalDays)
				e.Status = "scheduled"
			}
		}
	}
	c.LastTimestamp = r.Timestamp

	for _, e := range st.ReviewEntries {
		if e.Status == "scheduled" && e.DueAt != "" && e.DueAt <= r.Timestamp {
			e.Status = "due"
		}
	}

	rebalanceReviewSet(st, st.ArchivalTiers.ActiveLimit, r.Timestamp)

	return &ReviewScheduleClockResult{ConsolidationTriggered: shouldSleep, ConsolidationCause: cause, Clocks: *c}, nil
}

func addDays(ts string, days int) string {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", ts)
	if err != nil {
		return ts
	}
	return t.AddDate(0, 0, days).Format("2006-01-02T15:04:05.000Z")
}

// ReviewSetRebalanceRequest is the normalized input to review_set_rebalance.
type ReviewSetRebalanceRequest struct {
	ActiveLimit int
	Timestamp   string
}

// ParseReviewSetRebalance normalizes a raw request per §4.6.
func ParseReviewSetRebalance(req map[string]interface{}, fallbackTimestamp string, currentLimit int) (*ReviewSetRebalanceRequest, error) {
	limit := normalize.ClampInt(normalize.IntOrDefault(req["activeLimit"], currentLimit), 1, 256)
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &ReviewSetRebalanceRequest{ActiveLimit: limit, Timestamp: ts}, nil
}

// ReviewSetRebalance re-tiers the review set per §4.6.
func ReviewSetRebalance(st *ProfileState, r *ReviewSetRebalanceRequest) *ReviewArchivalTiers {
	st.ArchivalTiers.ActiveLimit = r.ActiveLimit
	rebalanceReviewSet(st, r.ActiveLimit, r.Timestamp)
	return &st.ArchivalTiers
}

func rebalanceReviewSet(st *ProfileState, activeLimit int, referenceAt string) {
	ids := make([]string, 0, len(st.ReviewEntries))
	for id := range st.ReviewEntries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := st.ReviewEntries[ids[i]], st.ReviewEntries[ids[j]]
		if a.DueAt != b.DueAt {
			return a.DueAt < b.DueAt
		}
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return ids[i] < ids[j]
	})

	active := []string{}
	var warm, cold, frozen []string
	archived := map[string]ArchivedRecord{}

	for i, id := range ids {
		e := st.ReviewEntries[id]
		isActiveCandidate := e.Status == "scheduled" || e.Status == "due"
		if isActiveCandidate && len(active) < activeLimit {
			active = append(active, id)
			continue
		}
		age := daysBetween(e.DueAt, referenceAt)
		tier := "warm"
		switch {
		case age >= 365:
			tier = "frozen"
		case e.Status == "completed" || age >= 90:
			tier = "cold"
		}
		switch tier {
		case "warm":
			warm = append(warm, id)
		case "cold":
			cold = append(cold, id)
		case "frozen":
			frozen = append(frozen, id)
		}
		archDigest, _ := canonicalize.CanonicalHash([]interface{}{st.StoreID, st.Profile, id, tier})
		archived[id] = ArchivedRecord{ArchiveID: canonicalize.MakeID("arc", archDigest), Entry: *e, Tier: tier}
		_ = i
	}

	sort.Strings(warm)
	sort.Strings(cold)
	sort.Strings(frozen)

	st.ArchivalTiers.ActiveReviewIDs = active
	st.ArchivalTiers.Warm = warm
	st.ArchivalTiers.Cold = cold
	st.ArchivalTiers.Frozen = frozen
	st.ArchivalTiers.ArchivedRecords = archived
}
