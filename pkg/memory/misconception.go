package memory

import (
	"math"
	"sort"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-pm/pkg/normalize"
)

var decayThresholds = []int{1, 2, 3, 5}
var baseDecayByStage = map[int]float64{0: 0, 1: 0.18, 2: 0.24, 3: 0.32, 4: 0.42}
var antiPatternThresholds = []int{2, 3, 5}

// decayStage returns the stage (0..4) for a given harmful count, per the
// thresholds [1,2,3,5].
func decayStage(harmful int) int {
	stage := 0
	for _, t := range decayThresholds {
		if harmful >= t {
			stage++
		}
	}
	if stage > 4 {
		stage = 4
	}
	return stage
}

// MisconceptionUpdateRequest is the normalized input to misconception_update.
type MisconceptionUpdateRequest struct {
	MisconceptionKey  string
	Signal            string
	EvidenceEventIDs  []string
	SignalID          string
	Severity          float64
	Timestamp         string
}

// MisconceptionUpdateResult is the typed response of misconception_update.
type MisconceptionUpdateResult struct {
	Action         string          `json:"action"`
	Misconception  *Misconception  `json:"misconception"`
}

// ParseMisconceptionUpdate normalizes a raw request map per §4.4.
func ParseMisconceptionUpdate(req map[string]interface{}, fallbackTimestamp string) (*MisconceptionUpdateRequest, error) {
	key, ok, err := normalize.BoundedString(req["misconceptionKey"], "misconceptionKey", 256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "misconceptionKey is required")
	}
	signal := normalize.StringOrDefault(req["signal"], "harmful")
	if signal != "harmful" && signal != "helpful" && signal != "correction" {
		signal = "harmful"
	}
	evidence, err := normalize.GuardedStringArray(req["evidenceEventIds"], "evidenceEventIds", normalize.GuardedStringArrayOpts{
		Required: true, RequiredError: "misconception_update requires at least one evidence event id",
	})
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, normalize.EvidenceMissing("misconception_update")
	}
	signalID := normalize.StringOrDefault(req["signalId"], "")
	severity := 0.0
	if meta, ok := req["metadata"].(map[string]interface{}); ok {
		severity = normalize.ClampUnit(meta["severity"], 0)
	}
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &MisconceptionUpdateRequest{
		MisconceptionKey: key, Signal: signal, EvidenceEventIDs: evidence,
		SignalID: signalID, Severity: severity, Timestamp: ts,
	}, nil
}

// MisconceptionUpdate runs the algorithm from §4.4 against st, mutating it
// in place, and returns the typed result.
func MisconceptionUpdate(st *ProfileState, r *MisconceptionUpdateRequest) (*MisconceptionUpdateResult, error) {
	_, digest, err := canonicalize.Fingerprint("mis", []interface{}{st.StoreID, st.Profile, r.MisconceptionKey})
	if err != nil {
		return nil, err
	}
	id := canonicalize.MakeID("mis", digest)

	existing, found := st.Misconceptions[id]
	if found && r.SignalID != "" && existing.SeenSignalIDs[r.SignalID] {
		return &MisconceptionUpdateResult{Action: "noop", Misconception: existing}, nil
	}

	var m *Misconception
	if found {
		m = existing
	} else {
		m = &Misconception{
			MisconceptionID: id, Key: r.MisconceptionKey, Status: "active",
			Confidence: 1.0, SeenSignalIDs: map[string]bool{},
		}
	}
	prevDigest := m.RecordDigest

	if r.SignalID != "" {
		m.SeenSignalIDs[r.SignalID] = true
	}
	switch r.Signal {
	case "harmful":
		m.HarmfulSignalCount++
	case "helpful":
		m.HelpfulSignalCount++
	case "correction":
		m.CorrectionCount++
	}

	stage := decayStage(m.HarmfulSignalCount)
	base := baseDecayByStage[stage]
	penalty := r.Severity * 0.08
	accel := 1.0
	if stage >= 2 {
		accel = 1 + float64(stage-1)*0.35
	}

	var appliedDelta float64
	if r.Signal == "harmful" {
		delta := (base + penalty) * accel
		appliedDelta = -(base + penalty)
		m.Confidence = math.Max(0.05, m.Confidence-delta)
	} else {
		appliedDelta = 0.11
		m.Confidence = normalize.ClampUnit(m.Confidence+0.11, m.Confidence+0.11)
	}
	m.ConfidenceDecay = ConfidenceDecay{Stage: stage, BaseDecay: base, Penalty: penalty, Acceleration: accel, AppliedDelta: round6(appliedDelta)}

	switch {
	case m.Status == "suppressed":
		// sticky
	case m.CorrectionCount >= m.HarmfulSignalCount && m.HarmfulSignalCount > 0:
		m.Status = "resolved"
	default:
		m.Status = "active"
	}

	m.EvidenceEventIDs = normalize.SortedUnique(append(append([]string{}, m.EvidenceEventIDs...), r.EvidenceEventIDs...))

	for _, threshold := range antiPatternThresholds {
		if m.HarmfulSignalCount == threshold && !hasAntiPatternThreshold(m.AntiPatterns, threshold) {
			apDigest, _ := canonicalize.CanonicalHash([]interface{}{id, threshold, r.Timestamp})
			m.AntiPatterns = append(m.AntiPatterns, AntiPattern{
				AntiPatternID: canonicalize.MakeID("ap", apDigest),
				Threshold:     threshold,
				Statement:     "avoid:" + r.MisconceptionKey,
				EvidenceIDs:   m.EvidenceEventIDs,
				SignalIDs:     nonEmpty(r.SignalID),
				ActivatedAt:   r.Timestamp,
			})
		}
	}
	sort.Slice(m.AntiPatterns, func(i, j int) bool {
		if m.AntiPatterns[i].ActivatedAt != m.AntiPatterns[j].ActivatedAt {
			return m.AntiPatterns[i].ActivatedAt < m.AntiPatterns[j].ActivatedAt
		}
		return m.AntiPatterns[i].AntiPatternID < m.AntiPatterns[j].AntiPatternID
	})

	m.SeenSignalIDsList = sortedKeys(m.SeenSignalIDs)
	recordDigest, err := canonicalize.CanonicalHash(m)
	if err != nil {
		return nil, err
	}
	m.RecordDigest = recordDigest
	st.Misconceptions[id] = m

	if prevDigest != recordDigest {
		_, err = st.MisconceptionChronology.Append("misconception_decay", r.Timestamp, map[string]interface{}{
			"misconceptionId": id,
			"changedFields":   []string{"confidence", "status", "harmfulSignalCount", "helpfulSignalCount", "correctionCount"},
			"previousDigest":  prevDigest,
			"nextDigest":      recordDigest,
			"harmfulCount":    m.HarmfulSignalCount,
			"helpfulCount":    m.HelpfulSignalCount,
			"correctionCount": m.CorrectionCount,
		})
		if err != nil {
			return nil, err
		}
	}

	return &MisconceptionUpdateResult{Action: "updated", Misconception: m}, nil
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

func hasAntiPatternThreshold(aps []AntiPattern, threshold int) bool {
	for _, ap := range aps {
		if ap.Threshold == threshold {
			return true
		}
	}
	return false
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
