package memory

import "github.com/Mindburn-Labs/helm-pm/pkg/normalize"

// PainSignalIngestRequest is the normalized input to pain_signal_ingest.
type PainSignalIngestRequest struct {
	MisconceptionKey string
	EvidenceEventIDs []string
	SignalID         string
	Severity         float64
	Timestamp        string
}

// ParsePainSignalIngest normalizes a raw request per §4.10.
func ParsePainSignalIngest(req map[string]interface{}, fallbackTimestamp string) (*PainSignalIngestRequest, error) {
	key, ok, err := normalize.BoundedString(req["misconceptionKey"], "misconceptionKey", 256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "misconceptionKey is required")
	}
	evidence, err := normalize.GuardedStringArray(req["evidenceEventIds"], "evidenceEventIds", normalize.GuardedStringArrayOpts{
		Required: true, RequiredError: "pain_signal_ingest requires at least one evidence event id",
	})
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, normalize.EvidenceMissing("pain_signal_ingest")
	}
	severity := 0.0
	if meta, ok := req["metadata"].(map[string]interface{}); ok {
		severity = normalize.ClampUnit(meta["severity"], 0)
	}
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &PainSignalIngestRequest{
		MisconceptionKey: key, EvidenceEventIDs: evidence,
		SignalID: normalize.StringOrDefault(req["signalId"], ""), Severity: severity, Timestamp: ts,
	}, nil
}

// PainSignalIngest maps an explicit pain signal to a harmful misconception
// update and records an explicit_pain_signal audit event, so counts, decay,
// and anti-patterns stay in one source of truth.
func PainSignalIngest(st *ProfileState, r *PainSignalIngestRequest) (*MisconceptionUpdateResult, error) {
	result, err := MisconceptionUpdate(st, &MisconceptionUpdateRequest{
		MisconceptionKey: r.MisconceptionKey, Signal: "harmful", EvidenceEventIDs: r.EvidenceEventIDs,
		SignalID: r.SignalID, Severity: r.Severity, Timestamp: r.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if _, err := recordAudit(st, "pain_signal_ingest", result.Misconception.MisconceptionID, "allow",
		[]string{"explicit_pain_signal"}, map[string]interface{}{"misconceptionKey": r.MisconceptionKey}, r.Timestamp); err != nil {
		return nil, err
	}
	return result, nil
}

// FailureSignalIngestRequest is the normalized input to failure_signal_ingest.
type FailureSignalIngestRequest struct {
	MisconceptionKey string
	FailureType      string
	EvidenceEventIDs []string
	SignalID         string
	Severity         float64
	Timestamp        string
}

// ParseFailureSignalIngest normalizes a raw request per §4.10.
func ParseFailureSignalIngest(req map[string]interface{}, fallbackTimestamp string) (*FailureSignalIngestRequest, error) {
	key, ok, err := normalize.BoundedString(req["misconceptionKey"], "misconceptionKey", 256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, normalize.Violation("VALIDATION_CONTRACT_VIOLATION", "misconceptionKey is required")
	}
	evidence, err := normalize.GuardedStringArray(req["evidenceEventIds"], "evidenceEventIds", normalize.GuardedStringArrayOpts{
		Required: true, RequiredError: "failure_signal_ingest requires at least one evidence event id",
	})
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, normalize.EvidenceMissing("failure_signal_ingest")
	}
	severity := 0.0
	if meta, ok := req["metadata"].(map[string]interface{}); ok {
		severity = normalize.ClampUnit(meta["severity"], 0)
	}
	ts, err := normalize.ISOTimestamp(req["timestamp"], "timestamp", fallbackTimestamp)
	if err != nil {
		return nil, err
	}
	return &FailureSignalIngestRequest{
		MisconceptionKey: key, FailureType: normalize.StringOrDefault(req["failureType"], "generic"),
		EvidenceEventIDs: evidence, SignalID: normalize.StringOrDefault(req["signalId"], ""),
		Severity: severity, Timestamp: ts,
	}, nil
}

// FailureSignalIngest maps an implicit failure to a harmful misconception
// update and records an implicit_<failureType> audit event.
func FailureSignalIngest(st *ProfileState, r *FailureSignalIngestRequest) (*MisconceptionUpdateResult, error) {
	result, err := MisconceptionUpdate(st, &MisconceptionUpdateRequest{
		MisconceptionKey: r.MisconceptionKey, Signal: "harmful", EvidenceEventIDs: r.EvidenceEventIDs,
		SignalID: r.SignalID, Severity: r.Severity, Timestamp: r.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if _, err := recordAudit(st, "failure_signal_ingest", result.Misconception.MisconceptionID, "allow",
		[]string{"implicit_" + r.FailureType}, map[string]interface{}{"misconceptionKey": r.MisconceptionKey}, r.Timestamp); err != nil {
		return nil, err
	}
	return result, nil
}
