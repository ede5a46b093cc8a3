// Package ledger implements the append-only, hash-chained, capped rings used
// throughout the profile state: misconception chronology, curriculum
// conflict history, and the policy audit trail.
//
// Every entry's identity and ordering key are derived from request-supplied
// data rather than wall-clock reads or random sequence ids, so the chain is
// reproducible from identical inputs. The ring trims to a fixed capacity
// ordered by (timestamp, id) rather than growing without bound.
package ledger

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/helm-pm/pkg/canonicalize"
)

// Entry is one note appended to a chronology ring.
type Entry struct {
	ID          string                 `json:"id"`
	Sequence    uint64                 `json:"sequence"`
	Timestamp   string                 `json:"timestamp"`
	EntryType   string                 `json:"entryType"`
	Data        map[string]interface{} `json:"data"`
	PrevHash    string                 `json:"prevHash"`
	ContentHash string                 `json:"contentHash"`
}

// Ring is a capped, hash-chained, append-only sequence of Entry values.
type Ring struct {
	Prefix   string  `json:"-"`
	Cap      int     `json:"cap"`
	Entries  []Entry `json:"entries"`
	headHash string
	seq      uint64
}

// NewRing creates a ring that mints IDs with the given prefix and evicts
// down to cap entries (ordered by (timestamp,id)) after every append.
func NewRing(prefix string, cap int) *Ring {
	return &Ring{Prefix: prefix, Cap: cap, headHash: "genesis"}
}

// Append adds entryType/data (keyed on timestamp for ordering) to the ring,
// computing its content hash and a content-addressed id, then trims the ring
// to its cap.
func (r *Ring) Append(entryType, timestamp string, data map[string]interface{}) (Entry, error) {
	r.rehydrateHead()
	r.seq++

	hashInput := map[string]interface{}{
		"sequence":  r.seq,
		"entryType": entryType,
		"timestamp": timestamp,
		"data":      data,
		"prevHash":  r.headHash,
	}
	digest, err := canonicalize.CanonicalHash(hashInput)
	if err != nil {
		return Entry{}, fmt.Errorf("chronology: hashing entry: %w", err)
	}
	id := canonicalize.MakeID(r.Prefix, digest)

	entry := Entry{
		ID:          id,
		Sequence:    r.seq,
		Timestamp:   timestamp,
		EntryType:   entryType,
		Data:        data,
		PrevHash:    r.headHash,
		ContentHash: digest,
	}
	r.Entries = append(r.Entries, entry)
	r.headHash = digest
	r.trim()
	return entry, nil
}

// rehydrateHead recomputes seq/headHash from Entries after a snapshot load,
// where the unexported bookkeeping fields are zero-valued.
func (r *Ring) rehydrateHead() {
	if len(r.Entries) == 0 || r.seq != 0 {
		return
	}
	last := r.Entries[len(r.Entries)-1]
	r.seq = last.Sequence
	r.headHash = last.ContentHash
}

// trim evicts the oldest entries, by (timestamp, id), until len(Entries) <= Cap.
func (r *Ring) trim() {
	if r.Cap <= 0 || len(r.Entries) <= r.Cap {
		return
	}
	sort.SliceStable(r.Entries, func(i, j int) bool {
		if r.Entries[i].Timestamp != r.Entries[j].Timestamp {
			return r.Entries[i].Timestamp < r.Entries[j].Timestamp
		}
		return r.Entries[i].ID < r.Entries[j].ID
	})
	r.Entries = r.Entries[len(r.Entries)-r.Cap:]
}

// Len returns the number of entries currently retained.
func (r *Ring) Len() int { return len(r.Entries) }

// Ordered returns entries sorted by (timestamp, id) ascending.
func (r *Ring) Ordered() []Entry {
	out := append([]Entry{}, r.Entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Verify recomputes the hash chain over Entries in sequence order and
// reports whether it is intact.
func (r *Ring) Verify() (bool, error) {
	byOrder := append([]Entry{}, r.Entries...)
	sort.Slice(byOrder, func(i, j int) bool { return byOrder[i].Sequence < byOrder[j].Sequence })

	prev := "genesis"
	for _, e := range byOrder {
		if e.PrevHash != prev {
			return false, fmt.Errorf("chronology: chain broken at seq %d", e.Sequence)
		}
		hashInput := map[string]interface{}{
			"sequence": e.Sequence, "entryType": e.EntryType, "timestamp": e.Timestamp,
			"data": e.Data, "prevHash": e.PrevHash,
		}
		digest, err := canonicalize.CanonicalHash(hashInput)
		if err != nil {
			return false, err
		}
		if digest != e.ContentHash {
			return false, fmt.Errorf("chronology: hash mismatch at seq %d", e.Sequence)
		}
		prev = e.ContentHash
	}
	return true, nil
}
