package ledger

import "testing"

func TestRing_AppendDeterministicID(t *testing.T) {
	r1 := NewRing("chr", 2048)
	r2 := NewRing("chr", 2048)

	e1, err := r1.Append("misconception_decay", "2024-01-01T00:00:00.000Z", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := r2.Append("misconception_decay", "2024-01-01T00:00:00.000Z", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	if e1.ID != e2.ID {
		t.Fatalf("expected deterministic ids, got %s vs %s", e1.ID, e2.ID)
	}
}

func TestRing_CapEvictsOldest(t *testing.T) {
	r := NewRing("chr", 2)
	for i := 0; i < 5; i++ {
		if _, err := r.Append("note", string(rune('a'+i))+"-ts", map[string]interface{}{"i": i}); err != nil {
			t.Fatal(err)
		}
	}
	if r.Len() != 2 {
		t.Fatalf("expected ring capped at 2, got %d", r.Len())
	}
}

func TestRing_VerifyDetectsTamper(t *testing.T) {
	r := NewRing("chr", 10)
	if _, err := r.Append("note", "t1", map[string]interface{}{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Append("note", "t2", map[string]interface{}{"a": 2}); err != nil {
		t.Fatal(err)
	}
	ok, err := r.Verify()
	if err != nil || !ok {
		t.Fatalf("expected intact chain, got ok=%v err=%v", ok, err)
	}
	r.Entries[0].Data["a"] = 999
	ok, _ = r.Verify()
	if ok {
		t.Fatal("expected tampered chain to fail verification")
	}
}

func TestRing_OrderedByTimestampThenID(t *testing.T) {
	r := NewRing("chr", 10)
	if _, err := r.Append("note", "2024-01-02T00:00:00.000Z", map[string]interface{}{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Append("note", "2024-01-01T00:00:00.000Z", map[string]interface{}{"a": 2}); err != nil {
		t.Fatal(err)
	}
	ordered := r.Ordered()
	if ordered[0].Timestamp != "2024-01-01T00:00:00.000Z" {
		t.Fatalf("expected earliest timestamp first, got %+v", ordered)
	}
}
