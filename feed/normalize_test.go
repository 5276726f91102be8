package feed

import (
	"encoding/json"
	"testing"
	"time"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("decoding fixture: %v", err)
	}
	return m
}

func TestExtractField_CandidateOrder(t *testing.T) {
	record := map[string]any{"ltp": 2.0, "LTP": 1.0}

	v, ok := ExtractField(record, "LTP", "ltp")
	if !ok || v != 1.0 {
		t.Fatalf("first candidate must win, got %v", v)
	}
	v, ok = ExtractField(record, "last_price", "ltp")
	if !ok || v != 2.0 {
		t.Fatalf("fallback candidate not used, got %v", v)
	}
	if _, ok := ExtractField(record, "absent"); ok {
		t.Fatal("absent keys must report false")
	}
}

func TestExtractString_StringifiesNumbers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string id", `{"security_id":"13"}`, "13"},
		{"numeric id", `{"security_id":13}`, "13"},
		{"float id", `{"security_id":13.0}`, "13"},
		{"camel case", `{"securityId":"13"}`, "13"},
		{"terse key", `{"tk":"13"}`, "13"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractString(decode(t, tt.raw), securityIDKeys...)
			if !ok || got != tt.want {
				t.Fatalf("got %q (ok=%v), want %q", got, ok, tt.want)
			}
		})
	}
}

func TestExtractNumber_Coercions(t *testing.T) {
	record := map[string]any{"a": 1.5, "b": "2.25", "c": " 3 ", "d": "nope"}

	if v, ok := ExtractNumber(record, "a"); !ok || v != 1.5 {
		t.Fatalf("float64: %v %v", v, ok)
	}
	if v, ok := ExtractNumber(record, "b"); !ok || v != 2.25 {
		t.Fatalf("numeric string: %v %v", v, ok)
	}
	if v, ok := ExtractNumber(record, "c"); !ok || v != 3 {
		t.Fatalf("padded string: %v %v", v, ok)
	}
	if _, ok := ExtractNumber(record, "d"); ok {
		t.Fatal("non-numeric string must fail")
	}
}

func TestMatchInstrument(t *testing.T) {
	watched := []Instrument{
		{SecurityID: "13", ExchangeSegment: SegmentIndex},
		{SecurityID: "25", ExchangeSegment: SegmentIndex},
	}

	inst, ok := MatchInstrument(decode(t, `{"security_id":25,"LTP":100}`), watched)
	if !ok || inst.SecurityID != "25" {
		t.Fatalf("numeric id must match by string compare, got %+v", inst)
	}
	if _, ok := MatchInstrument(decode(t, `{"security_id":"99"}`), watched); ok {
		t.Fatal("unwatched id must not match")
	}
	if _, ok := MatchInstrument(decode(t, `{"LTP":100}`), watched); ok {
		t.Fatal("record without an id must not match")
	}
}

func TestParseTick(t *testing.T) {
	now := time.Now()

	tick, ok := ParseTick(decode(t, `{"security_id":"13","LTP":"101.5","change":1.5,"per_change":1.5}`), now)
	if !ok {
		t.Fatal("expected a tick")
	}
	if tick.SecurityID != "13" || tick.LastPrice != 101.5 || tick.Change != 1.5 || tick.ChangePercent != 1.5 {
		t.Fatalf("tick misparsed: %+v", tick)
	}
	if !tick.ReceivedAt.Equal(now) {
		t.Fatalf("ReceivedAt = %v", tick.ReceivedAt)
	}

	if _, ok := ParseTick(decode(t, `{"security_id":"13"}`), now); ok {
		t.Fatal("tick without a price is unusable")
	}
	if _, ok := ParseTick(decode(t, `{"LTP":100}`), now); ok {
		t.Fatal("tick without an id is unusable")
	}
}

func TestTickRecords_Shapes(t *testing.T) {
	var v any
	mustDecode := func(raw string) any {
		t.Helper()
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("decoding fixture: %v", err)
		}
		return v
	}

	if got := tickRecords(mustDecode(`{"security_id":"13","LTP":100}`)); len(got) != 1 {
		t.Fatalf("single object: %d records", len(got))
	}
	if got := tickRecords(mustDecode(`[{"security_id":"13"},{"security_id":"25"}]`)); len(got) != 2 {
		t.Fatalf("array: %d records", len(got))
	}
	if got := tickRecords(mustDecode(`{"data":[{"security_id":"13"}]}`)); len(got) != 1 {
		t.Fatalf("data wrapper: %d records", len(got))
	}

	// Segment-keyed nesting infers id and segment from the map keys.
	got := tickRecords(mustDecode(`{"IDX_I":{"13":{"LTP":100}}}`))
	if len(got) != 1 {
		t.Fatalf("nested: %d records", len(got))
	}
	if id, _ := ExtractString(got[0], securityIDKeys...); id != "13" {
		t.Fatalf("inferred id = %q", id)
	}
	if seg, _ := ExtractString(got[0], segmentKeys...); seg != SegmentIndex {
		t.Fatalf("inferred segment = %q", seg)
	}

	// Explicit fields in the nested record win over inferred ones.
	got = tickRecords(mustDecode(`{"IDX_I":{"13":{"security_id":"99","LTP":100}}}`))
	if id, _ := ExtractString(got[0], securityIDKeys...); id != "99" {
		t.Fatalf("explicit id overridden: %q", id)
	}

	if got := tickRecords(mustDecode(`"just a string"`)); got != nil {
		t.Fatalf("scalar payload: %v", got)
	}
}
