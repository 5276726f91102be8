package chain

import (
	"errors"
	"testing"

	"github.com/tickdesk/tickdesk-go/feed"
)

var nifty = feed.Instrument{SecurityID: "13", ExchangeSegment: feed.SegmentIndex, Symbol: "NIFTY"}

const chainFixture = `{
	"status": "success",
	"data": {
		"last_price": 160.0,
		"oc": {
			"100.000000": {"ce": {"last_price": 62.5, "oi": 1200}, "pe": {"last_price": 1.1, "oi": 300}},
			"150.000000": {"ce": {"last_price": 14.2, "oi": 5400}, "pe": {"last_price": 3.9, "oi": 2100}},
			"200.000000": {"ce": {"last_price": 0.0, "oi": 0}, "pe": {"last_price": 41.0, "oi": 900}},
			"250.000000": {"ce": {"last_price": 0.0, "oi": 0}, "pe": {"last_price": 0.0, "oi": 0}}
		}
	}
}`

func TestAssemble_FiltersAndOrders(t *testing.T) {
	snap, err := Assemble(decode(t, chainFixture), nifty, "2026-08-27", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := snap.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 liquid rows, got %d", len(rows))
	}
	for i, want := range []float64{100, 150, 200} {
		if rows[i].Strike != want {
			t.Fatalf("row %d strike = %v, want %v", i, rows[i].Strike, want)
		}
	}
	if len(snap.AllRows()) != 4 {
		t.Fatalf("expected 4 parsed rows, got %d", len(snap.AllRows()))
	}

	// 200 is liquid: the put leg carries a price even though the call is zero.
	if !rows[2].Liquid() {
		t.Fatal("row with one priced leg must be liquid")
	}
	if rows[2].Call == nil || rows[2].Call.LastPrice != 0 {
		t.Fatal("zero-priced call leg should still be present")
	}

	if snap.UnderlyingLastPrice != 160 {
		t.Fatalf("underlying price = %v, want payload value 160", snap.UnderlyingLastPrice)
	}
}

func TestAssemble_ATMStrike(t *testing.T) {
	snap, err := Assemble(decode(t, chainFixture), nifty, "2026-08-27", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 160 is nearer 150 than 200.
	atm, ok := snap.ATMStrike()
	if !ok || atm != 150 {
		t.Fatalf("ATM at 160 = %v (ok=%v), want 150", atm, ok)
	}

	// 175 is equidistant from 150 and 200: the lower strike wins.
	snap.Recompute(175)
	atm, ok = snap.ATMStrike()
	if !ok || atm != 150 {
		t.Fatalf("ATM at 175 = %v (ok=%v), want 150", atm, ok)
	}

	snap.Recompute(0)
	if _, ok := snap.ATMStrike(); ok {
		t.Fatal("no ATM without an underlying price")
	}
}

func TestAssemble_LegKeyCasings(t *testing.T) {
	raw := decode(t, `{
		"150": {"CE": {"lastPrice": 10, "OI": 100}, "PE": {"LTP": 5}},
		"200": {"call": {"ltp": "2.5"}, "put": {"last_price": 7}}
	}`)
	snap, err := Assemble(raw, nifty, "2026-08-27", 160)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := snap.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Call.LastPrice != 10 || rows[0].Call.OpenInterest != 100 {
		t.Fatalf("CE leg misparsed: %+v", rows[0].Call)
	}
	if rows[0].Put.LastPrice != 5 {
		t.Fatalf("LTP leg misparsed: %+v", rows[0].Put)
	}
	if rows[1].Call.LastPrice != 2.5 {
		t.Fatalf("string price misparsed: %+v", rows[1].Call)
	}
}

func TestAssemble_MergesDuplicateStrikeKeys(t *testing.T) {
	raw := decode(t, `{
		"150": {"ce": {"last_price": 10}},
		"150.000000": {"pe": {"last_price": 4}}
	}`)
	snap, err := Assemble(raw, nifty, "2026-08-27", 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := snap.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 merged row, got %d", len(rows))
	}
	if rows[0].Call == nil || rows[0].Put == nil {
		t.Fatalf("legs not merged across duplicate keys: %+v", rows[0])
	}
}

func TestAssemble_NumericCodeResponse(t *testing.T) {
	_, err := Assemble(decode(t, `{"805": ""}`), nifty, "2026-08-27", 160)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
}

func TestAssemble_UnrecognizedShape(t *testing.T) {
	_, err := Assemble(decode(t, `{"foo": 1, "bar": 2}`), nifty, "2026-08-27", 160)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if len(se.Keys) != 2 {
		t.Fatalf("expected observed keys in error, got %v", se.Keys)
	}
}
