package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// The feed does not use one canonical casing or naming convention across
// message types, so every externally sourced field is read through an
// ordered candidate-key list. First present key wins.

var (
	securityIDKeys = []string{"security_id", "securityId", "SecurityId", "SECURITY_ID", "tk"}
	segmentKeys    = []string{"exchange_segment", "exchangeSegment", "ExchangeSegment", "segment"}
	lastPriceKeys  = []string{"LTP", "ltp", "last_price", "lastPrice", "last_traded_price", "lastTradedPrice"}
	changeKeys     = []string{"change", "ch", "net_change", "netChange"}
	changePctKeys  = []string{"change_percent", "changePercent", "per_change", "perChange", "pch"}
)

// ExtractField returns the value of the first key present in record, in
// candidate order, and whether any key was present.
func ExtractField(record map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := record[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// ExtractString reads the first present candidate key as a string,
// stringifying numbers so id comparisons never depend on numeric formatting.
func ExtractString(record map[string]any, keys ...string) (string, bool) {
	v, ok := ExtractField(record, keys...)
	if !ok || v == nil {
		return "", false
	}
	return stringify(v), true
}

// ExtractNumber reads the first present candidate key as a float64, coercing
// the JSON number representations the feed has been observed to use.
func ExtractNumber(record map[string]any, keys ...string) (float64, bool) {
	v, ok := ExtractField(record, keys...)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// MatchInstrument matches a raw tick to one of the watched instruments by
// comparing stringified security ids. String comparison sidesteps precision
// and formatting mismatches in the upstream payloads. First match wins.
func MatchInstrument(record map[string]any, watched []Instrument) (Instrument, bool) {
	id, ok := ExtractString(record, securityIDKeys...)
	if !ok || id == "" {
		return Instrument{}, false
	}
	for _, inst := range watched {
		if inst.SecurityID == id {
			return inst, true
		}
	}
	return Instrument{}, false
}

// ParseTick converts a raw tick record to the canonical form. A tick without
// a security id or last price is unusable.
func ParseTick(record map[string]any, at time.Time) (FeedTick, bool) {
	id, ok := ExtractString(record, securityIDKeys...)
	if !ok || id == "" {
		return FeedTick{}, false
	}
	price, ok := ExtractNumber(record, lastPriceKeys...)
	if !ok {
		return FeedTick{}, false
	}

	tick := FeedTick{
		SecurityID: id,
		LastPrice:  price,
		ReceivedAt: at,
	}
	if ch, ok := ExtractNumber(record, changeKeys...); ok {
		tick.Change = ch
	}
	if pct, ok := ExtractNumber(record, changePctKeys...); ok {
		tick.ChangePercent = pct
	}
	return tick, true
}

// tickRecords flattens a market_feed payload into individual tick records.
// The payload may be a single tick object, an array of ticks, a {data: ...}
// wrapper, or a segment -> securityId -> tick nesting; ids and segments
// inferred from map keys are folded into the records.
func tickRecords(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		if inner, ok := t["data"]; ok {
			return tickRecords(inner)
		}
		if _, ok := ExtractField(t, securityIDKeys...); ok {
			return []map[string]any{t}
		}
		// Segment-keyed nesting: {"IDX_I": {"13": {...}}}
		var out []map[string]any
		for seg, payload := range t {
			nested, ok := payload.(map[string]any)
			if !ok {
				continue
			}
			for sid, tickVal := range nested {
				tick, ok := tickVal.(map[string]any)
				if !ok {
					continue
				}
				rec := make(map[string]any, len(tick)+2)
				for k, v := range tick {
					rec[k] = v
				}
				if _, ok := ExtractField(rec, securityIDKeys...); !ok {
					rec["security_id"] = sid
				}
				if _, ok := ExtractField(rec, segmentKeys...); !ok {
					rec["exchange_segment"] = seg
				}
				out = append(out, rec)
			}
		}
		return out
	default:
		return nil
	}
}
