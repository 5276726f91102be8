package chain

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tickdesk/tickdesk-go/feed"
)

// Leg and field casings vary between the documented API and what the
// endpoint actually returns, so legs are read through ordered candidate
// keys the same way feed ticks are.
var (
	callLegKeys     = []string{"ce", "CE", "call", "Call"}
	putLegKeys      = []string{"pe", "PE", "put", "Put"}
	legPriceKeys    = []string{"last_price", "lastPrice", "ltp", "LTP"}
	legOIKeys       = []string{"oi", "OI", "open_interest", "openInterest"}
	underlyingKeys  = []string{"last_price", "lastPrice", "underlying_price", "underlyingPrice", "ltp"}
	strikeTableKeys = []string{"oc", "optionChain", "option_chain", "strikes"}
)

// Assemble parses a decoded option-chain response into a Snapshot. The
// instrument and expiry tag the result; underlyingLastPrice seeds the ATM
// computation and is overridden by a price carried in the payload.
func Assemble(raw any, inst feed.Instrument, expiry string, underlyingLastPrice float64) (*Snapshot, error) {
	v, err := unwrapPayload(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, schemaErrorFor(v)
	}
	if err := numericCodeError(m); err != nil {
		return nil, err
	}

	// The strike table may sit behind an "oc" wrapper that also carries the
	// underlying's own last price.
	table := m
	if wrapped, ok := feed.ExtractField(m, strikeTableKeys...); ok {
		inner, ok := wrapped.(map[string]any)
		if !ok {
			return nil, schemaErrorFor(m)
		}
		if price, ok := feed.ExtractNumber(m, underlyingKeys...); ok && price > 0 {
			underlyingLastPrice = price
		}
		table = inner
		if err := numericCodeError(table); err != nil {
			return nil, err
		}
	}

	byStrike := make(map[float64]*StrikeRow)
	for key, legs := range table {
		strike, err := strconv.ParseFloat(strings.TrimSpace(key), 64)
		if err != nil {
			continue
		}
		legMap, ok := legs.(map[string]any)
		if !ok {
			continue
		}

		row := byStrike[strike]
		if row == nil {
			row = &StrikeRow{Strike: strike}
			byStrike[strike] = row
		}
		if row.Call == nil {
			row.Call = parseLeg(legMap, callLegKeys, strike, OptionCall)
		}
		if row.Put == nil {
			row.Put = parseLeg(legMap, putLegKeys, strike, OptionPut)
		}
	}
	if len(byStrike) == 0 {
		return nil, schemaErrorFor(table)
	}

	all := make([]StrikeRow, 0, len(byStrike))
	for _, row := range byStrike {
		all = append(all, *row)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Strike < all[j].Strike })

	rows := make([]StrikeRow, 0, len(all))
	for _, row := range all {
		if row.Liquid() {
			rows = append(rows, row)
		}
	}

	s := &Snapshot{
		Instrument: inst,
		Expiry:     expiry,
		all:        all,
		rows:       rows,
	}
	s.Recompute(underlyingLastPrice)
	return s, nil
}

// parseLeg reads one option leg. A leg without a parseable last price keeps
// the zero price and is handled by the liquidity filter.
func parseLeg(legs map[string]any, keys []string, strike float64, typ OptionType) *OptionRecord {
	v, ok := feed.ExtractField(legs, keys...)
	if !ok {
		return nil
	}
	leg, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	rec := &OptionRecord{Strike: strike, Type: typ}
	if price, ok := feed.ExtractNumber(leg, legPriceKeys...); ok {
		rec.LastPrice = price
	}
	if oi, ok := feed.ExtractNumber(leg, legOIKeys...); ok {
		rec.OpenInterest = oi
	}
	return rec
}
