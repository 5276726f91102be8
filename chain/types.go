// Package chain fetches option-chain snapshots over the broker REST API,
// resolves expiry lists, and assembles the raw per-strike payload into an
// ordered, liquidity-filtered table with an at-the-money marker.
package chain

import (
	"github.com/tickdesk/tickdesk-go/feed"
)

// OptionType identifies the side of an option contract.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// OptionRecord is one leg of a strike row.
type OptionRecord struct {
	Strike       float64
	Type         OptionType
	LastPrice    float64
	OpenInterest float64
}

// StrikeRow pairs the call and put legs at one strike. Either leg may be
// absent.
type StrikeRow struct {
	Strike float64
	Call   *OptionRecord
	Put    *OptionRecord
}

// Liquid reports whether at least one leg carries a positive last price.
// Rows where both legs are zero or missing are placeholder strikes.
func (r StrikeRow) Liquid() bool {
	if r.Call != nil && r.Call.LastPrice > 0 {
		return true
	}
	if r.Put != nil && r.Put.LastPrice > 0 {
		return true
	}
	return false
}

// ExpiryList holds expiry dates in ascending order. The first entry is the
// default expiry.
type ExpiryList []string

// Default returns the nearest expiry, or "" for an empty list.
func (l ExpiryList) Default() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}

// Snapshot is an assembled option chain for one instrument and expiry. The
// instrument identity tags the snapshot so consumers can discard results
// that arrive after the selection changed.
type Snapshot struct {
	Instrument feed.Instrument
	Expiry     string

	// UnderlyingLastPrice is the price the ATM strike was computed against.
	UnderlyingLastPrice float64

	all  []StrikeRow
	rows []StrikeRow

	atm    float64
	hasATM bool
}

// Rows returns the liquidity-filtered strike rows in ascending strike order.
func (s *Snapshot) Rows() []StrikeRow {
	return s.rows
}

// AllRows returns every parsed strike row, including illiquid placeholders,
// in ascending strike order.
func (s *Snapshot) AllRows() []StrikeRow {
	return s.all
}

// ATMStrike returns the at-the-money strike. ok is false when the snapshot
// has no displayable rows or no underlying price.
func (s *Snapshot) ATMStrike() (float64, bool) {
	return s.atm, s.hasATM
}

// Recompute re-derives the ATM strike against a fresh underlying price,
// typically on each live tick. The row set is unchanged.
func (s *Snapshot) Recompute(underlyingLastPrice float64) {
	s.UnderlyingLastPrice = underlyingLastPrice
	s.atm, s.hasATM = atmStrike(s.rows, underlyingLastPrice)
}

// Clone returns a copy whose price and ATM state are independent of the
// receiver. Row slices are shared; they are never mutated after assembly.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	return &cp
}

// atmStrike picks the strike minimizing |strike - price|. Rows are sorted
// ascending, so keeping the first strict minimum breaks ties toward the
// lower strike.
func atmStrike(rows []StrikeRow, price float64) (float64, bool) {
	if len(rows) == 0 || price <= 0 {
		return 0, false
	}
	best := rows[0].Strike
	bestDist := abs(rows[0].Strike - price)
	for _, r := range rows[1:] {
		if d := abs(r.Strike - price); d < bestDist {
			best = r.Strike
			bestDist = d
		}
	}
	return best, true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
