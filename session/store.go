// Package session holds the console's shared market state: the last tick
// per instrument, the selected underlying with its expiries and assembled
// chain, and the feed connection status. One store backs all views.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	tickdesk "github.com/tickdesk/tickdesk-go"
	"github.com/tickdesk/tickdesk-go/chain"
	"github.com/tickdesk/tickdesk-go/feed"
)

// Store is a last-write-wins cache of market state. Ticks are applied in
// arrival order by the feed's single read goroutine, so the newest value
// for an instrument is always the last one written.
type Store struct {
	log zerolog.Logger

	mu       sync.RWMutex
	ticks    map[string]feed.FeedTick
	status   feed.Status
	selected feed.Instrument
	expiries chain.ExpiryList
	snapshot *chain.Snapshot
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		log:    zerolog.Nop(),
		ticks:  make(map[string]feed.FeedTick),
		status: feed.StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option is a functional option for configuring the store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.log = logger
	}
}

// ApplyTick records the newest tick for an instrument. A tick for the
// selected underlying also re-derives the chain's ATM strike.
func (s *Store) ApplyTick(inst feed.Instrument, tick feed.FeedTick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks[inst.Key()] = tick
	if s.snapshot != nil && inst.Key() == s.selected.Key() {
		s.snapshot.Recompute(tick.LastPrice)
	}
}

// Tick returns the last recorded tick for an instrument.
func (s *Store) Tick(inst feed.Instrument) (feed.FeedTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.ticks[inst.Key()]
	return tick, ok
}

// SetStatus records the feed connection status.
func (s *Store) SetStatus(status feed.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status returns the feed connection status.
func (s *Store) Status() feed.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Select replaces the selected underlying and clears its derived state.
// Reselecting the current instrument keeps the loaded expiries and chain.
func (s *Store) Select(inst feed.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.Key() == s.selected.Key() {
		return
	}
	s.selected = inst
	s.expiries = nil
	s.snapshot = nil
}

// Selected returns the selected underlying.
func (s *Store) Selected() feed.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SetExpiries stores the expiry list for an underlying. A list fetched for
// anything but the current selection is rejected as stale.
func (s *Store) SetExpiries(inst feed.Instrument, expiries chain.ExpiryList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.Key() != s.selected.Key() {
		s.log.Debug().Str("instrument", inst.Key()).Msg("discarding stale expiry list")
		return tickdesk.ErrStaleResponse
	}
	s.expiries = expiries
	return nil
}

// Expiries returns the expiry list for the current selection.
func (s *Store) Expiries() chain.ExpiryList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiries
}

// SetChain stores an assembled chain snapshot. The snapshot carries the
// instrument it was fetched for; one tagged with anything but the current
// selection is rejected as stale.
func (s *Store) SetChain(snap *chain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Instrument.Key() != s.selected.Key() {
		s.log.Debug().Str("instrument", snap.Instrument.Key()).Msg("discarding stale chain snapshot")
		return tickdesk.ErrStaleResponse
	}
	// The store keeps its own copy so later tick application never mutates
	// a snapshot the caller still holds.
	cp := snap.Clone()
	if tick, ok := s.ticks[s.selected.Key()]; ok {
		cp.Recompute(tick.LastPrice)
	}
	s.snapshot = cp
	return nil
}

// Chain returns a copy of the chain snapshot for the current selection, or
// nil. The copy's ATM state is detached from subsequent tick application.
func (s *Store) Chain() *chain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Clone()
}

// View is a point-in-time copy of the store, safe to render from without
// holding the store lock.
type View struct {
	Status   feed.Status
	Selected feed.Instrument
	Expiries chain.ExpiryList
	Rows     []chain.StrikeRow
	ATM      float64
	HasATM   bool
	Ticks    map[string]feed.FeedTick
}

// SnapshotView copies the current state.
func (s *Store) SnapshotView() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Status:   s.status,
		Selected: s.selected,
		Expiries: append(chain.ExpiryList(nil), s.expiries...),
		Ticks:    make(map[string]feed.FeedTick, len(s.ticks)),
	}
	for k, t := range s.ticks {
		v.Ticks[k] = t
	}
	if s.snapshot != nil {
		v.Rows = append([]chain.StrikeRow(nil), s.snapshot.Rows()...)
		v.ATM, v.HasATM = s.snapshot.ATMStrike()
	}
	return v
}
