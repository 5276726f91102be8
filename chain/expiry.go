package chain

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	tickdesk "github.com/tickdesk/tickdesk-go"
	"github.com/tickdesk/tickdesk-go/feed"
)

// SnapshotAPI is the REST surface the resolver consumes. Client implements
// it; tests substitute a fake.
type SnapshotAPI interface {
	ExpiryList(ctx context.Context, inst feed.Instrument) (any, error)
	OptionChain(ctx context.Context, inst feed.Instrument, expiry string) (any, error)
}

// Resolver tracks the currently selected underlying and loads its expiry
// list and default-expiry chain. The initial load for a selection runs at
// most once, however many render or retry paths ask for it, and a result
// that arrives after the selection moved on is discarded as stale.
type Resolver struct {
	api SnapshotAPI
	log zerolog.Logger

	mu       sync.Mutex
	selected feed.Instrument
	version  int
	loaded   bool
	inFlight bool
}

// NewResolver creates a resolver over the given snapshot API.
func NewResolver(api SnapshotAPI, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		api: api,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select replaces the tracked underlying and re-arms the one-shot load
// guard. Selecting the already selected instrument is a no-op.
func (r *Resolver) Select(inst feed.Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.Key() == r.selected.Key() {
		return
	}
	r.selected = inst
	r.version++
	r.loaded = false
	r.inFlight = false
}

// Selected returns the tracked underlying.
func (r *Resolver) Selected() feed.Instrument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// AutoLoad performs the initial expiry-list plus default-expiry chain fetch
// for the current selection. Duplicate triggers while a load is running or
// after one completed return ErrAlreadyLoaded; a completed attempt, failed
// or not, is never repeated automatically. Reload re-arms the guard for a
// user-initiated retry.
func (r *Resolver) AutoLoad(ctx context.Context, underlyingLastPrice float64) (ExpiryList, *Snapshot, error) {
	r.mu.Lock()
	if !r.selected.Valid() {
		r.mu.Unlock()
		return nil, nil, tickdesk.ErrInvalidInstrument
	}
	if r.loaded || r.inFlight {
		r.mu.Unlock()
		return nil, nil, tickdesk.ErrAlreadyLoaded
	}
	inst := r.selected
	version := r.version
	r.inFlight = true
	r.mu.Unlock()

	expiries, snap, err := r.load(ctx, inst, underlyingLastPrice)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.version != version {
		// Select already reset the guards; this result belongs to a
		// previous selection.
		r.log.Debug().Str("instrument", inst.Key()).Msg("discarding stale snapshot result")
		return nil, nil, tickdesk.ErrStaleResponse
	}
	r.inFlight = false
	r.loaded = true
	return expiries, snap, err
}

// Reload re-arms the load guard and runs the initial fetch again.
func (r *Resolver) Reload(ctx context.Context, underlyingLastPrice float64) (ExpiryList, *Snapshot, error) {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
	return r.AutoLoad(ctx, underlyingLastPrice)
}

func (r *Resolver) load(ctx context.Context, inst feed.Instrument, underlyingLastPrice float64) (ExpiryList, *Snapshot, error) {
	expiries, err := r.FetchExpiries(ctx, inst)
	if err != nil {
		return nil, nil, err
	}
	snap, err := r.FetchChain(ctx, inst, expiries.Default(), underlyingLastPrice)
	if err != nil {
		return expiries, nil, err
	}
	return expiries, snap, nil
}

// FetchExpiries fetches and orders the expiry list for an underlying.
func (r *Resolver) FetchExpiries(ctx context.Context, inst feed.Instrument) (ExpiryList, error) {
	raw, err := r.api.ExpiryList(ctx, inst)
	if err != nil {
		return nil, err
	}
	return parseExpiries(raw)
}

// FetchChain fetches and assembles the chain for one expiry. A response
// arriving after the selection changed is discarded with ErrStaleResponse.
func (r *Resolver) FetchChain(ctx context.Context, inst feed.Instrument, expiry string, underlyingLastPrice float64) (*Snapshot, error) {
	raw, err := r.api.OptionChain(ctx, inst, expiry)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	stale := r.selected.Valid() && r.selected.Key() != inst.Key()
	r.mu.Unlock()
	if stale {
		return nil, tickdesk.ErrStaleResponse
	}

	return Assemble(raw, inst, expiry, underlyingLastPrice)
}

// parseExpiries accepts the enveloped or bare expiry array and returns the
// dates sorted ascending, so the first entry is always the nearest expiry.
func parseExpiries(raw any) (ExpiryList, error) {
	v, err := unwrapPayload(raw)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, schemaErrorFor(v)
	}

	out := make(ExpiryList, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		}
	}
	if len(out) == 0 {
		return nil, tickdesk.ErrNoExpiries
	}
	sort.Strings(out)
	return out, nil
}
