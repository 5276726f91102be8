package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickdesk/tickdesk-go/sched"
)

// subscriptionController owns the desired-subscription set and replays it
// to the feed whenever the connection becomes ready. Because the subscribe
// message can race the handshake, the controller re-sends it on a fixed
// interval until at least one inbound tick confirms a desired instrument.
type subscriptionController struct {
	scheduler     sched.Scheduler
	retryInterval time.Duration
	send          func([]byte) error
	log           zerolog.Logger
	onReplay      func()

	// mu guards the desired set and the retry cycle. The version counter
	// invalidates any retry that outlives a desired-set change.
	mu        sync.Mutex
	desired   map[string]Subscription
	version   int
	open      bool
	confirmed bool
	retry     sched.Timer
}

func newSubscriptionController(scheduler sched.Scheduler, retryInterval time.Duration, send func([]byte) error, log zerolog.Logger) *subscriptionController {
	return &subscriptionController{
		scheduler:     scheduler,
		retryInterval: retryInterval,
		send:          send,
		log:           log,
		desired:       make(map[string]Subscription),
	}
}

// setDesired replaces the desired set wholesale. An identical set is a
// no-op; otherwise any outstanding retry cycle is cancelled and, if the
// connection is open, removed instruments are unsubscribed and a fresh
// subscribe cycle starts.
func (sc *subscriptionController) setDesired(subs []Subscription) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	next := make(map[string]Subscription, len(subs))
	for _, s := range subs {
		next[s.key()] = s
	}
	if subsEqual(sc.desired, next) {
		return
	}

	var removed []Subscription
	for k, s := range sc.desired {
		if _, ok := next[k]; !ok {
			removed = append(removed, s)
		}
	}

	sc.desired = next
	sc.version++
	sc.confirmed = false
	sc.cancelRetryLocked()

	if !sc.open {
		return
	}
	if len(removed) > 0 {
		sc.sendGrouped(removed, unsubscribeCode)
	}
	sc.startCycleLocked()
}

// onOpen is called on every transition to the open state, including
// reconnects, and replays the entire desired set.
func (sc *subscriptionController) onOpen() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.open = true
	sc.confirmed = false
	sc.startCycleLocked()
}

// onClosed stops the retry cycle until the next open.
func (sc *subscriptionController) onClosed() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.open = false
	sc.cancelRetryLocked()
}

// confirm is called when an inbound tick matched a watched instrument,
// ending the retry cycle for the current desired-set version.
func (sc *subscriptionController) confirm() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.confirmed {
		return
	}
	sc.confirmed = true
	sc.cancelRetryLocked()
}

// watched returns the desired instruments, deduplicated across modes.
func (sc *subscriptionController) watched() []Instrument {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	seen := make(map[string]bool, len(sc.desired))
	out := make([]Instrument, 0, len(sc.desired))
	for _, s := range sc.desired {
		if seen[s.Instrument.Key()] {
			continue
		}
		seen[s.Instrument.Key()] = true
		out = append(out, s.Instrument)
	}
	return out
}

// startCycleLocked sends one subscribe pass for the whole desired set and
// arms the retry timer. Repeated passes for the same version are
// deduplicated by the confirmation flag. Caller holds sc.mu.
func (sc *subscriptionController) startCycleLocked() {
	if len(sc.desired) == 0 || sc.confirmed {
		return
	}

	subs := make([]Subscription, 0, len(sc.desired))
	for _, s := range sc.desired {
		subs = append(subs, s)
	}
	sc.sendGrouped(subs, subscribeCode)
	if sc.onReplay != nil {
		sc.onReplay()
	}

	version := sc.version
	sc.cancelRetryLocked()
	sc.retry = sc.scheduler.AfterFunc(sc.retryInterval, func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if !sc.open || sc.confirmed || sc.version != version {
			return
		}
		sc.log.Debug().Int("version", version).Msg("subscribe unconfirmed, retrying")
		sc.startCycleLocked()
	})
}

// sendGrouped emits one message per mode (the request code differs), split
// into wire-limit batches. Send failures are logged and dropped; the retry
// cycle covers the gap.
func (sc *subscriptionController) sendGrouped(subs []Subscription, code func(Mode) int) {
	byMode := make(map[Mode][]Instrument)
	for _, s := range subs {
		byMode[s.Mode] = append(byMode[s.Mode], s.Instrument)
	}

	modes := make([]Mode, 0, len(byMode))
	for m := range byMode {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

	for _, mode := range modes {
		instruments := byMode[mode]
		for start := 0; start < len(instruments); start += MaxInstrumentsPerRequest {
			end := start + MaxInstrumentsPerRequest
			if end > len(instruments) {
				end = len(instruments)
			}
			req, err := newSubscribeRequest(code(mode), instruments[start:end])
			if err != nil {
				sc.log.Warn().Err(err).Msg("building subscription request")
				continue
			}
			payload, err := req.toJSON()
			if err != nil {
				sc.log.Warn().Err(err).Msg("encoding subscription request")
				continue
			}
			if err := sc.send(payload); err != nil {
				sc.log.Warn().Err(err).Str("mode", string(mode)).Msg("subscription send dropped")
			}
		}
	}
}

func (sc *subscriptionController) cancelRetryLocked() {
	if sc.retry != nil {
		sc.retry.Stop()
		sc.retry = nil
	}
}

func subsEqual(a, b map[string]Subscription) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
