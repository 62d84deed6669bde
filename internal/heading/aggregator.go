// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/declination"
	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// Retry policy defaults.
const (
	DefaultNoDataTimeout = 3 * time.Second
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultMaxAttempts   = 3
)

// State is the aggregator lifecycle state.
type State int

// Aggregator states.
const (
	StateStopped State = iota
	StateStartingPrimary
	StateRunningPrimary
	StateRetryingPrimary
	StateRunningFallback
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStartingPrimary:
		return "starting"
	case StateRunningPrimary:
		return "running_primary"
	case StateRetryingPrimary:
		return "retrying"
	case StateRunningFallback:
		return "running_fallback"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateStopped; st <= StateUnavailable; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown heading state %q", b)
}

// Running reports whether a source is delivering data.
func (s State) Running() bool {
	return s == StateRunningPrimary || s == StateRunningFallback
}

// Options configures an Aggregator. Zero values select the defaults.
type Options struct {
	IntervalMs    int
	NoDataTimeout time.Duration
	RetryBackoff  time.Duration
	MaxAttempts   int
	Estimator     *declination.Estimator
}

// Reading is a declination-corrected heading.
type Reading struct {
	Heading          float64   `json:"heading"`  // true heading
	Magnetic         float64   `json:"magnetic"` // raw source heading
	Declination      float64   `json:"declination"`
	Source           Kind      `json:"source"`
	Time             time.Time `json:"time"`
	NeedsCalibration bool      `json:"needs_calibration"`
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Aggregator owns at most one running Source, corrects its samples for
// declination and fans them out to subscribers. Failover and retries are
// driven by a no-data timeout.
type Aggregator struct {
	sources   []Source
	opts      Options
	estimator *declination.Estimator

	// gen changes on every source (re)start and on Stop. Samples and timers
	// carrying an older generation are dropped.
	gen atomic.Uint64

	mu           sync.Mutex
	state        State
	intervalMs   int
	candidates   []Source
	cand         int
	active       Source
	attempts     int
	timer        *time.Timer
	received     bool
	observer     geo.Coordinate
	haveObserver bool
	declination  float64
	latest       Reading
	haveLatest   bool
	nextID       int
	subs         []subscriber[Reading]
	stateSubs    []subscriber[State]
}

// NewAggregator creates an Aggregator over sources. Sources are tried in
// Kind order regardless of the order given.
func NewAggregator(sources []Source, opts Options) *Aggregator {
	if opts.IntervalMs == 0 {
		opts.IntervalMs = DefaultIntervalMs
	}
	if opts.NoDataTimeout <= 0 {
		opts.NoDataTimeout = DefaultNoDataTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	estimator := opts.Estimator
	if estimator == nil {
		estimator = declination.NewEstimator(nil)
	}

	sorted := append([]Source(nil), sources...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Kind() < sorted[j].Kind()
	})

	return &Aggregator{
		sources:    sorted,
		opts:       opts,
		estimator:  estimator,
		intervalMs: ClampInterval(opts.IntervalMs),
	}
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Latest returns the last corrected reading, if any.
func (a *Aggregator) Latest() (Reading, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.haveLatest
}

// Declination returns the correction currently applied.
func (a *Aggregator) Declination() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.declination
}

// UpdateInterval returns the interval used for the next source start.
func (a *Aggregator) UpdateInterval() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.intervalMs
}

// Start selects the best available source and starts it. It only acts in the
// Stopped state.
func (a *Aggregator) Start() {
	a.begin(StateStopped)
}

// Retry restarts source selection after the aggregator gave up. It only acts
// in the Unavailable state.
func (a *Aggregator) Retry() {
	a.begin(StateUnavailable)
}

func (a *Aggregator) begin(from State) {
	a.mu.Lock()
	if a.state != from {
		a.mu.Unlock()
		return
	}
	gen := a.gen.Add(1)
	a.state = StateStartingPrimary
	a.mu.Unlock()
	a.notifyState(gen, StateStartingPrimary)

	candidates := a.probe()

	a.mu.Lock()
	if a.gen.Load() != gen {
		a.mu.Unlock()
		return
	}
	if len(candidates) == 0 {
		gen = a.gen.Add(1)
		a.state = StateUnavailable
		a.mu.Unlock()
		log.Printf("aggregator: no heading source available")
		a.notifyState(gen, StateUnavailable)
		return
	}
	a.candidates = candidates
	a.cand = 0
	a.attempts = 0
	a.mu.Unlock()

	a.launch(gen)
}

func (a *Aggregator) probe() []Source {
	var out []Source
	for _, s := range a.sources {
		if s.IsAvailable() {
			out = append(out, s)
		} else {
			log.Printf("aggregator: %s source not available", s.Kind())
		}
	}
	return out
}

func (a *Aggregator) launch(gen uint64) {
	a.mu.Lock()
	if a.gen.Load() != gen {
		a.mu.Unlock()
		return
	}
	src := a.candidates[a.cand]
	a.active = src
	a.received = false
	interval := a.intervalMs
	attempt := a.attempts + 1
	a.timer = time.AfterFunc(a.opts.NoDataTimeout, func() {
		a.fail(gen, "no data within timeout")
	})
	a.mu.Unlock()

	log.Printf("aggregator: starting %s source (attempt %d/%d, %dms)",
		src.Kind(), attempt, a.opts.MaxAttempts, interval)

	err := src.Start(interval, func(s Sample) {
		a.onSample(gen, src, s)
	})

	if a.gen.Load() != gen {
		// stopped or timed out while starting
		src.Stop()
		return
	}
	if err != nil {
		a.fail(gen, err.Error())
	}
}

func (a *Aggregator) fail(gen uint64, reason string) {
	a.mu.Lock()
	if a.gen.Load() != gen || a.received {
		a.mu.Unlock()
		return
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	src := a.active
	a.active = nil
	a.attempts++
	next := a.gen.Add(1)

	st := StateRetryingPrimary
	if a.attempts >= a.opts.MaxAttempts {
		st = StateUnavailable
	} else {
		a.cand = (a.cand + 1) % len(a.candidates)
		a.timer = time.AfterFunc(a.opts.RetryBackoff, func() {
			a.launch(next)
		})
	}
	changed := a.state != st
	a.state = st
	attempts := a.attempts
	a.mu.Unlock()

	if src != nil {
		src.Stop()
		log.Printf("aggregator: %s source failed (attempt %d/%d): %s",
			src.Kind(), attempts, a.opts.MaxAttempts, reason)
	}
	if st == StateUnavailable {
		log.Printf("aggregator: giving up, heading unavailable")
	}
	if changed {
		a.notifyState(next, st)
	}
}

func (a *Aggregator) onSample(gen uint64, src Source, s Sample) {
	if !isFinite(s.Heading) {
		return
	}

	a.mu.Lock()
	if a.gen.Load() != gen {
		a.mu.Unlock()
		return
	}
	changed := false
	if !a.received {
		a.received = true
		if a.timer != nil {
			a.timer.Stop()
			a.timer = nil
		}
		st := StateRunningFallback
		if a.cand == 0 {
			st = StateRunningPrimary
		}
		changed = a.state != st
		a.state = st
	}
	st := a.state
	r := Reading{
		Heading:          geo.NormalizeAngle(s.Heading + a.declination),
		Magnetic:         geo.NormalizeAngle(s.Heading),
		Declination:      a.declination,
		Source:           src.Kind(),
		Time:             s.Time,
		NeedsCalibration: s.NeedsCalibration,
	}
	a.latest = r
	a.haveLatest = true
	subs := a.subs
	a.mu.Unlock()

	if changed {
		log.Printf("aggregator: %s source delivering, state %s", src.Kind(), st)
		a.notifyState(gen, st)
	}

	for _, sub := range subs {
		if a.gen.Load() != gen {
			return
		}
		safeCall(sub.fn, r)
	}
}

// Stop releases the active source. Subscriptions are kept. Safe in any state.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	gen := a.gen.Add(1)
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	src := a.active
	a.active = nil
	a.received = false
	changed := a.state != StateStopped
	a.state = StateStopped
	a.mu.Unlock()

	if src != nil {
		src.Stop()
	}
	if changed {
		log.Printf("aggregator: stopped")
		a.notifyState(gen, StateStopped)
	}
}

// SetObserver recomputes the declination for a new observer position. The
// estimate is only refreshed when the coordinate actually changes.
func (a *Aggregator) SetObserver(c geo.Coordinate) {
	a.mu.Lock()
	same := a.haveObserver && a.observer == c
	a.mu.Unlock()
	if same {
		return
	}

	decl := a.estimator.Estimate(c)

	a.mu.Lock()
	a.observer = c
	a.haveObserver = true
	a.declination = decl
	a.mu.Unlock()
	log.Printf("aggregator: declination %.2f° at %s", decl, c)
}

// RefreshDeclination re-estimates the declination at the current observer,
// for when the provider has new data for an unchanged position.
func (a *Aggregator) RefreshDeclination() {
	a.mu.Lock()
	c, have := a.observer, a.haveObserver
	a.mu.Unlock()
	if !have {
		return
	}

	decl := a.estimator.Estimate(c)

	a.mu.Lock()
	if a.observer == c {
		a.declination = decl
	}
	a.mu.Unlock()
	log.Printf("aggregator: declination refreshed to %.2f° at %s", decl, c)
}

// SetUpdateInterval forwards a new interval to the running source and keeps
// it for later starts.
func (a *Aggregator) SetUpdateInterval(ms int) {
	ms = ClampInterval(ms)

	a.mu.Lock()
	a.intervalMs = ms
	src := a.active
	a.mu.Unlock()

	if src != nil {
		src.SetUpdateInterval(ms)
	}
}

// Subscribe registers fn for corrected readings. The latest reading, if any,
// is delivered immediately. The returned func removes the subscription.
func (a *Aggregator) Subscribe(fn func(Reading)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs = appendSub(a.subs, subscriber[Reading]{id: id, fn: fn})
	latest, have := a.latest, a.haveLatest
	a.mu.Unlock()

	if have {
		safeCall(fn, latest)
	}

	return func() {
		a.mu.Lock()
		a.subs = removeSub(a.subs, id)
		a.mu.Unlock()
	}
}

// SubscribeState registers fn for state changes. The current state is
// delivered immediately.
func (a *Aggregator) SubscribeState(fn func(State)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.stateSubs = appendSub(a.stateSubs, subscriber[State]{id: id, fn: fn})
	st := a.state
	a.mu.Unlock()

	safeCall(fn, st)

	return func() {
		a.mu.Lock()
		a.stateSubs = removeSub(a.stateSubs, id)
		a.mu.Unlock()
	}
}

// notifyState delivers st as long as no later transition superseded gen.
func (a *Aggregator) notifyState(gen uint64, st State) {
	a.mu.Lock()
	subs := a.stateSubs
	a.mu.Unlock()

	for _, sub := range subs {
		if a.gen.Load() != gen {
			return
		}
		safeCall(sub.fn, st)
	}
}

// appendSub and removeSub never modify the slice in place, so a snapshot
// taken under the lock can be iterated while subscriptions change.
func appendSub[T any](subs []subscriber[T], s subscriber[T]) []subscriber[T] {
	out := make([]subscriber[T], 0, len(subs)+1)
	out = append(out, subs...)
	return append(out, s)
}

func removeSub[T any](subs []subscriber[T], id int) []subscriber[T] {
	out := make([]subscriber[T], 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func safeCall[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("aggregator: subscriber panic: %v", r)
		}
	}()
	fn(v)
}
