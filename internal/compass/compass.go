// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package compass composes heading acquisition, the Qibla bearing and the
// alignment engine into one feature with an explicit start/stop lifecycle.
package compass

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/alignment"
	"github.com/relabs-tech/qibla_compass/internal/geo"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/prefs"
)

// Errors reported through Status.
var (
	ErrSensorUnavailable   = errors.New("heading sensor unavailable")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
)

// DefaultRatingPromptAfter is the number of aligned edges after which the
// session suggests a rating prompt.
const DefaultRatingPromptAfter = 3

// Options configures a Session.
type Options struct {
	Preferences prefs.Preferences

	// RatingPromptAfter <= 0 selects the default; use -1 to disable.
	RatingPromptAfter int

	Now func() time.Time
}

// Update is pushed to subscribers for every corrected heading.
type Update struct {
	Reading    heading.Reading   `json:"reading"`
	HaveTarget bool              `json:"have_target"`
	Target     float64           `json:"target"`
	DistanceKm float64           `json:"distance_km,omitempty"`
	Alignment  *alignment.Result `json:"alignment,omitempty"`

	// Feedback gated by the user preferences. Alignment is always computed.
	Haptic bool `json:"haptic"`
	Glow   bool `json:"glow"`

	PromptRating    bool `json:"prompt_rating,omitempty"`
	CalibrationHint bool `json:"calibration_hint,omitempty"`
}

// Status describes the availability of heading and location.
type Status struct {
	Heading     heading.State `json:"heading"`
	SensorErr   error         `json:"-"`
	LocationErr error         `json:"-"`
}

// Err returns the first error to show to the user, or nil.
func (s Status) Err() error {
	if s.SensorErr != nil {
		return s.SensorErr
	}
	return s.LocationErr
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Session is one active compass feature.
type Session struct {
	agg         *heading.Aggregator
	now         func() time.Time
	promptAfter int

	mu           sync.Mutex
	engine       *alignment.Engine
	observer     geo.Coordinate
	haveObserver bool
	locErr       error
	state        heading.State
	prefs        prefs.Preferences
	alignedEdges int
	prompted     bool
	skipEdge     bool      // a tolerance change reset the engine
	lastReading  time.Time // newest reading evaluated
	nextID       int
	subs         []subscriber[Update]
	statusSubs   []subscriber[Status]

	unsubReading func()
	unsubState   func()
}

// New creates a Session around agg. The session subscribes to agg until
// Close is called.
func New(agg *heading.Aggregator, opts Options) *Session {
	p := opts.Preferences
	if p == (prefs.Preferences{}) {
		p = prefs.Default()
	}
	p = p.Normalize()

	promptAfter := opts.RatingPromptAfter
	if promptAfter == 0 {
		promptAfter = DefaultRatingPromptAfter
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		agg:         agg,
		now:         now,
		promptAfter: promptAfter,
		engine:      alignment.NewEngine(p.ToleranceDeg),
		prefs:       p,
		state:       agg.State(),
	}
	agg.SetUpdateInterval(p.HeadingIntervalMs)

	s.unsubState = agg.SubscribeState(s.onState)
	s.unsubReading = agg.Subscribe(s.onReading)
	return s
}

// Start begins heading acquisition.
func (s *Session) Start() {
	s.agg.Start()
}

// Stop releases the sensors. Subscriptions are kept.
func (s *Session) Stop() {
	s.agg.Stop()
}

// Retry restarts heading acquisition after it became unavailable.
func (s *Session) Retry() {
	s.agg.Retry()
}

// Close stops the session and detaches it from the aggregator.
func (s *Session) Close() {
	s.agg.Stop()
	s.unsubReading()
	s.unsubState()
}

// SetObserver sets the observer position and recomputes the target bearing.
func (s *Session) SetObserver(c geo.Coordinate) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("observer: %w", err)
	}

	bearing := geo.QiblaBearing(c)

	s.mu.Lock()
	s.observer = c
	s.haveObserver = true
	s.engine.SetTarget(bearing)
	hadErr := s.locErr != nil
	s.locErr = nil
	st := s.statusLocked()
	s.mu.Unlock()

	s.agg.SetObserver(c)
	log.Printf("compass: observer %s, qibla bearing %.2f°", c, bearing)

	if hadErr {
		s.notifyStatus(st)
	}
	s.reevaluate()
	return nil
}

// RefreshDeclination re-estimates the declination for the current observer
// and re-evaluates the alignment with it.
func (s *Session) RefreshDeclination() {
	s.agg.RefreshDeclination()
	s.reevaluate()
}

// SetLocationError reports that no observer position is available. The
// target is dropped and alignment is suppressed until SetObserver is called.
func (s *Session) SetLocationError(err error) {
	if err == nil {
		return
	}
	if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrLocationUnavailable) {
		err = fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}

	s.mu.Lock()
	s.locErr = err
	s.haveObserver = false
	s.engine.ClearTarget()
	st := s.statusLocked()
	s.mu.Unlock()

	log.Printf("compass: %v", err)
	s.notifyStatus(st)
}

// Target returns the Qibla bearing, if an observer is known.
func (s *Session) Target() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Target()
}

// Status returns the current availability.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{Heading: s.state, LocationErr: s.locErr}
	if s.state == heading.StateUnavailable {
		st.SensorErr = ErrSensorUnavailable
	}
	return st
}

// Preferences returns the preferences in effect.
func (s *Session) Preferences() prefs.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// ApplyPreferences pushes preference changes live.
func (s *Session) ApplyPreferences(p prefs.Preferences) {
	p = p.Normalize()

	s.mu.Lock()
	old := s.prefs
	s.prefs = p
	toleranceChanged := p.ToleranceDeg != old.ToleranceDeg
	if toleranceChanged {
		s.engine.SetTolerance(p.ToleranceDeg)
		s.skipEdge = true
	}
	s.mu.Unlock()

	if p.HeadingIntervalMs != old.HeadingIntervalMs {
		s.agg.SetUpdateInterval(p.HeadingIntervalMs)
	}
	if p != old {
		log.Printf("compass: preferences tolerance=%.1f° interval=%dms haptics=%v reduce_motion=%v",
			p.ToleranceDeg, p.HeadingIntervalMs, p.HapticsEnabled, p.ReduceMotionEnabled)
	}
	if toleranceChanged {
		s.reevaluate()
	}
}

// SetTolerance changes the alignment tolerance.
func (s *Session) SetTolerance(deg float64) {
	p := s.Preferences()
	p.ToleranceDeg = deg
	s.ApplyPreferences(p)
}

// SetUpdateInterval changes the sensor update interval.
func (s *Session) SetUpdateInterval(ms int) {
	p := s.Preferences()
	p.HeadingIntervalMs = ms
	s.ApplyPreferences(p)
}

// SetHaptics enables or disables haptic pulses.
func (s *Session) SetHaptics(enabled bool) {
	p := s.Preferences()
	p.HapticsEnabled = enabled
	s.ApplyPreferences(p)
}

// SetReduceMotion enables or disables the alignment glow.
func (s *Session) SetReduceMotion(enabled bool) {
	p := s.Preferences()
	p.ReduceMotionEnabled = enabled
	s.ApplyPreferences(p)
}

// reevaluate runs the latest reading through the engine again after the
// target, tolerance or declination changed, so outputs do not wait for the
// next sample of a paused source.
func (s *Session) reevaluate() {
	r, ok := s.agg.Latest()
	if !ok {
		return
	}
	r.Declination = s.agg.Declination()
	r.Heading = geo.NormalizeAngle(r.Magnetic + r.Declination)
	s.onReading(r)
}

func (s *Session) onReading(r heading.Reading) {
	s.mu.Lock()
	if r.Time.Before(s.lastReading) {
		s.mu.Unlock()
		return
	}
	s.lastReading = r.Time
	u := Update{
		Reading:         r,
		CalibrationHint: r.NeedsCalibration,
	}
	if res, ok := s.engine.Update(r.Heading, s.now()); ok {
		u.Alignment = &res
		u.HaveTarget = true
		u.Target = res.Target
		u.DistanceKm = geo.DistanceKm(s.observer, geo.Kaaba)
		u.Haptic = res.Pulse && s.prefs.HapticsEnabled
		u.Glow = res.Aligned && !s.prefs.ReduceMotionEnabled

		skip := s.skipEdge
		s.skipEdge = false
		if res.Changed && res.Aligned && !skip {
			s.alignedEdges++
			if s.promptAfter > 0 && !s.prompted && s.alignedEdges >= s.promptAfter {
				s.prompted = true
				u.PromptRating = true
			}
		}
	}
	subs := s.subs
	s.mu.Unlock()

	for _, sub := range subs {
		safeCall(sub.fn, u)
	}
}

func (s *Session) onState(st heading.State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	status := s.statusLocked()
	s.mu.Unlock()

	s.notifyStatus(status)
}

// Subscribe registers fn for heading/alignment updates.
func (s *Session) Subscribe(fn func(Update)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(append([]subscriber[Update](nil), s.subs...), subscriber[Update]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.subs = without(s.subs, id)
		s.mu.Unlock()
	}
}

// SubscribeStatus registers fn for availability changes. The current status
// is delivered immediately.
func (s *Session) SubscribeStatus(fn func(Status)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.statusSubs = append(append([]subscriber[Status](nil), s.statusSubs...), subscriber[Status]{id: id, fn: fn})
	st := s.statusLocked()
	s.mu.Unlock()

	safeCall(fn, st)

	return func() {
		s.mu.Lock()
		s.statusSubs = without(s.statusSubs, id)
		s.mu.Unlock()
	}
}

func (s *Session) notifyStatus(st Status) {
	s.mu.Lock()
	subs := s.statusSubs
	s.mu.Unlock()

	for _, sub := range subs {
		safeCall(sub.fn, st)
	}
}

func without[T any](subs []subscriber[T], id int) []subscriber[T] {
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
			log.Printf("compass: subscriber panic: %v", r)
		}
	}()
	fn(v)
}
