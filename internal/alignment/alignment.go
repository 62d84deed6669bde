// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package alignment decides when the device heading points at the target
// bearing and turns that into edge-triggered feedback events.
package alignment

import (
	"math"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// Defaults taken by the compass when no preference is set.
const (
	DefaultToleranceDeg = 5.0
	PulseInterval       = 800 * time.Millisecond
)

// Direction is the turn hint shown to the user.
type Direction string

// Turn hints.
const (
	TurnRight Direction = "turn right"
	TurnLeft  Direction = "turn left"
	Aligned   Direction = "aligned"
)

// DirectionFor maps a signed correction to a turn hint.
func DirectionFor(signedDelta float64) Direction {
	switch {
	case signedDelta > 0:
		return TurnRight
	case signedDelta < 0:
		return TurnLeft
	default:
		return Aligned
	}
}

// Result is the outcome of one engine update.
type Result struct {
	Heading     float64   `json:"heading"`
	Target      float64   `json:"target"`
	SignedDelta float64   `json:"signed_delta"`
	Aligned     bool      `json:"aligned"`
	Changed     bool      `json:"changed"` // Aligned differs from the previous update
	Pulse       bool      `json:"pulse"`   // throttled feedback trigger
	Direction   Direction `json:"direction"`
}

// Engine is a reducer over (heading, target, tolerance). It is not safe for
// concurrent use.
type Engine struct {
	tolerance   float64
	target      float64
	haveTarget  bool
	lastAligned bool
	lastTrigger time.Time
}

// NewEngine creates an Engine. A non-positive tolerance selects the default.
func NewEngine(toleranceDeg float64) *Engine {
	if toleranceDeg <= 0 || math.IsNaN(toleranceDeg) {
		toleranceDeg = DefaultToleranceDeg
	}
	return &Engine{tolerance: toleranceDeg}
}

// Tolerance returns the alignment tolerance in degrees.
func (e *Engine) Tolerance() float64 {
	return e.tolerance
}

// SetTolerance changes the tolerance and resets the alignment state.
func (e *Engine) SetTolerance(deg float64) {
	if deg <= 0 || math.IsNaN(deg) || deg == e.tolerance {
		return
	}
	e.tolerance = deg
	e.lastAligned = false
	e.lastTrigger = time.Time{}
}

// SetTarget sets the bearing the device must face.
func (e *Engine) SetTarget(bearing float64) {
	e.target = geo.NormalizeAngle(bearing)
	e.haveTarget = true
}

// ClearTarget removes the target. Updates produce nothing until a new target
// is set.
func (e *Engine) ClearTarget() {
	e.haveTarget = false
	e.lastAligned = false
}

// Target returns the current target bearing, if any.
func (e *Engine) Target() (float64, bool) {
	return e.target, e.haveTarget
}

// Update feeds one heading. ok is false when there is no target or the
// heading is not finite; the state is left untouched in that case.
func (e *Engine) Update(heading float64, now time.Time) (res Result, ok bool) {
	if !e.haveTarget || math.IsNaN(heading) || math.IsInf(heading, 0) {
		return Result{}, false
	}

	heading = geo.NormalizeAngle(heading)
	delta := geo.ShortestSignedDelta(heading, e.target)
	aligned := math.Abs(delta) <= e.tolerance

	res = Result{
		Heading:     heading,
		Target:      e.target,
		SignedDelta: delta,
		Aligned:     aligned,
		Changed:     aligned != e.lastAligned,
		Direction:   DirectionFor(delta),
	}
	e.lastAligned = aligned

	if aligned && (e.lastTrigger.IsZero() || now.Sub(e.lastTrigger) > PulseInterval) {
		res.Pulse = true
		e.lastTrigger = now
	}
	return res, true
}
