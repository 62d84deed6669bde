// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package declination estimates the magnetic declination used to turn a
// magnetic heading into a true heading.
package declination

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// MaxAbsDeg bounds every estimate.
const MaxAbsDeg = 25.0

// ErrNoDeclination is returned by providers that have no value for a location.
var ErrNoDeclination = errors.New("no declination available")

// Provider is a precise declination source (e.g. a World Magnetic Model
// implementation). Degrees east of true north are positive.
type Provider interface {
	Declination(observer geo.Coordinate) (float64, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(observer geo.Coordinate) (float64, error)

// Declination implements Provider.
func (f ProviderFunc) Declination(observer geo.Coordinate) (float64, error) {
	return f(observer)
}

// Estimator returns a bounded declination for any coordinate. It prefers the
// injected provider and silently falls back to Heuristic.
type Estimator struct {
	provider Provider
}

// NewEstimator creates an Estimator. provider may be nil.
func NewEstimator(provider Provider) *Estimator {
	return &Estimator{provider: provider}
}

// Estimate never fails and always returns a finite value in [-25,25].
func (e *Estimator) Estimate(observer geo.Coordinate) float64 {
	if e != nil && e.provider != nil {
		d, err := e.fromProvider(observer)
		if err == nil {
			return clamp(d)
		}
		log.Printf("declination: provider failed at %s, using heuristic: %v", observer, err)
	}
	return Heuristic(observer)
}

func (e *Estimator) fromProvider(observer geo.Coordinate) (d float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	d, err = e.provider.Declination(observer)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("provider returned non-finite value %v", d)
	}
	return d, nil
}

// Heuristic is a rough offline estimate:
//
//	decl = sin(lon)*10 + (lat/90)*5, clamped to [-25,25]
//
// It is not a magnetic model. Non-finite inputs yield 0.
func Heuristic(observer geo.Coordinate) float64 {
	d := math.Sin(geo.DegToRad(observer.Longitude))*10 + (observer.Latitude/90)*5
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return clamp(d)
}

func clamp(d float64) float64 {
	return math.Max(-MaxAbsDeg, math.Min(MaxAbsDeg, d))
}
