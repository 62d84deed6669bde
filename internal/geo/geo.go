// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geo holds the angle and great-circle helpers used to point at the Kaaba.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for distances.
const EarthRadiusKm = 6371.0

// Coordinate is an observer or target position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Kaaba is the fixed target of the compass.
var Kaaba = Coordinate{Latitude: 21.422487, Longitude: 39.826206}

// Validate reports whether c is finite and inside [-90,90] x [-180,180].
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return fmt.Errorf("coordinate %v is not finite", c)
	}
	if !s2.LatLngFromDegrees(c.Latitude, c.Longitude).IsValid() {
		return fmt.Errorf("coordinate %.6f,%.6f out of range", c.Latitude, c.Longitude)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// NormalizeAngle maps any finite angle into [0,360).
func NormalizeAngle(deg float64) float64 {
	a := math.Mod(math.Mod(deg, 360)+360, 360)
	// math.Mod of a tiny negative value plus 360 can round to exactly 360.
	if a >= 360 {
		a = 0
	}
	return a
}

// Bearing returns the initial great-circle bearing (forward azimuth) from
// observer to target, in degrees clockwise from true north, in [0,360).
//
// For observer == target the azimuth is undefined; the formula still yields
// a finite value (0) which callers may use as-is.
func Bearing(observer, target Coordinate) float64 {
	lat1 := DegToRad(observer.Latitude)
	lat2 := DegToRad(target.Latitude)
	dLon := DegToRad(target.Longitude - observer.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeAngle(RadToDeg(math.Atan2(y, x)))
}

// QiblaBearing is the bearing from observer to the Kaaba.
func QiblaBearing(observer Coordinate) float64 {
	return Bearing(observer, Kaaba)
}

// ShortestSignedDelta returns the shortest rotation from `from` to `to` in
// (-180,180]. Positive means `to` lies clockwise of `from`.
func ShortestSignedDelta(from, to float64) float64 {
	d := NormalizeAngle(to-from+540) - 180
	if d == -180 {
		d = 180
	}
	return d
}

// RotationAngle is the needle rotation that brings heading onto bearing.
func RotationAngle(heading, bearing float64) float64 {
	return ShortestSignedDelta(heading, bearing)
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Coordinate) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}
