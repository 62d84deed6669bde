// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package heading turns raw orientation sensors into a single corrected
// compass heading stream.
package heading

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/geo"
	"github.com/relabs-tech/qibla_compass/internal/imu"
)

// Update interval bounds applied by every source.
const (
	MinIntervalMs     = 30
	MaxIntervalMs     = 500
	DefaultIntervalMs = 50
)

// Plausible Earth field band in µT. Outside of it the magnetometer most
// likely needs a figure-eight calibration.
const (
	minEarthFieldUT = 20.0
	maxEarthFieldUT = 70.0
)

// Kind identifies a heading source variant. Lower values are preferred.
type Kind int

// Source kinds, in probe order.
const (
	KindTiltCompensated Kind = iota
	KindMagnetometer
	KindPlatformCompass
	KindMock
)

func (k Kind) String() string {
	switch k {
	case KindTiltCompensated:
		return "tilt_compensated"
	case KindMagnetometer:
		return "magnetometer"
	case KindPlatformCompass:
		return "platform_compass"
	case KindMock:
		return "mock"
	default:
		return "unknown"
	}
}

// Sample is a raw (magnetic) heading produced by a source.
type Sample struct {
	Heading          float64   // degrees, [0,360)
	Time             time.Time // carries a monotonic reading
	NeedsCalibration bool
}

// Handler receives samples from a running source.
type Handler func(Sample)

// Source is one physical or platform heading provider.
//
// Start and Stop are idempotent. Samples are pushed to the handler given to
// Start from a goroutine owned by the source.
type Source interface {
	Kind() Kind
	IsAvailable() bool
	Start(intervalMs int, h Handler) error
	Stop()
	SetUpdateInterval(ms int)
}

// MagReader reads the magnetic field in device coordinates.
type MagReader interface {
	ReadMag() (imu.Vec3, error)
}

// IMURawReader reads accelerometer and magnetometer together.
type IMURawReader interface {
	ReadRaw() (imu.IMURaw, error)
}

// ClampInterval bounds ms to [MinIntervalMs, MaxIntervalMs].
func ClampInterval(ms int) int {
	if ms < MinIntervalMs {
		return MinIntervalMs
	}
	if ms > MaxIntervalMs {
		return MaxIntervalMs
	}
	return ms
}

// MagHeading computes a heading from the horizontal magnetometer components,
// assuming the device lies flat.
func MagHeading(x, y float64) float64 {
	return geo.NormalizeAngle(geo.RadToDeg(math.Atan2(-x, y)))
}

// TiltCompensatedHeading computes the heading of the device y axis for any
// attitude. accel is the gravity reaction vector, mag the field vector, both
// in device coordinates.
//
//	east  = mag × g
//	north = g × east
//	heading = atan2(east.y, north.y)
func TiltCompensatedHeading(mag, accel imu.Vec3) float64 {
	n := accel.Norm()
	if n == 0 {
		n = 1
	}
	g := accel.Scale(1 / n)

	east := mag.Cross(g)
	north := g.Cross(east)

	hy := east.Y
	hx := north.Y
	return geo.NormalizeAngle(geo.RadToDeg(math.Atan2(hy, hx)))
}

func needsCalibration(mag imu.Vec3) bool {
	n := mag.Norm()
	return n < minEarthFieldUT || n > maxEarthFieldUT
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind := KindTiltCompensated; kind <= KindMock; kind++ {
		if kind.String() == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown heading source %q", b)
}
