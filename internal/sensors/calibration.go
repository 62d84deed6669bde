// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/imu"
)

// Mag calibration uses the min/max method: the hard-iron offset is the
// center of the per-axis range and each axis is rescaled to the mean
// half-range (diagonal soft-iron approximation).
//
//	corrected = (raw - offset) * scale

const (
	minCalibrationSamples = 50
	// below this half-range (µT) an axis was not rotated through enough
	minHalfRangeUT = 5.0
	confFloor      = 0.05
)

// MagCalibration is persisted as JSON next to the configuration.
type MagCalibration struct {
	Version    int       `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	Offset     imu.Vec3  `json:"mag_offset"` // µT
	Scale      imu.Vec3  `json:"mag_scale"`  // dimensionless
	Confidence float64   `json:"confidence"` // 0..1
	Samples    int       `json:"samples"`
	Notes      []string  `json:"notes,omitempty"`
}

// Usable reports whether the capture was good enough to replace a stored
// calibration.
func (c MagCalibration) Usable() bool {
	return c.Samples >= minCalibrationSamples && c.Confidence > confFloor
}

// Apply corrects one raw reading.
func (c MagCalibration) Apply(v imu.Vec3) imu.Vec3 {
	return imu.Vec3{
		X: (v.X - c.Offset.X) * c.Scale.X,
		Y: (v.Y - c.Offset.Y) * c.Scale.Y,
		Z: (v.Z - c.Offset.Z) * c.Scale.Z,
	}
}

// LoadMagCalibration reads a calibration written by SaveMagCalibration.
func LoadMagCalibration(path string) (MagCalibration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return MagCalibration{}, fmt.Errorf("read mag calibration: %w", err)
	}
	var c MagCalibration
	if err := json.Unmarshal(b, &c); err != nil {
		return MagCalibration{}, fmt.Errorf("parse mag calibration %s: %w", path, err)
	}
	if !c.Offset.IsFinite() || !c.Scale.IsFinite() || c.Scale.X <= 0 || c.Scale.Y <= 0 || c.Scale.Z <= 0 {
		return MagCalibration{}, fmt.Errorf("mag calibration %s: invalid offset or scale", path)
	}
	return c, nil
}

// SaveMagCalibration writes c as indented JSON.
func SaveMagCalibration(path string, c MagCalibration) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write mag calibration: %w", err)
	}
	return nil
}

// CalibratedMag applies a MagCalibration to every reading of an inner reader.
type CalibratedMag struct {
	inner heading.MagReader
	cal   MagCalibration
}

// NewCalibratedMag wraps inner.
func NewCalibratedMag(inner heading.MagReader, cal MagCalibration) *CalibratedMag {
	return &CalibratedMag{inner: inner, cal: cal}
}

// ReadMag implements heading.MagReader.
func (m *CalibratedMag) ReadMag() (imu.Vec3, error) {
	v, err := m.inner.ReadMag()
	if err != nil {
		return imu.Vec3{}, err
	}
	return m.cal.Apply(v), nil
}

// MagCollector accumulates readings while the device is rotated.
type MagCollector struct {
	samples  []imu.Vec3
	min, max imu.Vec3
}

// NewMagCollector creates an empty collector.
func NewMagCollector() *MagCollector {
	inf := math.Inf(1)
	return &MagCollector{
		min: imu.Vec3{X: inf, Y: inf, Z: inf},
		max: imu.Vec3{X: -inf, Y: -inf, Z: -inf},
	}
}

// Add records one reading; non-finite readings are ignored.
func (c *MagCollector) Add(v imu.Vec3) {
	if !v.IsFinite() {
		return
	}
	c.samples = append(c.samples, v)
	c.min = imu.Vec3{X: math.Min(c.min.X, v.X), Y: math.Min(c.min.Y, v.Y), Z: math.Min(c.min.Z, v.Z)}
	c.max = imu.Vec3{X: math.Max(c.max.X, v.X), Y: math.Max(c.max.Y, v.Y), Z: math.Max(c.max.Z, v.Z)}
}

// Len is the number of samples collected.
func (c *MagCollector) Len() int { return len(c.samples) }

// Result computes the calibration. With too few samples or too little
// rotation the scale stays at 1 and the confidence at its floor.
func (c *MagCollector) Result() MagCalibration {
	res := MagCalibration{
		Version:    1,
		Timestamp:  time.Now(),
		Scale:      imu.Vec3{X: 1, Y: 1, Z: 1},
		Confidence: confFloor,
		Samples:    len(c.samples),
	}
	if len(c.samples) < minCalibrationSamples {
		res.Notes = append(res.Notes, "too_few_samples")
		return res
	}

	res.Offset = imu.Vec3{
		X: (c.max.X + c.min.X) / 2,
		Y: (c.max.Y + c.min.Y) / 2,
		Z: (c.max.Z + c.min.Z) / 2,
	}
	half := imu.Vec3{
		X: (c.max.X - c.min.X) / 2,
		Y: (c.max.Y - c.min.Y) / 2,
		Z: (c.max.Z - c.min.Z) / 2,
	}
	if half.X < minHalfRangeUT || half.Y < minHalfRangeUT || half.Z < minHalfRangeUT {
		res.Notes = append(res.Notes, "insufficient_mag_excitation: rotate more in 3D / move away from metal")
		return res
	}

	ref := (half.X + half.Y + half.Z) / 3
	res.Scale = imu.Vec3{X: ref / half.X, Y: ref / half.Y, Z: ref / half.Z}

	coverage := coverageConfidence(half)
	sphericity := sphericityConfidence(c.samples, res)
	res.Confidence = math.Max(confFloor, clamp01(0.55*coverage+0.45*sphericity))
	return res
}

// coverageConfidence rewards balanced excitation across axes.
func coverageConfidence(half imu.Vec3) float64 {
	m := (half.X + half.Y + half.Z) / 3
	if m <= 0 {
		return confFloor
	}
	return clamp01(1.0 - (std3(half.X, half.Y, half.Z)/m)/0.7)
}

// sphericityConfidence checks that corrected norms are near-constant, which
// holds when the rotation covered all orientations.
func sphericityConfidence(samples []imu.Vec3, cal MagCalibration) float64 {
	norms := make([]float64, 0, len(samples))
	for _, s := range samples {
		norms = append(norms, cal.Apply(s).Norm())
	}
	mean, sd := meanStd(norms)
	if mean <= 0 {
		return confFloor
	}
	return clamp01(1.0 - (sd/mean)/0.5)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func meanStd(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))
	var s float64
	for _, v := range xs {
		d := v - mean
		s += d * d
	}
	return mean, math.Sqrt(s / float64(len(xs)))
}

func std3(a, b, c float64) float64 {
	m := (a + b + c) / 3
	return math.Sqrt(((a-m)*(a-m) + (b-m)*(b-m) + (c-m)*(c-m)) / 3)
}
