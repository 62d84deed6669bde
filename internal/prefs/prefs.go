// Package prefs holds the user preferences that tune the compass at runtime.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Preference bounds.
const (
	MinToleranceDeg = 1.0
	MaxToleranceDeg = 15.0
	MinIntervalMs   = 30
	MaxIntervalMs   = 300
)

// Preferences are the values a user can change while the compass runs.
type Preferences struct {
	ToleranceDeg        float64 `json:"toleranceDeg"`
	HeadingIntervalMs   int     `json:"headingIntervalMs"`
	HapticsEnabled      bool    `json:"hapticsEnabled"`
	ReduceMotionEnabled bool    `json:"reduceMotionEnabled"`
}

// Default returns the preferences used when nothing is stored.
func Default() Preferences {
	return Preferences{
		ToleranceDeg:      5,
		HeadingIntervalMs: 50,
		HapticsEnabled:    true,
	}
}

// ClampTolerance bounds a tolerance to [1,15] degrees.
func ClampTolerance(deg float64) float64 {
	if math.IsNaN(deg) {
		return Default().ToleranceDeg
	}
	return math.Max(MinToleranceDeg, math.Min(MaxToleranceDeg, deg))
}

// ClampInterval bounds an update interval to [30,300] ms.
func ClampInterval(ms int) int {
	if ms < MinIntervalMs {
		return MinIntervalMs
	}
	if ms > MaxIntervalMs {
		return MaxIntervalMs
	}
	return ms
}

// Normalize returns p with every value inside its bounds.
func (p Preferences) Normalize() Preferences {
	p.ToleranceDeg = ClampTolerance(p.ToleranceDeg)
	p.HeadingIntervalMs = ClampInterval(p.HeadingIntervalMs)
	return p
}

// Load reads preferences from a JSON file. Missing keys keep their default;
// a missing file yields the defaults.
func Load(path string) (Preferences, error) {
	p := Default()

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read preferences: %w", err)
	}

	if err := json.Unmarshal(b, &p); err != nil {
		return Default(), fmt.Errorf("parse preferences %s: %w", path, err)
	}
	return p.Normalize(), nil
}

// Save writes preferences as JSON.
func Save(path string, p Preferences) error {
	b, err := json.MarshalIndent(p.Normalize(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
