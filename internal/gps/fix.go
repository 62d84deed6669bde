package gps

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// ErrNoFix is returned when a fix is void or has no usable position.
var ErrNoFix = errors.New("gps: no valid fix")

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Time         string  `json:"time"`              // e.g. "12:34:56.0000"
	Date         string  `json:"date"`              // dd/mm/yy as sent by the receiver
	Latitude     float64 `json:"lat"`               // decimal degrees
	Longitude    float64 `json:"lon"`               // decimal degrees
	SpeedKnots   float64 `json:"speed_knots"`       // speed over ground
	CourseDeg    float64 `json:"course_deg"`        // course over ground
	Validity     string  `json:"validity"`          // "A" (valid) / "V" (void)
	Quality      string  `json:"quality,omitempty"` // GGA fix quality, "0" = invalid
	Satellites   int64   `json:"satellites"`
	MagVariation float64 `json:"mag_var,omitempty"` // degrees, east positive; 0 when not reported
}

// Valid reports whether the receiver flagged the position as usable.
func (f Fix) Valid() bool {
	return f.Validity == "A"
}

// Coordinate returns the fix position, or ErrNoFix.
func (f Fix) Coordinate() (geo.Coordinate, error) {
	if !f.Valid() {
		return geo.Coordinate{}, ErrNoFix
	}
	c := geo.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %v", ErrNoFix, err)
	}
	return c, nil
}

// DecodeFix parses a Fix published on the GPS topic.
func DecodeFix(payload []byte) (Fix, error) {
	var f Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return Fix{}, fmt.Errorf("gps: decode fix: %w", err)
	}
	return f, nil
}
