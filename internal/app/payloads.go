package app

import (
	"time"

	"github.com/relabs-tech/qibla_compass/internal/alignment"
	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/heading"
)

// HeadingMessage is published on the heading topic for every reading.
type HeadingMessage struct {
	Heading          float64      `json:"heading"`
	Magnetic         float64      `json:"magnetic"`
	Declination      float64      `json:"declination"`
	Source           heading.Kind `json:"source"`
	NeedsCalibration bool         `json:"needs_calibration"`
	Time             string       `json:"time"`
}

// AlignmentMessage is published on the alignment topic while a target is known.
type AlignmentMessage struct {
	Target      float64             `json:"target"`
	DistanceKm  float64             `json:"distance_km"`
	Heading     float64             `json:"heading"`
	SignedDelta float64             `json:"signed_delta"`
	Aligned     bool                `json:"aligned"`
	Direction   alignment.Direction `json:"direction"`
	Haptic      bool                `json:"haptic"`
	Glow        bool                `json:"glow"`
	Time        string              `json:"time"`
}

// StatusMessage is published (retained) on the status topic on every change.
type StatusMessage struct {
	Heading  heading.State `json:"heading"`
	Error    string        `json:"error,omitempty"`
	Sensor   string        `json:"sensor_error,omitempty"`
	Location string        `json:"location_error,omitempty"`
}

func newHeadingMessage(u compass.Update) HeadingMessage {
	return HeadingMessage{
		Heading:          u.Reading.Heading,
		Magnetic:         u.Reading.Magnetic,
		Declination:      u.Reading.Declination,
		Source:           u.Reading.Source,
		NeedsCalibration: u.CalibrationHint,
		Time:             u.Reading.Time.UTC().Format(time.RFC3339Nano),
	}
}

// newAlignmentMessage returns false when the update carries no target.
func newAlignmentMessage(u compass.Update) (AlignmentMessage, bool) {
	if u.Alignment == nil {
		return AlignmentMessage{}, false
	}
	a := u.Alignment
	return AlignmentMessage{
		Target:      a.Target,
		DistanceKm:  u.DistanceKm,
		Heading:     a.Heading,
		SignedDelta: a.SignedDelta,
		Aligned:     a.Aligned,
		Direction:   a.Direction,
		Haptic:      u.Haptic,
		Glow:        u.Glow,
		Time:        u.Reading.Time.UTC().Format(time.RFC3339Nano),
	}, true
}

func newStatusMessage(st compass.Status) StatusMessage {
	m := StatusMessage{Heading: st.Heading}
	if err := st.Err(); err != nil {
		m.Error = err.Error()
	}
	if st.SensorErr != nil {
		m.Sensor = st.SensorErr.Error()
	}
	if st.LocationErr != nil {
		m.Location = st.LocationErr.Error()
	}
	return m
}
