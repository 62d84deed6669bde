package heading

import (
	"fmt"
	"time"
)

// MagnetometerSource derives the heading from the x/y magnetometer axes. It
// assumes the device is held flat.
type MagnetometerSource struct {
	reader MagReader
	*poller
}

// NewMagnetometerSource wraps a magnetometer reader.
func NewMagnetometerSource(reader MagReader) *MagnetometerSource {
	s := &MagnetometerSource{reader: reader}
	s.poller = newPoller("magnetometer source", s.sample)
	return s
}

func (s *MagnetometerSource) sample() (Sample, error) {
	m, err := s.reader.ReadMag()
	if err != nil {
		return Sample{}, err
	}
	if !m.IsFinite() {
		return Sample{}, fmt.Errorf("non-finite magnetometer reading %+v", m)
	}
	return Sample{
		Heading:          MagHeading(m.X, m.Y),
		Time:             time.Now(),
		NeedsCalibration: needsCalibration(m),
	}, nil
}

// Kind implements Source.
func (s *MagnetometerSource) Kind() Kind { return KindMagnetometer }

// IsAvailable probes the magnetometer with a single read.
func (s *MagnetometerSource) IsAvailable() bool {
	_, err := s.reader.ReadMag()
	return err == nil
}

// Start implements Source.
func (s *MagnetometerSource) Start(intervalMs int, h Handler) error {
	s.start(intervalMs, h)
	return nil
}

// Stop implements Source.
func (s *MagnetometerSource) Stop() { s.halt() }

// SetUpdateInterval is applied live.
func (s *MagnetometerSource) SetUpdateInterval(ms int) { s.setInterval(ms) }
