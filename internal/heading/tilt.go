package heading

import (
	"fmt"
	"time"
)

// TiltCompensatedSource fuses accelerometer and magnetometer so the heading
// stays correct when the device is not level.
type TiltCompensatedSource struct {
	reader IMURawReader
	*poller
}

// NewTiltCompensatedSource wraps an accelerometer+magnetometer reader.
func NewTiltCompensatedSource(reader IMURawReader) *TiltCompensatedSource {
	s := &TiltCompensatedSource{reader: reader}
	s.poller = newPoller("tilt source", s.sample)
	return s
}

func (s *TiltCompensatedSource) sample() (Sample, error) {
	raw, err := s.reader.ReadRaw()
	if err != nil {
		return Sample{}, err
	}
	if !raw.Accel.IsFinite() || !raw.Mag.IsFinite() {
		return Sample{}, fmt.Errorf("non-finite %s IMU reading", raw.Source)
	}
	if raw.Accel.Norm() == 0 {
		return Sample{}, fmt.Errorf("%s IMU: zero gravity vector", raw.Source)
	}
	return Sample{
		Heading:          TiltCompensatedHeading(raw.Mag, raw.Accel),
		Time:             time.Now(),
		NeedsCalibration: needsCalibration(raw.Mag),
	}, nil
}

// Kind implements Source.
func (s *TiltCompensatedSource) Kind() Kind { return KindTiltCompensated }

// IsAvailable probes both sensors with a single read.
func (s *TiltCompensatedSource) IsAvailable() bool {
	_, err := s.reader.ReadRaw()
	return err == nil
}

// Start implements Source.
func (s *TiltCompensatedSource) Start(intervalMs int, h Handler) error {
	s.start(intervalMs, h)
	return nil
}

// Stop implements Source.
func (s *TiltCompensatedSource) Stop() { s.halt() }

// SetUpdateInterval is applied live.
func (s *TiltCompensatedSource) SetUpdateInterval(ms int) { s.setInterval(ms) }
