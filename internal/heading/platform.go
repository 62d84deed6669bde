package heading

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// NativeCompass is a platform compass service that already computes the
// heading and reports it through a callback.
type NativeCompass interface {
	Available() bool
	Start(intervalMs int, cb func(headingDeg float64)) error
	Stop() error
}

// PlatformSource adapts a NativeCompass to Source. The native service has no
// live interval setter, so interval changes restart it.
type PlatformSource struct {
	native NativeCompass

	mu       sync.Mutex
	running  bool
	interval int
	handler  Handler
}

// NewPlatformSource wraps a native compass.
func NewPlatformSource(native NativeCompass) *PlatformSource {
	return &PlatformSource{native: native, interval: DefaultIntervalMs}
}

// Kind implements Source.
func (s *PlatformSource) Kind() Kind { return KindPlatformCompass }

// IsAvailable implements Source.
func (s *PlatformSource) IsAvailable() bool {
	return s.native.Available()
}

// Start implements Source.
func (s *PlatformSource) Start(intervalMs int, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.interval = ClampInterval(intervalMs)
	s.handler = h
	if err := s.native.Start(s.interval, s.forward(h)); err != nil {
		return fmt.Errorf("platform compass start: %w", err)
	}
	s.running = true
	return nil
}

func (s *PlatformSource) forward(h Handler) func(float64) {
	return func(deg float64) {
		if !isFinite(deg) {
			return
		}
		h(Sample{Heading: geo.NormalizeAngle(deg), Time: time.Now()})
	}
}

// Stop implements Source.
func (s *PlatformSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if err := s.native.Stop(); err != nil {
		log.Printf("platform source: stop error: %v", err)
	}
}

// SetUpdateInterval restarts the native service with the new interval when
// it is running.
func (s *PlatformSource) SetUpdateInterval(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = ClampInterval(ms)
	if !s.running {
		return
	}
	if err := s.native.Stop(); err != nil {
		log.Printf("platform source: stop error: %v", err)
	}
	if err := s.native.Start(s.interval, s.forward(s.handler)); err != nil {
		log.Printf("platform source: restart with %dms failed: %v", s.interval, err)
		s.running = false
	}
}
