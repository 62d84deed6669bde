// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"math"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// MockSource is a heading source that sweeps slowly around the dial with a
// little wobble. Used for desktop development.
type MockSource struct {
	origin time.Time
	*poller
}

// NewMockSource creates a mock source.
func NewMockSource() *MockSource {
	m := &MockSource{origin: time.Now()}
	m.poller = newPoller("mock source", m.sample)
	return m
}

func (m *MockSource) sample() (Sample, error) {
	elapsed := time.Since(m.origin).Seconds()
	return Sample{
		Heading: geo.NormalizeAngle(elapsed*30 + 5*math.Sin(elapsed*3)),
		Time:    time.Now(),
	}, nil
}

// Kind implements Source.
func (m *MockSource) Kind() Kind { return KindMock }

// IsAvailable implements Source.
func (m *MockSource) IsAvailable() bool { return true }

// Start implements Source.
func (m *MockSource) Start(intervalMs int, h Handler) error {
	m.start(intervalMs, h)
	return nil
}

// Stop implements Source.
func (m *MockSource) Stop() { m.halt() }

// SetUpdateInterval implements Source.
func (m *MockSource) SetUpdateInterval(ms int) { m.setInterval(ms) }
