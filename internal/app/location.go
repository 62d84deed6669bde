package app

import (
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/geo"
	"github.com/relabs-tech/qibla_compass/internal/gps"
)

// minObserverMoveKm filters GPS jitter so the target is not recomputed for
// every fix of a stationary receiver.
const minObserverMoveKm = 0.05

// locationSink is the part of compass.Session fed with positions.
type locationSink interface {
	SetObserver(c geo.Coordinate) error
	SetLocationError(err error)
	RefreshDeclination()
}

// locationTracker turns GPS fixes into observer updates. A void fix only
// becomes a location error while no good position is known; afterwards the
// last position is kept.
type locationTracker struct {
	sink      locationSink
	variation *gps.VariationProvider

	mu     sync.Mutex
	have   bool
	last   geo.Coordinate
	losses int
}

func newLocationTracker(sink locationSink, variation *gps.VariationProvider) *locationTracker {
	return &locationTracker{sink: sink, variation: variation}
}

func (t *locationTracker) onFix(f gps.Fix) {
	varChanged := t.variation != nil && t.variation.Update(f)

	c, err := f.Coordinate()

	t.mu.Lock()
	if err != nil {
		have := t.have
		if have && t.losses == 0 {
			log.Printf("gps: fix lost, keeping last position %s", t.last)
		}
		t.losses++
		t.mu.Unlock()

		if !have {
			t.sink.SetLocationError(fmt.Errorf("%w: %w", compass.ErrLocationUnavailable, err))
		}
		return
	}

	if t.have && geo.DistanceKm(t.last, c) < minObserverMoveKm {
		t.losses = 0
		t.mu.Unlock()
		// same place, but the receiver reports a new magnetic variation
		if varChanged {
			t.sink.RefreshDeclination()
		}
		return
	}
	t.have = true
	t.last = c
	t.losses = 0
	t.mu.Unlock()

	if err := t.sink.SetObserver(c); err != nil {
		log.Printf("gps: %v", err)
	}
}

// onMessage handles a gps.Fix published on the GPS topic.
func (t *locationTracker) onMessage(_ mqtt.Client, msg mqtt.Message) {
	f, err := gps.DecodeFix(msg.Payload())
	if err != nil {
		log.Printf("gps: %v", err)
		return
	}
	t.onFix(f)
}
