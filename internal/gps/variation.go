package gps

import (
	"sync"

	"github.com/relabs-tech/qibla_compass/internal/declination"
	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// VariationProvider serves the magnetic variation reported by the receiver
// as a declination.Provider. Receivers that leave the field empty report 0,
// which is treated as missing.
type VariationProvider struct {
	mu        sync.RWMutex
	variation float64
	have      bool
}

// Update records the variation of a valid fix and reports whether the
// served value changed.
func (v *VariationProvider) Update(f Fix) bool {
	if !f.Valid() || f.MagVariation == 0 {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := !v.have || v.variation != f.MagVariation
	v.variation = f.MagVariation
	v.have = true
	return changed
}

// Declination implements declination.Provider.
func (v *VariationProvider) Declination(geo.Coordinate) (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.have {
		return 0, declination.ErrNoDeclination
	}
	return v.variation, nil
}
