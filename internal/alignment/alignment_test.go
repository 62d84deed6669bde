package alignment

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEdgeEvents(t *testing.T) {
	e := NewEngine(5)
	e.SetTarget(5)

	now := time.Now()
	var edges []bool
	var edgeHeadings []float64
	for i, h := range []float64{0, 0, 0, 4, 6, 11} {
		res, ok := e.Update(h, now.Add(time.Duration(i)*100*time.Millisecond))
		require.True(t, ok)
		if res.Changed {
			edges = append(edges, res.Aligned)
			edgeHeadings = append(edgeHeadings, h)
		}
	}
	require.Equal(t, []bool{true, false}, edges)
	require.Equal(t, []float64{0, 11}, edgeHeadings)
}

func TestNoiseAroundBoundary(t *testing.T) {
	e := NewEngine(5)
	e.SetTarget(100)

	now := time.Now()
	changes := 0
	for _, h := range []float64{80, 80.5, 81, 90, 94.9, 95, 95.2, 96, 97} {
		res, _ := e.Update(h, now)
		if res.Changed {
			changes++
		}
	}
	require.Equal(t, 1, changes)
}

func TestPulseThrottle(t *testing.T) {
	e := NewEngine(5)
	e.SetTarget(0)

	t0 := time.Now()
	res, _ := e.Update(1, t0)
	require.True(t, res.Pulse)

	res, _ = e.Update(2, t0.Add(400*time.Millisecond))
	require.True(t, res.Aligned)
	require.False(t, res.Pulse)

	res, _ = e.Update(2, t0.Add(800*time.Millisecond))
	require.False(t, res.Pulse)

	res, _ = e.Update(2, t0.Add(801*time.Millisecond))
	require.True(t, res.Pulse)

	// leaving and re-entering quickly does not bypass the throttle
	res, _ = e.Update(30, t0.Add(900*time.Millisecond))
	require.False(t, res.Pulse)
	res, _ = e.Update(0, t0.Add(1000*time.Millisecond))
	require.True(t, res.Changed)
	require.False(t, res.Pulse)
}

func TestDirection(t *testing.T) {
	e := NewEngine(5)
	e.SetTarget(350)

	res, _ := e.Update(10, time.Now())
	require.Equal(t, -20.0, res.SignedDelta)
	require.Equal(t, TurnLeft, res.Direction)

	res, _ = e.Update(300, time.Now())
	require.Equal(t, TurnRight, res.Direction)

	res, _ = e.Update(350, time.Now())
	require.Equal(t, Aligned, res.Direction)
}

func TestNoTarget(t *testing.T) {
	e := NewEngine(5)
	_, ok := e.Update(10, time.Now())
	require.False(t, ok)

	e.SetTarget(10)
	res, ok := e.Update(10, time.Now())
	require.True(t, ok)
	require.True(t, res.Changed)

	e.ClearTarget()
	_, ok = e.Update(10, time.Now())
	require.False(t, ok)

	_, ok = e.Update(math.NaN(), time.Now())
	require.False(t, ok)
}

func TestToleranceResets(t *testing.T) {
	e := NewEngine(0)
	require.Equal(t, DefaultToleranceDeg, e.Tolerance())
	e.SetTarget(0)

	now := time.Now()
	res, _ := e.Update(3, now)
	require.True(t, res.Changed)
	require.True(t, res.Pulse)

	e.SetTolerance(10)
	res, _ = e.Update(3, now.Add(10*time.Millisecond))
	require.True(t, res.Changed)
	require.True(t, res.Aligned)
	require.True(t, res.Pulse)

	e.SetTolerance(2)
	res, _ = e.Update(3, now.Add(20*time.Millisecond))
	require.False(t, res.Changed)
	require.False(t, res.Aligned)
}
