package heading

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/qibla_compass/internal/declination"
	"github.com/relabs-tech/qibla_compass/internal/geo"
)

type fakeSource struct {
	kind      Kind
	available bool
	startErr  error

	mu        sync.Mutex
	starts    int
	stops     int
	intervals []int
	h         Handler
}

func (f *fakeSource) Kind() Kind        { return f.kind }
func (f *fakeSource) IsAvailable() bool { return f.available }

func (f *fakeSource) Start(intervalMs int, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.intervals = append(f.intervals, intervalMs)
	f.h = h
	return nil
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.h = nil
}

func (f *fakeSource) SetUpdateInterval(ms int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals = append(f.intervals, ms)
}

func (f *fakeSource) emit(deg float64) {
	f.mu.Lock()
	h := f.h
	f.mu.Unlock()
	if h != nil {
		h(Sample{Heading: deg, Time: time.Now()})
	}
}

func (f *fakeSource) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func fastOptions() Options {
	return Options{
		NoDataTimeout: 20 * time.Millisecond,
		RetryBackoff:  5 * time.Millisecond,
		MaxAttempts:   3,
	}
}

func TestAggregatorPrimary(t *testing.T) {
	tilt := &fakeSource{kind: KindTiltCompensated, available: true}
	mag := &fakeSource{kind: KindMagnetometer, available: true}

	opts := fastOptions()
	opts.NoDataTimeout = time.Hour
	opts.Estimator = declination.NewEstimator(declination.ProviderFunc(func(geo.Coordinate) (float64, error) {
		return 10, nil
	}))
	a := NewAggregator([]Source{mag, tilt}, opts)
	a.SetObserver(geo.Coordinate{Latitude: 51.5, Longitude: -0.1})
	require.Equal(t, 10.0, a.Declination())

	var got []Reading
	unsub := a.Subscribe(func(r Reading) { got = append(got, r) })
	defer unsub()

	a.Start()
	require.Equal(t, StateStartingPrimary, a.State())
	require.Equal(t, 1, tilt.startCount())
	require.Zero(t, mag.startCount())

	tilt.emit(355)
	require.Equal(t, StateRunningPrimary, a.State())
	require.Len(t, got, 1)
	require.InDelta(t, 5, got[0].Heading, 1e-9)
	require.InDelta(t, 355, got[0].Magnetic, 1e-9)
	require.Equal(t, KindTiltCompensated, got[0].Source)

	a.Stop()
	require.Equal(t, StateStopped, a.State())
	tilt.emit(100)
	require.Len(t, got, 1)
}

func TestAggregatorFallbackWhenPrimaryMissing(t *testing.T) {
	tilt := &fakeSource{kind: KindTiltCompensated}
	platform := &fakeSource{kind: KindPlatformCompass, available: true}

	a := NewAggregator([]Source{tilt, platform}, fastOptions())
	a.Start()
	defer a.Stop()

	require.Zero(t, tilt.startCount())
	platform.emit(90)
	require.Equal(t, StateRunningFallback, a.State())

	r, ok := a.Latest()
	require.True(t, ok)
	require.Equal(t, KindPlatformCompass, r.Source)
}

func TestAggregatorFailsOverToNextSource(t *testing.T) {
	tilt := &fakeSource{kind: KindTiltCompensated, available: true}
	mag := &fakeSource{kind: KindMagnetometer, available: true}

	a := NewAggregator([]Source{tilt, mag}, fastOptions())
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool { return mag.startCount() == 1 }, time.Second, time.Millisecond)
	mag.emit(12)
	require.Equal(t, StateRunningFallback, a.State())

	tilt.mu.Lock()
	require.Equal(t, 1, tilt.stops)
	tilt.mu.Unlock()

	// samples from the abandoned source are ignored
	tilt.emit(200)
	r, _ := a.Latest()
	require.InDelta(t, 12, r.Heading, 1e-9)
}

func TestAggregatorUnavailableAndRetry(t *testing.T) {
	src := &fakeSource{kind: KindMagnetometer, available: true}

	var mu sync.Mutex
	var states []State
	a := NewAggregator([]Source{src}, fastOptions())
	a.SubscribeState(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	a.Start()
	require.Eventually(t, func() bool { return a.State() == StateUnavailable }, time.Second, time.Millisecond)
	require.Equal(t, 3, src.startCount())

	mu.Lock()
	require.Equal(t, StateStopped, states[0])
	require.Contains(t, states, StateRetryingPrimary)
	require.Equal(t, StateUnavailable, states[len(states)-1])
	mu.Unlock()

	// Start does nothing until the explicit retry
	a.Start()
	require.Equal(t, StateUnavailable, a.State())

	a.Retry()
	require.Equal(t, 4, src.startCount())
	src.emit(1)
	require.Equal(t, StateRunningPrimary, a.State())
	a.Stop()
}

func TestAggregatorStartErrorCountsAsAttempt(t *testing.T) {
	src := &fakeSource{kind: KindMagnetometer, available: true, startErr: errors.New("busy")}
	a := NewAggregator([]Source{src}, fastOptions())
	a.Start()
	require.Eventually(t, func() bool { return a.State() == StateUnavailable }, time.Second, time.Millisecond)
	require.Equal(t, 3, src.startCount())
}

func TestAggregatorNoSources(t *testing.T) {
	a := NewAggregator(nil, fastOptions())
	a.Start()
	require.Equal(t, StateUnavailable, a.State())
	a.Stop()
	require.Equal(t, StateStopped, a.State())
}

func TestAggregatorStopMidRetry(t *testing.T) {
	src := &fakeSource{kind: KindMagnetometer, available: true}
	opts := fastOptions()
	opts.RetryBackoff = 50 * time.Millisecond
	a := NewAggregator([]Source{src}, opts)

	delivered := 0
	a.Subscribe(func(Reading) { delivered++ })

	a.Start()
	require.Eventually(t, func() bool { return a.State() == StateRetryingPrimary }, time.Second, time.Millisecond)
	a.Stop()
	require.Equal(t, StateStopped, a.State())

	// the pending backoff must not restart the source
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, src.startCount())
	require.Equal(t, StateStopped, a.State())
	src.emit(10)
	require.Zero(t, delivered)

	// Stop is safe in every state
	a.Stop()
}

func TestAggregatorDiscardsNonFinite(t *testing.T) {
	src := &fakeSource{kind: KindMagnetometer, available: true}
	opts := fastOptions()
	opts.NoDataTimeout = time.Hour
	a := NewAggregator([]Source{src}, opts)

	var got []float64
	a.Subscribe(func(r Reading) { got = append(got, r.Heading) })
	a.Start()
	defer a.Stop()

	src.emit(math.NaN())
	src.emit(math.Inf(1))
	require.Equal(t, StateStartingPrimary, a.State())
	require.Empty(t, got)

	src.emit(45)
	require.Equal(t, []float64{45}, got)
}

func TestAggregatorSubscribers(t *testing.T) {
	src := &fakeSource{kind: KindMagnetometer, available: true}
	opts := fastOptions()
	opts.NoDataTimeout = time.Hour
	a := NewAggregator([]Source{src}, opts)
	a.Start()
	defer a.Stop()

	var first, third []float64
	a.Subscribe(func(r Reading) { first = append(first, r.Heading) })
	var unsubSecond func()
	unsubSecond = a.Subscribe(func(Reading) {
		unsubSecond()
		panic("listener failure")
	})
	a.Subscribe(func(r Reading) { third = append(third, r.Heading) })

	src.emit(10)
	src.emit(20)
	require.Equal(t, []float64{10, 20}, first)
	require.Equal(t, []float64{10, 20}, third)

	// late subscriber gets the latest value straight away
	var late []float64
	unsub := a.Subscribe(func(r Reading) { late = append(late, r.Heading) })
	require.Equal(t, []float64{20}, late)
	unsub()
	unsub()
	src.emit(30)
	require.Equal(t, []float64{20}, late)

	// subscriptions survive a stop/start cycle
	a.Stop()
	a.Start()
	src.emit(40)
	require.Equal(t, []float64{10, 20, 30, 40}, first)
}

func TestAggregatorSetUpdateInterval(t *testing.T) {
	src := &fakeSource{kind: KindMagnetometer, available: true}
	opts := fastOptions()
	opts.NoDataTimeout = time.Hour
	opts.IntervalMs = 100
	a := NewAggregator([]Source{src}, opts)

	a.SetUpdateInterval(5)
	require.Equal(t, MinIntervalMs, a.UpdateInterval())

	a.Start()
	defer a.Stop()
	a.SetUpdateInterval(250)

	src.mu.Lock()
	require.Equal(t, []int{MinIntervalMs, 250}, src.intervals)
	src.mu.Unlock()
}

func TestAggregatorObserverChange(t *testing.T) {
	calls := 0
	opts := fastOptions()
	opts.Estimator = declination.NewEstimator(declination.ProviderFunc(func(c geo.Coordinate) (float64, error) {
		calls++
		return c.Latitude / 10, nil
	}))
	a := NewAggregator(nil, opts)

	a.SetObserver(geo.Coordinate{Latitude: 30})
	a.SetObserver(geo.Coordinate{Latitude: 30})
	require.Equal(t, 1, calls)
	require.Equal(t, 3.0, a.Declination())

	a.SetObserver(geo.Coordinate{Latitude: 50})
	require.Equal(t, 2, calls)
	require.Equal(t, 5.0, a.Declination())
}

func TestAggregatorNoStateAfterStopFromListener(t *testing.T) {
	tilt := &fakeSource{kind: KindTiltCompensated, available: true}
	opts := fastOptions()
	opts.NoDataTimeout = time.Hour
	a := NewAggregator([]Source{tilt}, opts)

	unsubStop := a.SubscribeState(func(st State) {
		if st == StateRunningPrimary {
			a.Stop()
		}
	})
	defer unsubStop()

	var seen []State
	unsub := a.SubscribeState(func(st State) { seen = append(seen, st) })
	defer unsub()

	a.Start()
	tilt.emit(10)

	require.Equal(t, StateStopped, a.State())
	require.Equal(t, []State{StateStopped, StateStartingPrimary, StateStopped}, seen)
}

func TestAggregatorNoStateAfterStopMidFailure(t *testing.T) {
	tilt := &fakeSource{kind: KindTiltCompensated, available: true, startErr: errors.New("bus error")}
	opts := fastOptions()
	opts.MaxAttempts = 1
	a := NewAggregator([]Source{tilt}, opts)

	unsubStop := a.SubscribeState(func(st State) {
		if st == StateUnavailable {
			a.Stop()
		}
	})
	defer unsubStop()

	var seen []State
	unsub := a.SubscribeState(func(st State) { seen = append(seen, st) })
	defer unsub()

	// a start error fails the attempt synchronously
	a.Start()

	require.Equal(t, StateStopped, a.State())
	require.Equal(t, []State{StateStopped, StateStartingPrimary, StateStopped}, seen)
}
