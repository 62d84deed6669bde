package heading

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/qibla_compass/internal/geo"
	"github.com/relabs-tech/qibla_compass/internal/imu"
)

func dot(a, b imu.Vec3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func add(a, b imu.Vec3) imu.Vec3 {
	return imu.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// deviceReadings returns accelerometer and magnetometer readings for a device
// whose y axis points at headingDeg, then pitched and rolled.
// World frame: x east, y north, z up.
func deviceReadings(headingDeg, pitchDeg, rollDeg float64) (accel, mag imu.Vec3) {
	h := geo.DegToRad(headingDeg)
	p := geo.DegToRad(pitchDeg)
	r := geo.DegToRad(rollDeg)

	xd := imu.Vec3{X: math.Cos(h), Y: -math.Sin(h)}
	yd := imu.Vec3{X: math.Sin(h), Y: math.Cos(h)}
	zd := imu.Vec3{Z: 1}

	// pitch about the device x axis
	yd, zd = add(yd.Scale(math.Cos(p)), zd.Scale(math.Sin(p))),
		add(zd.Scale(math.Cos(p)), yd.Scale(-math.Sin(p)))
	// roll about the device y axis
	xd, zd = add(xd.Scale(math.Cos(r)), zd.Scale(-math.Sin(r))),
		add(zd.Scale(math.Cos(r)), xd.Scale(math.Sin(r)))

	gravity := imu.Vec3{Z: 1}
	field := imu.Vec3{Y: 20, Z: -40} // northern hemisphere, dipping down

	toDevice := func(v imu.Vec3) imu.Vec3 {
		return imu.Vec3{X: dot(v, xd), Y: dot(v, yd), Z: dot(v, zd)}
	}
	return toDevice(gravity), toDevice(field)
}

func assertAngle(t *testing.T, want, got float64) {
	t.Helper()
	assert.InDelta(t, 0, geo.ShortestSignedDelta(want, got), 1e-6, "want %v got %v", want, got)
}

func TestMagHeading(t *testing.T) {
	assertAngle(t, 0, MagHeading(0, 20))
	assertAngle(t, 90, MagHeading(-20, 0))
	assertAngle(t, 180, MagHeading(0, -20))
	assertAngle(t, 270, MagHeading(20, 0))

	for _, hd := range []float64{0, 33, 90, 181, 270, 359} {
		_, mag := deviceReadings(hd, 0, 0)
		assertAngle(t, hd, MagHeading(mag.X, mag.Y))
	}
}

func TestTiltCompensatedHeading(t *testing.T) {
	for _, hd := range []float64{0, 45, 118.98, 200, 295.15} {
		for _, pitch := range []float64{-40, 0, 25} {
			for _, roll := range []float64{-30, 0, 15} {
				accel, mag := deviceReadings(hd, pitch, roll)
				assertAngle(t, hd, TiltCompensatedHeading(mag, accel))
			}
		}
	}
}

func TestTiltCompensatedHeadingScaleInvariant(t *testing.T) {
	accel, mag := deviceReadings(75, 10, -20)
	assertAngle(t, 75, TiltCompensatedHeading(mag, accel.Scale(16384)))
}

func TestClampInterval(t *testing.T) {
	require.Equal(t, MinIntervalMs, ClampInterval(1))
	require.Equal(t, MaxIntervalMs, ClampInterval(10000))
	require.Equal(t, 120, ClampInterval(120))
}

func TestNeedsCalibration(t *testing.T) {
	require.False(t, needsCalibration(imu.Vec3{Y: 20, Z: -40}))
	require.True(t, needsCalibration(imu.Vec3{X: 1}))
	require.True(t, needsCalibration(imu.Vec3{X: 500}))
}

func TestKindString(t *testing.T) {
	b, err := KindTiltCompensated.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "tilt_compensated", string(b))
	require.Equal(t, "unknown", Kind(42).String())
}

func TestTextRoundTrip(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("platform_compass")))
	assert.Equal(t, KindPlatformCompass, k)
	assert.Error(t, k.UnmarshalText([]byte("gyro")))

	var st State
	require.NoError(t, st.UnmarshalText([]byte("running_fallback")))
	assert.Equal(t, StateRunningFallback, st)
	assert.Error(t, st.UnmarshalText([]byte("broken")))
}
