package sensors

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/qibla_compass/internal/imu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestDecodeHMC5983(t *testing.T) {
	// X=1090, Z=-545, Y=218 in register order X, Z, Y.
	buf := []byte{0x04, 0x42, 0xFD, 0xDF, 0x00, 0xDA}
	v, err := decodeHMC5983(buf)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v.X, 1e-9)
	assert.InDelta(t, 20.0, v.Y, 1e-9)
	assert.InDelta(t, -50.0, v.Z, 1e-9)
}

func TestDecodeHMC5983Overflow(t *testing.T) {
	// -4096 on Y.
	buf := []byte{0x00, 0x10, 0x00, 0x10, 0xF0, 0x00}
	_, err := decodeHMC5983(buf)
	assert.ErrorIs(t, err, ErrMagOverflow)

	_, err = decodeHMC5983(buf[:4])
	assert.Error(t, err)
}

func TestHMC5983OverI2C(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x1E, W: []byte{hmcRegIDA}, R: []byte("H43")},
			{Addr: 0x1E, W: []byte{hmcRegConfigA, hmcConfigA}},
			{Addr: 0x1E, W: []byte{hmcRegConfigB, hmcConfigB}},
			{Addr: 0x1E, W: []byte{hmcRegMode, hmcModeContinuous}},
			{Addr: 0x1E, W: []byte{hmcRegDataX}, R: []byte{0x04, 0x42, 0x00, 0x00, 0x00, 0x00}},
		},
	}

	mag, err := NewHMC5983(bus, 0)
	require.NoError(t, err)

	v, err := mag.ReadMag()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v.X, 1e-9)
	assert.Zero(t, v.Y)
	require.NoError(t, bus.Close())
}

func TestHMC5983WrongID(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x1E, W: []byte{hmcRegIDA}, R: []byte{0, 0, 0}},
		},
	}
	_, err := NewHMC5983(bus, 0x1E)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected id")
}

func TestScaleAccel(t *testing.T) {
	v := scaleAccel(0, -16384, 8192)
	assert.Equal(t, imu.Vec3{X: 0, Y: -1, Z: 0.5}, v)
}

type fakeAccel struct {
	v   imu.Vec3
	err error
}

func (f fakeAccel) ReadAccel() (imu.Vec3, error) { return f.v, f.err }

type fakeMag struct {
	v   imu.Vec3
	err error
}

func (f fakeMag) ReadMag() (imu.Vec3, error) { return f.v, f.err }

func TestIMUReadRaw(t *testing.T) {
	s := NewIMU("tilt", fakeAccel{v: imu.Vec3{Z: 1}}, fakeMag{v: imu.Vec3{Y: 30}})
	raw, err := s.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, "tilt", raw.Source)
	assert.Equal(t, 1.0, raw.Accel.Z)
	assert.Equal(t, 30.0, raw.Mag.Y)

	boom := errors.New("bus error")
	s = NewIMU("tilt", fakeAccel{v: imu.Vec3{Z: 1}}, fakeMag{err: boom})
	_, err = s.ReadRaw()
	assert.ErrorIs(t, err, boom)
}

func TestHardwareReadersWhenAbsent(t *testing.T) {
	hw := &Hardware{}
	assert.Nil(t, hw.MagReader())
	assert.Nil(t, hw.IMURawReader())
	assert.NoError(t, hw.Close())
}

func ellipsoidSamples(offset, radii imu.Vec3) []imu.Vec3 {
	var out []imu.Vec3
	for el := -90; el <= 90; el += 15 {
		for az := 0; az < 360; az += 15 {
			e := float64(el) * math.Pi / 180
			a := float64(az) * math.Pi / 180
			out = append(out, imu.Vec3{
				X: offset.X + radii.X*math.Cos(e)*math.Cos(a),
				Y: offset.Y + radii.Y*math.Cos(e)*math.Sin(a),
				Z: offset.Z + radii.Z*math.Sin(e),
			})
		}
	}
	return out
}

func TestMagCollector(t *testing.T) {
	c := NewMagCollector()
	for _, v := range ellipsoidSamples(imu.Vec3{X: 10, Y: -5, Z: 3}, imu.Vec3{X: 50, Y: 40, Z: 30}) {
		c.Add(v)
	}
	c.Add(imu.Vec3{X: math.NaN()})

	res := c.Result()
	assert.Equal(t, 13*24, res.Samples)
	assert.InDelta(t, 10, res.Offset.X, 1e-6)
	assert.InDelta(t, -5, res.Offset.Y, 1e-6)
	assert.InDelta(t, 3, res.Offset.Z, 1e-6)
	assert.InDelta(t, 0.8, res.Scale.X, 1e-6)
	assert.InDelta(t, 1.0, res.Scale.Y, 1e-6)
	assert.InDelta(t, 4.0/3, res.Scale.Z, 1e-6)
	assert.Greater(t, res.Confidence, 0.8)
	assert.True(t, res.Usable())

	corrected := res.Apply(imu.Vec3{X: 60, Y: -5, Z: 3})
	assert.InDelta(t, 40, corrected.Norm(), 1e-6)
}

func TestMagCollectorNeedsRotation(t *testing.T) {
	c := NewMagCollector()
	for i := 0; i < 10; i++ {
		c.Add(imu.Vec3{X: 20, Y: 0, Z: -40})
	}
	res := c.Result()
	assert.Contains(t, res.Notes, "too_few_samples")
	assert.Equal(t, imu.Vec3{X: 1, Y: 1, Z: 1}, res.Scale)

	for i := 0; i < 100; i++ {
		c.Add(imu.Vec3{X: 20 + float64(i%2), Y: 0, Z: -40})
	}
	res = c.Result()
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "insufficient_mag_excitation")
	assert.Equal(t, confFloor, res.Confidence)
	assert.False(t, res.Usable())
}

func TestMagCalibrationFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mag.json")
	cal := MagCalibration{Version: 1, Offset: imu.Vec3{X: 1}, Scale: imu.Vec3{X: 1, Y: 2, Z: 1}}
	require.NoError(t, SaveMagCalibration(path, cal))

	loaded, err := LoadMagCalibration(path)
	require.NoError(t, err)
	assert.Equal(t, cal.Scale, loaded.Scale)

	require.NoError(t, os.WriteFile(path, []byte(`{"mag_scale":{"x":0,"y":1,"z":1}}`), 0o644))
	_, err = LoadMagCalibration(path)
	assert.Error(t, err)

	_, err = LoadMagCalibration(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCalibratedMag(t *testing.T) {
	cal := MagCalibration{Offset: imu.Vec3{X: 10, Y: 10}, Scale: imu.Vec3{X: 2, Y: 1, Z: 1}}
	m := NewCalibratedMag(fakeMag{v: imu.Vec3{X: 15, Y: 30, Z: 5}}, cal)

	v, err := m.ReadMag()
	require.NoError(t, err)
	assert.Equal(t, imu.Vec3{X: 10, Y: 20, Z: 5}, v)

	hw := &Hardware{Mag: &HMC5983{}, magCal: &cal}
	_, ok := hw.MagReader().(*CalibratedMag)
	assert.True(t, ok)
}
