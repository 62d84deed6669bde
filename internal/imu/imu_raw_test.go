package imu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3(t *testing.T) {
	x := Vec3{X: 1}
	y := Vec3{Y: 1}
	assert.Equal(t, Vec3{Z: 1}, x.Cross(y))
	assert.Equal(t, Vec3{Z: -1}, y.Cross(x))
	assert.InDelta(t, 5.0, Vec3{X: 3, Y: 4}.Norm(), 1e-12)
	assert.Equal(t, Vec3{X: 2, Y: -4, Z: 6}, Vec3{X: 1, Y: -2, Z: 3}.Scale(2))
	assert.True(t, x.IsFinite())
	assert.False(t, Vec3{Z: math.NaN()}.IsFinite())
	assert.False(t, Vec3{Y: math.Inf(-1)}.IsFinite())
}
