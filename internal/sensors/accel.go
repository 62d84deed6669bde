// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"github.com/relabs-tech/qibla_compass/internal/imu"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
)

// LSB per g at the ±2g range the MPU9250 powers up with. Tilt compensation
// only uses the direction of the gravity vector, so a different range
// changes the magnitude but not the heading.
const mpuLSBPerG = 16384.0

// MPU9250Accel reads the MPU9250 accelerometer over SPI.
type MPU9250Accel struct {
	dev *mpu9250.MPU9250
}

// NewMPU9250Accel opens and initializes an MPU9250 on spiDev with csPin as
// chip select. periph's host must already be initialized.
func NewMPU9250Accel(spiDev, csPin string) (*MPU9250Accel, error) {
	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}
	return &MPU9250Accel{dev: dev}, nil
}

// ReadAccel returns the acceleration in g.
func (a *MPU9250Accel) ReadAccel() (imu.Vec3, error) {
	ax, err := a.dev.GetAccelerationX()
	if err != nil {
		return imu.Vec3{}, fmt.Errorf("mpu9250 accel X: %w", err)
	}
	ay, err := a.dev.GetAccelerationY()
	if err != nil {
		return imu.Vec3{}, fmt.Errorf("mpu9250 accel Y: %w", err)
	}
	az, err := a.dev.GetAccelerationZ()
	if err != nil {
		return imu.Vec3{}, fmt.Errorf("mpu9250 accel Z: %w", err)
	}
	return scaleAccel(ax, ay, az), nil
}

func scaleAccel(ax, ay, az int16) imu.Vec3 {
	return imu.Vec3{
		X: float64(ax) / mpuLSBPerG,
		Y: float64(ay) / mpuLSBPerG,
		Z: float64(az) / mpuLSBPerG,
	}
}
