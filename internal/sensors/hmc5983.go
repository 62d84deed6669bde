// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/relabs-tech/qibla_compass/internal/imu"
	"periph.io/x/conn/v3/i2c"
)

// HMC5983 / HMC5883L register map.
const (
	hmcRegConfigA = 0x00
	hmcRegConfigB = 0x01
	hmcRegMode    = 0x02
	hmcRegDataX   = 0x03
	hmcRegIDA     = 0x0A

	// 8-sample averaging, 15 Hz output, normal measurement.
	hmcConfigA = 0x70
	// ±1.3 Ga range.
	hmcConfigB = 0x20
	// Continuous measurement.
	hmcModeContinuous = 0x00

	hmcLSBPerGauss     = 1090.0
	microTeslaPerGauss = 100.0

	// Output value on ADC overflow or underflow.
	hmcOverflow = -4096
)

// DefaultHMC5983Addr is the fixed I2C address of the HMC5983.
const DefaultHMC5983Addr = 0x1E

// ErrMagOverflow is returned when any axis saturates.
var ErrMagOverflow = errors.New("magnetometer overflow")

// HMC5983 reads the three-axis field from an HMC5983 or HMC5883L over I2C.
type HMC5983 struct {
	dev *i2c.Dev
}

// NewHMC5983 verifies the identification registers and puts the chip in
// continuous measurement mode.
func NewHMC5983(bus i2c.Bus, addr uint16) (*HMC5983, error) {
	if addr == 0 {
		addr = DefaultHMC5983Addr
	}
	m := &HMC5983{dev: &i2c.Dev{Bus: bus, Addr: addr}}

	id := make([]byte, 3)
	if err := m.dev.Tx([]byte{hmcRegIDA}, id); err != nil {
		return nil, fmt.Errorf("hmc5983: read id: %w", err)
	}
	if string(id) != "H43" {
		return nil, fmt.Errorf("hmc5983: unexpected id %q at 0x%02X", id, addr)
	}

	for _, w := range [][]byte{
		{hmcRegConfigA, hmcConfigA},
		{hmcRegConfigB, hmcConfigB},
		{hmcRegMode, hmcModeContinuous},
	} {
		if err := m.dev.Tx(w, nil); err != nil {
			return nil, fmt.Errorf("hmc5983: write reg 0x%02X: %w", w[0], err)
		}
	}
	return m, nil
}

// ReadMag returns the field in µT.
func (m *HMC5983) ReadMag() (imu.Vec3, error) {
	buf := make([]byte, 6)
	if err := m.dev.Tx([]byte{hmcRegDataX}, buf); err != nil {
		return imu.Vec3{}, fmt.Errorf("hmc5983: read data: %w", err)
	}
	return decodeHMC5983(buf)
}

// decodeHMC5983 converts the data registers (X, Z, Y big-endian) into µT.
func decodeHMC5983(buf []byte) (imu.Vec3, error) {
	if len(buf) != 6 {
		return imu.Vec3{}, fmt.Errorf("hmc5983: short data read (%d bytes)", len(buf))
	}
	x := int16(binary.BigEndian.Uint16(buf[0:2]))
	z := int16(binary.BigEndian.Uint16(buf[2:4]))
	y := int16(binary.BigEndian.Uint16(buf[4:6]))
	if x == hmcOverflow || y == hmcOverflow || z == hmcOverflow {
		return imu.Vec3{}, ErrMagOverflow
	}

	k := microTeslaPerGauss / hmcLSBPerGauss
	return imu.Vec3{X: float64(x) * k, Y: float64(y) * k, Z: float64(z) * k}, nil
}
