// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/imu"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// AccelReader reads a gravity vector in g.
type AccelReader interface {
	ReadAccel() (imu.Vec3, error)
}

// IMU pairs an accelerometer with a magnetometer into one raw sample.
type IMU struct {
	name  string
	accel AccelReader
	mag   heading.MagReader
}

// NewIMU combines accel and mag into a heading.IMURawReader.
func NewIMU(name string, accel AccelReader, mag heading.MagReader) *IMU {
	return &IMU{name: name, accel: accel, mag: mag}
}

// ReadRaw reads both sensors back to back.
func (s *IMU) ReadRaw() (imu.IMURaw, error) {
	a, err := s.accel.ReadAccel()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU: %w", s.name, err)
	}
	m, err := s.mag.ReadMag()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU: %w", s.name, err)
	}
	return imu.IMURaw{Source: s.name, Accel: a, Mag: m}, nil
}

// Hardware holds the physical sensors that could be opened. A nil field
// means that sensor is absent; the matching heading source reports itself
// unavailable.
type Hardware struct {
	Mag   *HMC5983
	Accel *MPU9250Accel

	magCal *MagCalibration
	bus    i2c.BusCloser
}

// HardwareConfig names the buses and pins to probe.
type HardwareConfig struct {
	MagI2CBus    string
	MagI2CAddr   uint16
	IMUSPIDevice string
	IMUCSPin     string

	// Applied to magnetometer readings when the file exists.
	MagCalibrationFile string
}

// OpenHardware initializes periph and probes every configured sensor.
// Missing sensors are logged and skipped; only a host init failure is fatal.
func OpenHardware(cfg HardwareConfig) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	hw := &Hardware{}

	if cfg.MagI2CBus != "" {
		bus, err := i2creg.Open(cfg.MagI2CBus)
		if err != nil {
			log.Printf("sensors: i2c open failed on bus %s: %v", cfg.MagI2CBus, err)
		} else {
			mag, err := NewHMC5983(bus, cfg.MagI2CAddr)
			if err != nil {
				log.Printf("sensors: magnetometer not available: %v", err)
				bus.Close()
			} else {
				log.Printf("sensors: HMC5983 ready on bus %s addr 0x%02X", cfg.MagI2CBus, cfg.MagI2CAddr)
				hw.Mag = mag
				hw.bus = bus
			}
		}
	}

	if cfg.IMUSPIDevice != "" {
		accel, err := NewMPU9250Accel(cfg.IMUSPIDevice, cfg.IMUCSPin)
		if err != nil {
			log.Printf("sensors: accelerometer not available: %v", err)
		} else {
			log.Printf("sensors: MPU9250 ready on %s", cfg.IMUSPIDevice)
			hw.Accel = accel
		}
	}

	if hw.Mag != nil && cfg.MagCalibrationFile != "" {
		cal, err := LoadMagCalibration(cfg.MagCalibrationFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Printf("sensors: no magnetometer calibration at %s, using raw readings", cfg.MagCalibrationFile)
		case err != nil:
			log.Printf("sensors: %v", err)
		default:
			log.Printf("sensors: magnetometer calibration from %s (confidence %.2f)", cfg.MagCalibrationFile, cal.Confidence)
			hw.magCal = &cal
		}
	}

	return hw, nil
}

// MagReader returns the magnetometer with its calibration applied, or nil
// when it is absent.
func (hw *Hardware) MagReader() heading.MagReader {
	if hw.Mag == nil {
		return nil
	}
	if hw.magCal != nil {
		return NewCalibratedMag(hw.Mag, *hw.magCal)
	}
	return hw.Mag
}

// IMURawReader returns the combined reader, or nil unless both sensors are present.
func (hw *Hardware) IMURawReader() heading.IMURawReader {
	if hw.Mag == nil || hw.Accel == nil {
		return nil
	}
	return NewIMU("tilt", hw.Accel, hw.MagReader())
}

// Close releases the I2C bus.
func (hw *Hardware) Close() error {
	if hw.bus == nil {
		return nil
	}
	return hw.bus.Close()
}
