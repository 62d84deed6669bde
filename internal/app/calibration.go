// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/sensors"
)

const calibrationSampleInterval = 20 * time.Millisecond

// RunMagCalibration guides a figure-eight rotation, computes the
// magnetometer hard/soft iron correction and writes it to the configured
// calibration file. Capture ends on Enter or after maxDur.
func RunMagCalibration(in io.Reader, out io.Writer, maxDur time.Duration) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("calibration: configuration not initialized")
	}

	hw, err := sensors.OpenHardware(sensors.HardwareConfig{
		MagI2CBus:  cfg.MagI2CBus,
		MagI2CAddr: cfg.MagI2CAddr,
	})
	if err != nil {
		return err
	}
	defer hw.Close()
	if hw.Mag == nil {
		return errors.New("calibration: no magnetometer found")
	}

	fmt.Fprintln(out, "=== Magnetometer calibration ===")
	fmt.Fprintln(out, "Rotate the device slowly through every orientation (figure eight),")
	fmt.Fprintf(out, "away from metal. Press Enter when done (max %s).\n", maxDur)

	ctx, cancel := context.WithTimeout(context.Background(), maxDur)
	defer cancel()
	go func() {
		_, _ = bufio.NewReader(in).ReadString('\n')
		cancel()
	}()

	res, err := collectMag(ctx, hw.Mag, calibrationSampleInterval)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Samples: %d\n", res.Samples)
	fmt.Fprintf(out, "Mag offset (µT): X=%.2f Y=%.2f Z=%.2f\n", res.Offset.X, res.Offset.Y, res.Offset.Z)
	fmt.Fprintf(out, "Mag scale:       X=%.3f Y=%.3f Z=%.3f | confidence=%.2f\n",
		res.Scale.X, res.Scale.Y, res.Scale.Z, res.Confidence)
	for _, n := range res.Notes {
		fmt.Fprintf(out, "Note: %s\n", n)
	}

	if !res.Usable() {
		return fmt.Errorf("calibration: capture not usable, %s left unchanged", cfg.MagCalibrationFile)
	}
	if err := sensors.SaveMagCalibration(cfg.MagCalibrationFile, res); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote: %s\n", cfg.MagCalibrationFile)
	return nil
}

// collectMag samples reader every interval until ctx is done. Read errors
// are skipped; the first one is logged.
func collectMag(ctx context.Context, reader heading.MagReader, interval time.Duration) (sensors.MagCalibration, error) {
	c := sensors.NewMagCollector()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var readErrs int
	for {
		select {
		case <-ctx.Done():
			if c.Len() == 0 {
				return sensors.MagCalibration{}, errors.New("calibration: no magnetometer samples")
			}
			return c.Result(), nil
		case <-ticker.C:
		}

		v, err := reader.ReadMag()
		if err != nil {
			if readErrs == 0 {
				log.Printf("calibration: magnetometer read error: %v", err)
			}
			readErrs++
			continue
		}
		c.Add(v)
	}
}
