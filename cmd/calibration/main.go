// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided magnetometer calibration for the HMC5983.
// Estimates the hard-iron offset and per-axis soft-iron scale (min/max
// method) and writes them to the calibration file named in the config,
// where the compass picks them up on its next start.
//
// Run:
//
//	sudo ./calibration --config qibla_config.txt
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/relabs-tech/qibla_compass/internal/app"
	"github.com/relabs-tech/qibla_compass/internal/config"
)

var cli struct {
	Config   string        `help:"path to the configuration file" default:"qibla_config.txt" type:"path"`
	Duration time.Duration `help:"maximum capture time" default:"60s"`
}

func main() {
	kong.Parse(&cli,
		kong.Description("Guided magnetometer calibration"),
		kong.UsageOnError())

	if err := config.InitGlobal(cli.Config); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", cli.Config, err)
		os.Exit(1)
	}

	if err := app.RunMagCalibration(os.Stdin, os.Stdout, cli.Duration); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Calibration complete.")
}
