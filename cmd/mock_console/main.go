// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/alecthomas/kong"

	"github.com/relabs-tech/qibla_compass/internal/app"
	"github.com/relabs-tech/qibla_compass/internal/geo"
)

// London by default.
var cli struct {
	Lat float64 `help:"observer latitude in degrees" default:"51.5074"`
	Lon float64 `help:"observer longitude in degrees" default:"-0.1278"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Description("Runs the compass on a simulated heading and prints every update"),
		kong.UsageOnError())

	observer := geo.Coordinate{Latitude: cli.Lat, Longitude: cli.Lon}
	if err := observer.Validate(); err != nil {
		ctx.Fatalf("%v", err)
	}

	log.Printf("starting mock console at %s", observer)
	if err := app.RunMockConsole(observer); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
