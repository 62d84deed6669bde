// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/alecthomas/kong"

	"github.com/relabs-tech/qibla_compass/internal/app"
	"github.com/relabs-tech/qibla_compass/internal/config"
)

var cli struct {
	Config string `help:"path to the configuration file" default:"qibla_config.txt" type:"path"`
	Mock   bool   `help:"use the simulated heading source instead of the configured ones"`
}

func main() {
	kong.Parse(&cli,
		kong.Description("Qibla compass: heading, Qibla bearing and alignment feedback"),
		kong.UsageOnError())

	log.Println("starting qibla compass")

	if err := config.InitGlobal(cli.Config); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunCompass(cli.Mock); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
