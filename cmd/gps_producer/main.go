package main

import (
	"log"

	"github.com/alecthomas/kong"

	"github.com/relabs-tech/qibla_compass/internal/app"
	"github.com/relabs-tech/qibla_compass/internal/config"
)

var cli struct {
	Config string `help:"path to the configuration file" default:"qibla_config.txt" type:"path"`
}

func main() {
	kong.Parse(&cli,
		kong.Description("Reads NMEA fixes from the GPS receiver and publishes them over MQTT"),
		kong.UsageOnError())

	log.Println("starting GPS producer")

	if err := config.InitGlobal(cli.Config); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunGPSProducer(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
