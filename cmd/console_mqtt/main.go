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
		kong.Description("Prints heading, alignment, status and GPS messages from the broker"),
		kong.UsageOnError())

	log.Println("starting qibla compass MQTT console")

	if err := config.InitGlobal(cli.Config); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
