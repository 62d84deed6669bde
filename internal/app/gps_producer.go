package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/gps"
)

// RunGPSProducer opens the GPS serial port, parses NMEA sentences, and
// publishes combined GPS fixes as JSON to the configured GPS topic.
func RunGPSProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("gps: configuration not initialized")
	}
	if cfg.GPSSerialPort == "" {
		return errors.New("gps: GPS_SERIAL_PORT is required")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDGPS)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	port, err := gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
	if err != nil {
		return err
	}
	log.Printf("gps: serial port opened on %s at %d baud", cfg.GPSSerialPort, cfg.GPSBaudRate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// closing the port unblocks the pending read
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	var published int
	err = gps.ReadFixes(ctx, port, func(f gps.Fix) {
		payload, err := json.Marshal(f)
		if err != nil {
			log.Printf("gps: JSON marshal error: %v", err)
			return
		}

		token := client.Publish(cfg.TopicGPS, 0, true, payload)
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("gps: publish timed out")
			return
		}
		if token.Error() != nil {
			log.Printf("gps: publish error: %v", token.Error())
			return
		}

		if published == 0 {
			log.Printf("gps: first fix published: %+v", f)
		}
		published++
	})

	if ctx.Err() != nil {
		log.Printf("gps: shutting down after %d fixes", published)
		return nil
	}
	return err
}
