package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/gps"
)

// RunConsoleMQTT prints what a running compass publishes.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("console: configuration not initialized")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	err = subscribe(client, cfg.TopicHeading, func(_ mqtt.Client, msg mqtt.Message) {
		var m HeadingMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("console: heading unmarshal error: %v", err)
			return
		}
		fmt.Println(formatHeading(m))
	})
	if err != nil {
		return err
	}

	err = subscribe(client, cfg.TopicAlignment, func(_ mqtt.Client, msg mqtt.Message) {
		var m AlignmentMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("console: alignment unmarshal error: %v", err)
			return
		}
		fmt.Println(formatAlignment(m))
	})
	if err != nil {
		return err
	}

	err = subscribe(client, cfg.TopicStatus, func(_ mqtt.Client, msg mqtt.Message) {
		var m StatusMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}
		fmt.Printf("[STAT] heading=%s error=%q\n", m.Heading, m.Error)
	})
	if err != nil {
		return err
	}

	err = subscribe(client, cfg.TopicGPS, func(_ mqtt.Client, msg mqtt.Message) {
		f, err := gps.DecodeFix(msg.Payload())
		if err != nil {
			log.Printf("console: %v", err)
			return
		}
		fmt.Printf(
			"[GPS ] time=%s date=%s lat=%.6f lon=%.6f sats=%d validity=%s\n",
			f.Time, f.Date, f.Latitude, f.Longitude, f.Satellites, f.Validity,
		)
	})
	if err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatHeading(m HeadingMessage) string {
	calib := ""
	if m.NeedsCalibration {
		calib = "  (calibrate)"
	}
	return fmt.Sprintf("[HDG ] %6.2f°  mag=%6.2f°  decl=%+5.2f°  src=%s%s",
		m.Heading, m.Magnetic, m.Declination, m.Source, calib)
}

func formatAlignment(m AlignmentMessage) string {
	marker := ""
	if m.Haptic {
		marker = "  *"
	}
	return fmt.Sprintf("[QIB ] target=%6.2f°  delta=%+7.2f°  %-10s  %.0f km%s",
		m.Target, m.SignedDelta, m.Direction, m.DistanceKm, marker)
}
