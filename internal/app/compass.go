// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/declination"
	"github.com/relabs-tech/qibla_compass/internal/geo"
	"github.com/relabs-tech/qibla_compass/internal/gps"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/prefs"
	"github.com/relabs-tech/qibla_compass/internal/sensors"
)

const shutdownTimeout = 2 * time.Second

// RunCompass runs the Qibla compass until SIGINT or SIGTERM. With mock set,
// the configured sources are replaced by the simulated one.
func RunCompass(mock bool) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("compass: configuration not initialized")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDCompass)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	names := cfg.Sources
	if mock {
		names = []string{"mock"}
	}

	var hw *sensors.Hardware
	if wantsHardware(names) {
		hw, err = sensors.OpenHardware(sensors.HardwareConfig{
			MagI2CBus:    cfg.MagI2CBus,
			MagI2CAddr:   cfg.MagI2CAddr,
			IMUSPIDevice: cfg.IMUSPIDevice,
			IMUCSPin:     cfg.IMUCSPin,

			MagCalibrationFile: cfg.MagCalibrationFile,
		})
		if err != nil {
			log.Printf("compass: sensors unavailable: %v", err)
		} else {
			defer hw.Close()
		}
	}

	variation := &gps.VariationProvider{}
	agg := heading.NewAggregator(buildSources(names, hw, client, cfg.TopicPlatformHeading), heading.Options{
		IntervalMs:    cfg.HeadingIntervalMs,
		NoDataTimeout: time.Duration(cfg.SourceTimeoutMs) * time.Millisecond,
		RetryBackoff:  time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		MaxAttempts:   cfg.MaxAttempts,
		Estimator:     declination.NewEstimator(variation),
	})

	session := compass.New(agg, compass.Options{Preferences: loadPreferences(cfg)})
	defer session.Close()

	publisher := NewPublisher(client, cfg.TopicHeading, cfg.TopicAlignment, cfg.TopicStatus)
	defer publisher.Attach(session)()

	var savePrefs func(prefs.Preferences) error
	if cfg.PrefsFile != "" {
		savePrefs = func(p prefs.Preferences) error { return prefs.Save(cfg.PrefsFile, p) }
	}
	hub := NewHub(session, savePrefs)
	defer hub.Attach(session)()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.ManualLocated {
		observer := geo.Coordinate{Latitude: cfg.ManualLat, Longitude: cfg.ManualLon}
		if err := session.SetObserver(observer); err != nil {
			return err
		}
		log.Printf("compass: manual location %s, Qibla bearing %.1f°", observer, geo.QiblaBearing(observer))
	} else {
		session.SetLocationError(fmt.Errorf("%w: waiting for GPS fix", compass.ErrLocationUnavailable))
		tracker := newLocationTracker(session, variation)
		if err := subscribe(client, cfg.TopicGPS, tracker.onMessage); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.PrefsFile != "" {
		w, err := prefs.NewWatcher(cfg.PrefsFile)
		if err != nil {
			log.Printf("compass: preferences watcher disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				watchPreferences(ctx, w, cfg.PrefsFile, session)
			}()
		}
	}

	if cfg.DisplayEnabled {
		disp, err := openDisplay(cfg.DisplayI2CBus)
		if err != nil {
			log.Printf("compass: display disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer disp.Close()
				runDisplay(ctx, disp, hub)
			}()
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: hub.Handler("web"),
	}
	go func() {
		log.Printf("compass: web server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("compass: web server error: %v", err)
			cancel()
		}
	}()

	session.Start()

	<-ctx.Done()
	log.Println("compass: shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("compass: web server shutdown: %v", err)
	}
	return nil
}

func wantsHardware(names []string) bool {
	for _, n := range names {
		if n == "tilt" || n == "mag" {
			return true
		}
	}
	return false
}

// buildSources turns the configured source names into heading sources,
// skipping those whose hardware is missing.
func buildSources(names []string, hw *sensors.Hardware, client mqtt.Client, platformTopic string) []heading.Source {
	var sources []heading.Source
	for _, name := range names {
		switch name {
		case "tilt":
			if hw == nil || hw.IMURawReader() == nil {
				log.Printf("compass: tilt source needs accelerometer and magnetometer, skipping")
				continue
			}
			sources = append(sources, heading.NewTiltCompensatedSource(hw.IMURawReader()))
		case "mag":
			if hw == nil || hw.MagReader() == nil {
				log.Printf("compass: magnetometer source has no sensor, skipping")
				continue
			}
			sources = append(sources, heading.NewMagnetometerSource(hw.MagReader()))
		case "platform":
			sources = append(sources, heading.NewPlatformSource(heading.NewMQTTCompass(client, platformTopic)))
		case "mock":
			sources = append(sources, heading.NewMockSource())
		}
	}
	return sources
}

// loadPreferences reads the preference file, falling back to the defaults
// from the configuration when it does not exist yet.
func loadPreferences(cfg *config.Config) prefs.Preferences {
	fromConfig := prefs.Preferences{
		ToleranceDeg:        cfg.ToleranceDeg,
		HeadingIntervalMs:   cfg.HeadingIntervalMs,
		HapticsEnabled:      cfg.Haptics,
		ReduceMotionEnabled: cfg.ReduceMotion,
	}.Normalize()

	if cfg.PrefsFile == "" {
		return fromConfig
	}
	if _, err := os.Stat(cfg.PrefsFile); errors.Is(err, os.ErrNotExist) {
		return fromConfig
	}

	p, err := prefs.Load(cfg.PrefsFile)
	if err != nil {
		log.Printf("compass: %v, using configured defaults", err)
		return fromConfig
	}
	return p
}

// watchPreferences reloads the preference file on every change and pushes
// it into the session until ctx is done.
func watchPreferences(ctx context.Context, w *prefs.Watcher, path string, s *compass.Session) {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.Watch():
			if !ok {
				return
			}
			p, err := prefs.Load(path)
			if err != nil {
				log.Printf("compass: preferences reload failed: %v", err)
				continue
			}
			s.ApplyPreferences(p)
		}
	}
}
