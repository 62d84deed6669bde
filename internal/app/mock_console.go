// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/geo"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/prefs"
)

const mockConsoleIntervalMs = 100

// RunMockConsole drives a compass session from the simulated heading source
// and prints every update until interrupted. No broker or hardware is needed.
func RunMockConsole(observer geo.Coordinate) error {
	agg := heading.NewAggregator([]heading.Source{heading.NewMockSource()}, heading.Options{})

	p := prefs.Default()
	p.HeadingIntervalMs = mockConsoleIntervalMs
	session := compass.New(agg, compass.Options{Preferences: p})
	defer session.Close()

	if err := session.SetObserver(observer); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	unsubscribe := session.Subscribe(func(u compass.Update) {
		fmt.Println(formatUpdate(u))
	})
	defer unsubscribe()

	session.Start()
	<-ctx.Done()
	return nil
}

func formatUpdate(u compass.Update) string {
	if u.Alignment == nil {
		return fmt.Sprintf("HDG=%6.2f  QIBLA=  ---", u.Reading.Heading)
	}
	a := u.Alignment
	line := fmt.Sprintf("HDG=%6.2f  QIBLA=%6.2f  DELTA=%+7.2f  %s",
		u.Reading.Heading, a.Target, a.SignedDelta, a.Direction)
	if u.Haptic {
		line += "  *pulse*"
	}
	return line
}
